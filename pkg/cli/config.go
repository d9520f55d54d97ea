/*
Package cli facilitates building command-line clients for the vehicle gateway. It
defines a [Config] type that can be used to register common command-line flags (using
the Golang flag package) and environment variable equivalents.

The package uses [keyring]'s platform-agnostic interface for storing sensitive values
(account passwords and S-PINs) in an OS-dependent credential store.

# Examples

	import flag

	config := cli.NewConfig(cli.FlagAll)
	config.RegisterCommandLineFlags() // Adds command-line flags for gateway URL, VIN, credentials.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables

	client, err := config.Client()    // Builds an authenticated gateway client.
	if err != nil {
		panic(err)
	}
*/
package cli

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/99designs/keyring"

	"github.com/draiv/vehicle-gateway/internal/log"
)

// Environment variable names used by [Config.ReadFromEnvironment] to set common
// parameters.
const (
	EnvGatewayURL      = "DRAIV_GATEWAY_URL"
	EnvVIN             = "DRAIV_VIN"
	EnvUsername        = "DRAIV_USERNAME"
	EnvOwnerID         = "DRAIV_OWNER_ID"
	EnvCredentialName  = "DRAIV_CREDENTIAL_NAME"
	EnvKeyringType     = "DRAIV_KEYRING_TYPE"
	EnvKeyringPassword = "DRAIV_KEYRING_PASSWORD"
	EnvKeyringPath     = "DRAIV_KEYRING_PATH"
	EnvKeyringDebug    = "DRAIV_KEYRING_DEBUG"
)

// Flag controls what options should be scanned from the command line and/or
// environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagVIN         Flag = 1 // Enable VIN option.
	FlagCredentials Flag = 2 // Enable account credential and S-PIN options.
	FlagGateway     Flag = 4 // Enable gateway URL option.
	FlagAll         Flag = FlagVIN | FlagCredentials | FlagGateway
)

// Config fields determine how a client authenticates to the gateway.
type Config struct {
	Flags      Flag   // Controls which set of environment variables/CLI flags to use.
	GatewayURL string // Base URL of the gateway, e.g. http://localhost:8080
	VIN        string
	Username   string
	OwnerID    string // Defaults to Username when empty.

	// CredentialName identifies the password and S-PIN entries in the system
	// keyring, so one machine can hold credentials for several accounts.
	CredentialName string

	Backend     keyring.Config
	BackendType backendType
	Debug       bool // Enable keyring debug messages

	password *string
	pin      *string
}

func NewConfig(flags Flag) *Config {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.promptPassword
	c.Backend.FilePasswordFunc = c.promptPassword
	return &c
}

func (c *Config) RegisterCommandLineFlags() {
	if c.Flags.isSet(FlagGateway) {
		flag.StringVar(&c.GatewayURL, "gateway", "", "Gateway base `URL`. Defaults to $DRAIV_GATEWAY_URL.")
	}
	if c.Flags.isSet(FlagVIN) {
		flag.StringVar(&c.VIN, "vin", "", "Vehicle Identification Number. Defaults to $DRAIV_VIN.")
	}
	if c.Flags.isSet(FlagCredentials) {
		flag.StringVar(&c.Username, "username", "", "Account `username`. Defaults to $DRAIV_USERNAME.")
		flag.StringVar(&c.OwnerID, "owner", "", "Owner `id` when managing several owners. Defaults to $DRAIV_OWNER_ID.")
		flag.StringVar(&c.CredentialName, "credential-name", "", "System keyring `name` for stored credentials. Defaults to $DRAIV_CREDENTIAL_NAME.")

		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		flag.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $DRAIV_KEYRING_TYPE.")
		flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		flag.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are
// already populated are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() will prevent the environment from
// overriding explicit command-line parameters.
func (c *Config) ReadFromEnvironment() {
	if c.Flags.isSet(FlagGateway) && c.GatewayURL == "" {
		c.GatewayURL = os.Getenv(EnvGatewayURL)
		log.Debug("Set gateway URL to '%s'", c.GatewayURL)
	}
	if c.Flags.isSet(FlagVIN) && c.VIN == "" {
		c.VIN = os.Getenv(EnvVIN)
		log.Debug("Set VIN to '%s'", c.VIN)
	}
	if c.Flags.isSet(FlagCredentials) {
		if c.Username == "" {
			c.Username = os.Getenv(EnvUsername)
			log.Debug("Set username to '%s'", c.Username)
		}
		if c.OwnerID == "" {
			c.OwnerID = os.Getenv(EnvOwnerID)
		}
		if c.CredentialName == "" {
			c.CredentialName = os.Getenv(EnvCredentialName)
		}
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			if password, ok := os.LookupEnv(EnvKeyringPassword); ok {
				c.password = &password
			}
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvKeyringPath)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
		}
	}
}

// Validate checks that the fields enabled by c.Flags are populated.
func (c *Config) Validate() error {
	if c.Flags.isSet(FlagGateway) && c.GatewayURL == "" {
		return fmt.Errorf("gateway URL not provided (use -gateway or $%s)", EnvGatewayURL)
	}
	if c.Flags.isSet(FlagCredentials) && c.Username == "" {
		return fmt.Errorf("username not provided (use -username or $%s)", EnvUsername)
	}
	return nil
}

// Owner returns the effective owner identity.
func (c *Config) Owner() string {
	if c.OwnerID != "" {
		return c.OwnerID
	}
	return c.Username
}

// Client builds a gateway client from the resolved configuration, prompting for the
// account password if it is not in the keyring.
func (c *Config) Client() (*Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	password, err := c.AccountPassword()
	if err != nil {
		return nil, err
	}
	return NewClient(c.GatewayURL, c.Username, password, c.Owner()), nil
}
