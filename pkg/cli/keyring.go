package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName     = "ch.draiv.gateway"
	keyringPasswordService = "accountpassword"
	keyringPINService      = "spin"
	keyringDirectory       = "~/.draiv_keys"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

// promptPassword reads a secret from the terminal without echo. It doubles as the
// keyring's file/keychain password callback.
func (c *Config) promptPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}

	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	return string(b), nil
}

// PromptSecret interactively reads a secret without echoing it.
func (c *Config) PromptSecret(prompt string) (string, error) {
	saved := c.password
	c.password = nil
	secret, err := c.promptPassword(prompt)
	c.password = saved
	return secret, err
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	return keyring.Open(c.Backend)
}

func (c *Config) credentialKey(service string) string {
	name := c.CredentialName
	if name == "" {
		name = c.Username
	}
	return service + "." + name
}

// AccountPassword resolves the account password: keyring first, interactive prompt
// as the fallback. A prompted password is not written back automatically; use
// SavePasswordToKeyring for that.
func (c *Config) AccountPassword() (string, error) {
	if password, err := c.LoadPasswordFromKeyring(); err == nil && password != "" {
		return password, nil
	}
	password, err := c.PromptSecret("Account password")
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", fmt.Errorf("no password provided")
	}
	return password, nil
}

// LoadPasswordFromKeyring loads the account password from the system keyring.
//
// The credential name must match the value provided to SavePasswordToKeyring.
func (c *Config) LoadPasswordFromKeyring() (string, error) {
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(c.credentialKey(keyringPasswordService))
	if err != nil {
		return "", fmt.Errorf("could not load password: %s", err)
	}
	return string(item.Data), nil
}

// SavePasswordToKeyring writes the account password to the system keyring.
func (c *Config) SavePasswordToKeyring(password string) error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{
		Key:  c.credentialKey(keyringPasswordService),
		Data: []byte(password),
	}); err != nil {
		return fmt.Errorf("failed to enroll password in keyring: %s", err)
	}
	return nil
}

// LoadPINFromKeyring loads the S-PIN from the system keyring.
func (c *Config) LoadPINFromKeyring() (string, error) {
	if c.pin != nil && *c.pin != "" {
		return *c.pin, nil
	}
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(c.credentialKey(keyringPINService))
	if err != nil {
		return "", fmt.Errorf("could not load S-PIN: %s", err)
	}
	pin := string(item.Data)
	c.pin = &pin
	return pin, nil
}

// SavePINToKeyring writes the S-PIN to the system keyring.
func (c *Config) SavePINToKeyring(pin string) error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{
		Key:  c.credentialKey(keyringPINService),
		Data: []byte(pin),
	}); err != nil {
		return fmt.Errorf("failed to enroll S-PIN in keyring: %s", err)
	}
	c.pin = &pin
	return nil
}

// DeletePIN removes the S-PIN from the system keyring.
func (c *Config) DeletePIN() error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	c.pin = nil
	return kr.Remove(c.credentialKey(keyringPINService))
}
