package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/draiv/vehicle-gateway/internal/log"
	"github.com/draiv/vehicle-gateway/internal/metrics"
	"github.com/draiv/vehicle-gateway/internal/server"
	"github.com/draiv/vehicle-gateway/pkg/authorize"
	"github.com/draiv/vehicle-gateway/pkg/backend/oemrest"
	"github.com/draiv/vehicle-gateway/pkg/fingerprint"
	"github.com/draiv/vehicle-gateway/pkg/gateway"
)

const defaultPort = 8080

const (
	EnvHost             = "DRAIV_GATEWAY_HOST"
	EnvPort             = "DRAIV_GATEWAY_PORT"
	EnvBackendURL       = "DRAIV_BACKEND_URL"
	EnvConfigFile       = "DRAIV_GATEWAY_CONFIG"
	EnvFingerprintFile  = "DRAIV_FINGERPRINT_FILE"
	EnvPINVerifierURL   = "DRAIV_PIN_VERIFIER_URL"
	EnvChallengeService = "DRAIV_CHALLENGE_URL"
	EnvVerbose          = "DRAIV_VERBOSE"
)

type gatewayFlags struct {
	host            string
	port            int
	backendURL      string
	configFile      string
	fingerprintFile string
	verbose         bool
}

var flags = &gatewayFlags{}

func init() {
	flag.StringVar(&flags.host, "host", "localhost", "Server `hostname`")
	flag.IntVar(&flags.port, "port", defaultPort, "`Port` to listen on")
	flag.StringVar(&flags.backendURL, "backend", "", "Base `URL` of the OEM connected-car cloud")
	flag.StringVar(&flags.configFile, "config", "", "YAML configuration `file`")
	flag.StringVar(&flags.fingerprintFile, "fingerprint-file", "", "Bolt `file` persisting the deployment fingerprint; omit to use the system keyring")
	flag.BoolVar(&flags.verbose, "verbose", false, "Enable verbose logging")
}

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nA resilience and session gateway between vehicle-control clients and the OEM cloud")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	flag.PrintDefaults()
}

func main() {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}()

	flag.Usage = Usage
	flag.Parse()
	if err = readFromEnvironment(); err != nil {
		return
	}
	if flags.verbose {
		log.SetLevel(log.LevelDebug)
	}
	if flags.backendURL == "" {
		err = fmt.Errorf("no backend URL provided (use -backend or $%s)", EnvBackendURL)
		return
	}

	config, err := gateway.LoadConfig(flags.configFile)
	if err != nil {
		return
	}

	rotator, cleanup, err := buildRotator()
	if err != nil {
		return
	}
	defer cleanup()

	client := oemrest.New(flags.backendURL)
	pins, challenges := buildVerifiers()

	g := gateway.New(client, rotator, pins, challenges, config)
	m := metrics.New()
	g.SetMetrics(m)
	g.Breakers().Observer = m.BreakerTransition

	addr := fmt.Sprintf("%s:%d", flags.host, flags.port)
	log.Info("Listening on %s", addr)
	log.Info("Deployment fingerprint: %s", rotator.Fingerprint(context.Background()).Value)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.New(g, m).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Shutdown error: %s", err)
		}
	}()

	if serveErr := httpServer.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
		err = serveErr
		return
	}
	log.Info("Server stopped")
}

// buildRotator persists the fingerprint in a bolt file when one is configured, and
// in the system keyring otherwise. A store failure is not fatal: the rotator logs a
// degraded-durability warning and continues in memory.
func buildRotator() (*fingerprint.Rotator, func(), error) {
	if flags.fingerprintFile != "" {
		store, err := fingerprint.OpenBolt(flags.fingerprintFile)
		if err != nil {
			return nil, nil, fmt.Errorf("opening fingerprint store: %w", err)
		}
		return fingerprint.New(store, nil), func() { store.Close() }, nil
	}
	store, err := fingerprint.OpenKeyring("")
	if err != nil {
		log.Warning("System keyring unavailable, fingerprint will not survive restarts: %s", err)
		return fingerprint.New(nil, nil), func() {}, nil
	}
	return fingerprint.New(store, nil), func() {}, nil
}

// buildVerifiers wires the external secondary-secret providers. The HTTP verifier
// endpoints are deployment-specific; without one the gateway accepts no privileged
// commands rather than skipping verification.
func buildVerifiers() (authorize.PINVerifier, authorize.ChallengeVerifier) {
	var pins authorize.PINVerifier
	if url := os.Getenv(EnvPINVerifierURL); url != "" {
		pins = authorize.NewHTTPPINVerifier(url)
	} else {
		log.Warning("No PIN verifier configured ($%s); privileged commands will be refused", EnvPINVerifierURL)
		pins = authorize.PINVerifierFunc(func(context.Context, string, string) (bool, error) {
			return false, nil
		})
	}
	var challenges authorize.ChallengeVerifier
	if url := os.Getenv(EnvChallengeService); url != "" {
		challenges = authorize.NewHTTPChallengeVerifier(url)
	}
	return pins, challenges
}

// readFromEnvironment applies configuration from environment variables. Values set
// on the command line are not overwritten.
func readFromEnvironment() error {
	if flags.backendURL == "" {
		flags.backendURL = os.Getenv(EnvBackendURL)
	}
	if flags.configFile == "" {
		flags.configFile = os.Getenv(EnvConfigFile)
	}
	if flags.fingerprintFile == "" {
		flags.fingerprintFile = os.Getenv(EnvFingerprintFile)
	}
	if flags.host == "localhost" {
		if host, ok := os.LookupEnv(EnvHost); ok {
			flags.host = host
		}
	}
	if flags.port == defaultPort {
		if port, ok := os.LookupEnv(EnvPort); ok {
			parsed, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("invalid port: %s", port)
			}
			flags.port = parsed
		}
	}
	if !flags.verbose {
		if verbose, ok := os.LookupEnv(EnvVerbose); ok {
			flags.verbose = verbose != "false" && verbose != "0"
		}
	}
	return nil
}
