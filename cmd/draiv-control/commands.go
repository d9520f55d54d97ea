package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/draiv/vehicle-gateway/pkg/cli"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrRequiresVIN     = errors.New("command requires a VIN")
	ErrUnknownCommand  = errors.New("unrecognized command")
)

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, client *cli.Client, config *cli.Config, args map[string]string) error

type Command struct {
	help        string
	requiresPIN bool // True if the gateway demands an S-PIN for this command
	requiresVIN bool
	args        []Argument
	optional    []Argument
	handler     Handler
}

// resolvePIN returns the S-PIN from the command arguments, the system keyring, or an
// interactive prompt, in that order.
func resolvePIN(config *cli.Config, args map[string]string) (string, error) {
	if pin, ok := args["pin"]; ok && pin != "" {
		return pin, nil
	}
	if pin, err := config.LoadPINFromKeyring(); err == nil && pin != "" {
		return pin, nil
	}
	return config.PromptSecret("S-PIN")
}

func readAction(action string) Handler {
	return func(ctx context.Context, client *cli.Client, config *cli.Config, args map[string]string) error {
		data, err := client.Read(ctx, config.VIN, action)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
}

func signalAction(action string) Handler {
	return func(ctx context.Context, client *cli.Client, config *cli.Config, args map[string]string) error {
		_, err := client.Command(ctx, config.VIN, action, "", "", nil)
		return err
	}
}

func privilegedAction(action string) Handler {
	return func(ctx context.Context, client *cli.Client, config *cli.Config, args map[string]string) error {
		pin, err := resolvePIN(config, args)
		if err != nil {
			return err
		}
		_, err = client.Command(ctx, config.VIN, action, pin, args["challenge"], nil)
		return err
	}
}

var pinArgs = []Argument{
	{name: "pin", help: "S-PIN; omit to use the keyring or an interactive prompt."},
	{name: "challenge", help: "Challenge token for the first privileged command of a session."},
}

var commands = map[string]*Command{
	"status": {
		help:        "Fetch vehicle status",
		requiresVIN: true,
		handler:     readAction("status"),
	},
	"location": {
		help:        "Fetch vehicle location",
		requiresVIN: true,
		handler:     readAction("location"),
	},
	"fuel-level": {
		help:        "Fetch fuel level",
		requiresVIN: true,
		handler:     readAction("fuel_level"),
	},
	"charge-state": {
		help:        "Fetch charging state",
		requiresVIN: true,
		handler:     readAction("charge_state"),
	},
	"mileage": {
		help:        "Fetch odometer reading",
		requiresVIN: true,
		handler:     readAction("mileage"),
	},
	"capabilities": {
		help:        "Fetch vehicle capabilities",
		requiresVIN: true,
		handler:     readAction("capabilities"),
	},
	"flash-lights": {
		help:        "Flash the headlights",
		requiresVIN: true,
		handler:     signalAction("flash_lights"),
	},
	"honk": {
		help:        "Honk the horn",
		requiresVIN: true,
		handler:     signalAction("honk_horn"),
	},
	"lock": {
		help:        "Lock the vehicle",
		requiresPIN: true,
		requiresVIN: true,
		optional:    pinArgs,
		handler:     privilegedAction("lock"),
	},
	"unlock": {
		help:        "Unlock the vehicle",
		requiresPIN: true,
		requiresVIN: true,
		optional:    pinArgs,
		handler:     privilegedAction("unlock"),
	},
	"climate-start": {
		help:        "Start climate preconditioning",
		requiresPIN: true,
		requiresVIN: true,
		optional:    pinArgs,
		handler:     privilegedAction("climate_start"),
	},
	"climate-stop": {
		help:        "Stop climate preconditioning",
		requiresPIN: true,
		requiresVIN: true,
		optional:    pinArgs,
		handler:     privilegedAction("climate_stop"),
	},
	"charge-start": {
		help:        "Start charging",
		requiresPIN: true,
		requiresVIN: true,
		optional:    pinArgs,
		handler:     privilegedAction("charge_start"),
	},
	"charge-stop": {
		help:        "Stop charging",
		requiresPIN: true,
		requiresVIN: true,
		optional:    pinArgs,
		handler:     privilegedAction("charge_stop"),
	},
	"logout": {
		help: "Destroy the gateway session for this owner",
		handler: func(ctx context.Context, client *cli.Client, config *cli.Config, args map[string]string) error {
			return client.Logout(ctx)
		},
	},
	"save-password": {
		help: "Store the account password in the system keyring",
		handler: func(ctx context.Context, client *cli.Client, config *cli.Config, args map[string]string) error {
			password, err := config.PromptSecret("Account password")
			if err != nil {
				return err
			}
			return config.SavePasswordToKeyring(password)
		},
	},
	"save-pin": {
		help: "Store the S-PIN in the system keyring",
		handler: func(ctx context.Context, client *cli.Client, config *cli.Config, args map[string]string) error {
			pin, err := config.PromptSecret("S-PIN")
			if err != nil {
				return err
			}
			if _, err := strconv.Atoi(pin); err != nil {
				return fmt.Errorf("S-PIN must be numeric")
			}
			return config.SavePINToKeyring(pin)
		},
	},
	"delete-pin": {
		help: "Remove the S-PIN from the system keyring",
		handler: func(ctx context.Context, client *cli.Client, config *cli.Config, args map[string]string) error {
			return config.DeletePIN()
		},
	},
}

func checkReadiness(commandName string, haveVIN bool) (*Command, error) {
	info, ok := commands[commandName]
	if !ok {
		return nil, ErrUnknownCommand
	}
	if info.requiresVIN && !haveVIN {
		return nil, ErrRequiresVIN
	}
	return info, nil
}

func execute(ctx context.Context, client *cli.Client, config *cli.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, err := checkReadiness(args[0], config.VIN != "")
	if err != nil {
		return err
	}

	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args), len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, client, config, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}
