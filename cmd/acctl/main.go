package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "acctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "acctl",
		Usage: "control the account chooser daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "profile", Value: "./_dev_profile", Usage: "profile directory"},
			&cli.StringFlag{Name: "socket", Usage: "override socket path"},
			&cli.DurationFlag{Name: "timeout", Value: defaultTimeout, Usage: "daemon call timeout"},
		},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "initialize a local profile (writes config.toml)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Value: "dev", Usage: "profile name"},
					&cli.BoolFlag{Name: "force", Usage: "overwrite existing config"},
				},
				Action: initCommand,
			},
			{Name: "ping", Usage: "check the daemon is up", Action: pingCommand},
			{
				Name:  "accounts",
				Usage: "list stored accounts",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "remove", Usage: "email of an account to remove"},
				},
				Action: accountsCommand,
			},
			{Name: "disable", Usage: "refuse client requests", Action: setDisabled(true)},
			{Name: "enable", Usage: "accept client requests", Action: setDisabled(false)},
			{
				Name:      "bootstrap-domain",
				Usage:     "record the domain that bootstrapped this profile",
				ArgsUsage: "<domain>",
				Action:    bootstrapDomainCommand,
			},
			{
				Name:      "send",
				Usage:     "post a JSON-RPC message to the relay frame as a client page",
				ArgsUsage: "<json>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "origin", Required: true, Usage: "client page origin"},
					&cli.StringFlag{Name: "token", Usage: "frame token; a new one is generated when empty"},
				},
				Action: sendCommand,
			},
			{
				Name:  "replay",
				Usage: "open the chooser page for a client domain",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "domain", Required: true, Usage: "client domain"},
					&cli.BoolFlag{Name: "confirm", Usage: "accept the request"},
					&cli.StringFlag{Name: "email", Usage: "account to select"},
				},
				Action: replayCommand,
			},
			{
				Name:  "export",
				Usage: "dump persisted state to a JSON file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Usage: "output path, relative to the profile"},
				},
				Action: exportCommand,
			},
			{Name: "diag", Usage: "print profile configuration and daemon status", Action: diagCommand},
		},
	}
}
