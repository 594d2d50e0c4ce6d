package cli

import (
	"fmt"

	"github.com/carlmontanari/fdbfwd/fdbfwd"
	"github.com/urfave/cli/v2"
)

const (
	configFlag     = "config"
	liveReloadFlag = "live-reload"
	debugFlag      = "debug"
)

// ShowVersion shows the fdbfwd version information.
func ShowVersion(_ *cli.Context) {
	fmt.Printf("\tversion: %s\n", fdbfwd.Version)                            //nolint:forbidigo
	fmt.Printf("\tsource : %s\n", "https://github.com/carlmontanari/fdbfwd") //nolint:forbidigo
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     configFlag,
			Usage:    "fdbfwd configuration file to load",
			Required: false,
			Value:    "fdbfwd.yaml",
		},
		&cli.BoolFlag{
			Name:  liveReloadFlag,
			Usage: "watch the config file (and bolt table) and apply changes while running",
		},
		&cli.BoolFlag{
			Name:  debugFlag,
			Usage: "enable debug logging and per frame redirect logs",
		},
	}
}

func run(ctx *cli.Context) error {
	m, err := fdbfwd.GetManager(
		fdbfwd.WithConfigFile(ctx.String(configFlag)),
		fdbfwd.WithLiveReload(ctx.Bool(liveReloadFlag)),
		fdbfwd.WithDebug(ctx.Bool(debugFlag)),
	)
	if err != nil {
		return err
	}

	return m.Run()
}

// Entrypoint returns the fdbfwd cli app. Without a command it loads the fdbfwd config, creates
// the relay manager and runs it.
func Entrypoint() *cli.App {
	cli.VersionPrinter = ShowVersion

	return &cli.App{
		Name:    "fdbfwd",
		Version: fdbfwd.Version,
		Usage:   "vlan aware l2 forwarding from a shared forwarding database",
		Flags:   runFlags(),
		Action:  run,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the relay on the configured ports",
				Flags:  runFlags(),
				Action: run,
			},
			fdbCommand(),
			resolveCommand(),
			objectsCommand(),
			tapFwdCommand(),
		},
	}
}

// setupCommandLogging is the Before hook for the table and object commands, which have no config
// file to read log settings from.
func setupCommandLogging(ctx *cli.Context) error {
	return fdbfwd.SetupLogging(fdbfwd.LogConfig{Level: "warning"}, ctx.Bool(debugFlag))
}
