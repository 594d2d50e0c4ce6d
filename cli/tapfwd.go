package cli

import (
	"github.com/carlmontanari/fdbfwd/fdbfwd"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func tapFwdCommand() *cli.Command {
	return &cli.Command{
		Name:      "tapfwd",
		Usage:     "copy frames between two tap devices until interrupted",
		ArgsUsage: "<tap1> <tap2> [netns]",
		Before:    setupCommandLogging,
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 2 && ctx.NArg() != 3 { //nolint:gomnd
				return cli.Exit("usage: fdbfwd tapfwd <tap1> <tap2> [netns]", 1)
			}

			sigCtx, cancel := fdbfwd.SignalHandledContext(log.Printf)
			defer cancel()

			return fdbfwd.NewTapRelay(
				ctx.Args().Get(0), ctx.Args().Get(1), ctx.Args().Get(2),
			).Run(sigCtx)
		},
	}
}
