package cli

import (
	"fmt"

	"github.com/carlmontanari/fdbfwd/fdbfwd"
	"github.com/urfave/cli/v2"
)

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:   "resolve",
		Usage:  "find a live map or program by id, pin path or name",
		Before: setupCommandLogging,
		Subcommands: []*cli.Command{
			{
				Name:   "map",
				Usage:  "resolve a map, by --id, --pin or --name in that order",
				Flags:  resolveFlags("map"),
				Action: resolveAction(fdbfwd.KindMap, "map"),
			},
			{
				Name:   "prog",
				Usage:  "resolve a program, by --id, --pin or --name in that order",
				Flags:  resolveFlags("program"),
				Action: resolveAction(fdbfwd.KindProgram, "program"),
			},
		},
	}
}

func resolveFlags(objectName string) []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{Name: idFlag, Usage: objectName + " id"},
		&cli.StringFlag{Name: pinFlag, Usage: "bpffs pin path"},
		&cli.StringFlag{Name: nameFlag, Usage: objectName + " name"},
	}
}

func requestFromFlags(ctx *cli.Context, description string) fdbfwd.Request {
	return fdbfwd.Request{
		ID:          uint32(ctx.Uint(idFlag)),
		Path:        ctx.String(pinFlag),
		Name:        ctx.String(nameFlag),
		Description: description,
	}
}

func resolveAction(kind fdbfwd.Kind, description string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		h, err := fdbfwd.NewResolver(fdbfwd.KernelObjects{}).Resolve(
			kind, requestFromFlags(ctx, description),
		)

		return printResolved(h, err)
	}
}

func printResolved(h fdbfwd.Handle, err error) error {
	if err != nil {
		return err
	}

	if h == nil {
		return cli.Exit("not found", 1)
	}

	defer h.Close()

	fmt.Printf("%s id %d name %q\n", h.Kind(), h.ID(), h.Name()) //nolint:forbidigo

	return nil
}

func objectsCommand() *cli.Command {
	return &cli.Command{
		Name:      "objects",
		Usage:     "list live maps or programs",
		ArgsUsage: "map|prog",
		Before:    setupCommandLogging,
		Action: func(ctx *cli.Context) error {
			var kind fdbfwd.Kind

			switch ctx.Args().First() {
			case "map", "":
				kind = fdbfwd.KindMap
			case "prog":
				kind = fdbfwd.KindProgram
			default:
				return cli.Exit(fmt.Sprintf("unknown object kind %q", ctx.Args().First()), 1)
			}

			for h, err := range fdbfwd.NewResolver(fdbfwd.KernelObjects{}).Objects(kind) {
				if err != nil {
					return err
				}

				fmt.Printf("%d\t%s\n", h.ID(), h.Name()) //nolint:forbidigo

				_ = h.Close()
			}

			return nil
		},
	}
}
