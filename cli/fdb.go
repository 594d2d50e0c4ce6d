package cli

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/carlmontanari/fdbfwd/fdbfwd"
	"github.com/urfave/cli/v2"
)

const (
	idFlag         = "id"
	pinFlag        = "pin"
	nameFlag       = "name"
	dbFlag         = "db"
	maxEntriesFlag = "max-entries"
	vlanFlag       = "vlan"
	macFlag        = "mac"
	deviceFlag     = "device"
	ifindexFlag    = "ifindex"
)

func tableFlags() []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{
			Name:  idFlag,
			Usage: "id of the kernel fdb map",
		},
		&cli.StringFlag{
			Name:  pinFlag,
			Usage: "bpffs path the kernel fdb map is pinned at",
		},
		&cli.StringFlag{
			Name:  nameFlag,
			Usage: "name of the kernel fdb map, used when neither id nor pin is given",
			Value: fdbfwd.DefaultMapName,
		},
		&cli.StringFlag{
			Name:  dbFlag,
			Usage: "use the bolt db file at this path instead of a kernel map",
		},
		&cli.IntFlag{
			Name:  maxEntriesFlag,
			Usage: "table capacity for new maps and bolt files",
			Value: fdbfwd.DefaultMaxEntries,
		},
	}
}

func keyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{
			Name:     vlanFlag,
			Usage:    "vlan id, 1-4094",
			Required: true,
		},
		&cli.StringFlag{
			Name:     macFlag,
			Usage:    "destination mac address",
			Required: true,
		},
	}
}

func fdbCommand() *cli.Command {
	return &cli.Command{
		Name:   "fdb",
		Usage:  "manage forwarding database entries",
		Before: setupCommandLogging,
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "add or update the entry for a vlan and mac",
				Flags: append(
					append(tableFlags(), keyFlags()...),
					&cli.StringFlag{
						Name:  deviceFlag,
						Usage: "output interface name or alias",
					},
					&cli.UintFlag{
						Name:  ifindexFlag,
						Usage: "output interface index, used when no device is given",
					},
				),
				Action: fdbAdd,
			},
			{
				Name:   "del",
				Usage:  "delete the entry for a vlan and mac",
				Flags:  append(tableFlags(), keyFlags()...),
				Action: fdbDel,
			},
			{
				Name:   "get",
				Usage:  "show the entry for a vlan and mac",
				Flags:  append(tableFlags(), keyFlags()...),
				Action: fdbGet,
			},
			{
				Name:   "list",
				Usage:  "show all entries",
				Flags:  tableFlags(),
				Action: fdbList,
			},
			{
				Name:   "flush",
				Usage:  "delete all entries",
				Flags:  tableFlags(),
				Action: fdbFlush,
			},
			{
				Name:   "create",
				Usage:  "create a new kernel fdb map pinned at --pin",
				Flags:  tableFlags(),
				Action: fdbCreate,
			},
		},
	}
}

func openTable(ctx *cli.Context) (fdbfwd.Table, error) {
	if db := ctx.String(dbFlag); db != "" {
		return fdbfwd.OpenBoltTable(db, fdbfwd.BoltOptions{MaxEntries: ctx.Int(maxEntriesFlag)})
	}

	return fdbfwd.OpenTable(fdbfwd.TableConfig{
		Backend: fdbfwd.BackendKernel,
		ID:      uint32(ctx.Uint(idFlag)),
		Path:    ctx.String(pinFlag),
		Name:    ctx.String(nameFlag),
	})
}

func withTable(ctx *cli.Context, f func(t fdbfwd.Table) error) error {
	t, err := openTable(ctx)
	if err != nil {
		return err
	}

	err = f(t)

	closeErr := t.Close()
	if err == nil {
		err = closeErr
	}

	return err
}

func keyFromFlags(ctx *cli.Context) (fdbfwd.Key, error) {
	mac, err := net.ParseMAC(ctx.String(macFlag))
	if err != nil {
		return fdbfwd.Key{}, fmt.Errorf("%w: %s", fdbfwd.ErrInvalidKey, err)
	}

	vlan := ctx.Uint(vlanFlag)
	if vlan > fdbfwd.MaxVLANID {
		return fdbfwd.Key{}, fmt.Errorf("%w: vlan %d out of range", fdbfwd.ErrInvalidKey, vlan)
	}

	return fdbfwd.NewKey(uint16(vlan), mac)
}

func fdbAdd(ctx *cli.Context) error {
	k, err := keyFromFlags(ctx)
	if err != nil {
		return err
	}

	ifindex := uint32(ctx.Uint(ifindexFlag))

	if device := ctx.String(deviceFlag); device != "" {
		ifindex, err = fdbfwd.InterfaceIndex(device)
		if err != nil {
			return err
		}
	}

	if ifindex == 0 {
		return cli.Exit("an output --device or --ifindex is required", 1)
	}

	return withTable(ctx, func(t fdbfwd.Table) error {
		err = t.Put(k, ifindex)
		if err != nil {
			return err
		}

		fmt.Printf("%s\n", fdbfwd.Entry{Key: k, Ifindex: ifindex}) //nolint:forbidigo

		return nil
	})
}

func fdbDel(ctx *cli.Context) error {
	k, err := keyFromFlags(ctx)
	if err != nil {
		return err
	}

	return withTable(ctx, func(t fdbfwd.Table) error {
		return t.Delete(k)
	})
}

func fdbGet(ctx *cli.Context) error {
	k, err := keyFromFlags(ctx)
	if err != nil {
		return err
	}

	return withTable(ctx, func(t fdbfwd.Table) error {
		ifindex, lookupErr := t.Lookup(k)
		if errors.Is(lookupErr, fdbfwd.ErrKeyNotExist) {
			return cli.Exit(fmt.Sprintf("no entry for %s", k), 1)
		}

		if lookupErr != nil {
			return lookupErr
		}

		fmt.Printf("%s\n", fdbfwd.Entry{Key: k, Ifindex: ifindex}) //nolint:forbidigo

		return nil
	})
}

func sortEntries(entries []fdbfwd.Entry) {
	slices.SortFunc(entries, func(a, b fdbfwd.Entry) int {
		if c := cmp.Compare(a.Key.VLAN, b.Key.VLAN); c != 0 {
			return c
		}

		return bytes.Compare(a.Key.MAC[:], b.Key.MAC[:])
	})
}

func fdbList(ctx *cli.Context) error {
	return withTable(ctx, func(t fdbfwd.Table) error {
		entries, err := t.Entries()
		if err != nil {
			return err
		}

		sortEntries(entries)

		for _, e := range entries {
			fmt.Printf("%s\n", e) //nolint:forbidigo
		}

		return nil
	})
}

func fdbFlush(ctx *cli.Context) error {
	return withTable(ctx, func(t fdbfwd.Table) error {
		entries, err := t.Entries()
		if err != nil {
			return err
		}

		for _, e := range entries {
			err = t.Delete(e.Key)
			if err != nil && !errors.Is(err, fdbfwd.ErrKeyNotExist) {
				return err
			}
		}

		fmt.Printf("flushed %d entries\n", len(entries)) //nolint:forbidigo

		return nil
	})
}

func fdbCreate(ctx *cli.Context) error {
	// an unpinned map is freed by the kernel as soon as we exit
	if ctx.String(pinFlag) == "" {
		return cli.Exit("create needs --pin, an unpinned map does not outlive this command", 1)
	}

	t, err := fdbfwd.CreateMapTable(
		ctx.String(nameFlag), ctx.String(pinFlag), ctx.Int(maxEntriesFlag),
	)
	if err != nil {
		return err
	}

	h := t.Handle()

	fmt.Printf("created map %q id %d\n", h.Name(), h.ID()) //nolint:forbidigo

	return t.Close()
}
