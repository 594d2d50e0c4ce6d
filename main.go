package main

import (
	"os"

	fdbfwdcli "github.com/carlmontanari/fdbfwd/cli"
)

func main() {
	err := fdbfwdcli.Entrypoint().Run(os.Args)
	if err != nil {
		panic(err)
	}
}
