package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestFdbCreateRequiresPin(t *testing.T) {
	app := Entrypoint()
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	app.ErrWriter = &bytes.Buffer{}

	err := app.Run([]string{"fdbfwd", "fdb", "create", "--name", "tc_fdb_map"})
	require.Error(t, err)

	exitErr, ok := err.(cli.ExitCoder) //nolint:errorlint
	require.True(t, ok)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, err.Error(), "--pin")
}
