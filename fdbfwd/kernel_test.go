package fdbfwd

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestKindFromLink(t *testing.T) {
	cases := map[string]Kind{
		"anon_inode:bpf-map":  KindMap,
		"anon_inode:bpf-prog": KindProgram,
		"anon_inode:bpf_link": KindLink,
		"anon_inode:bpf-link": KindLink,
		"socket:[12345]":      KindUnknown,
		"/dev/null":           KindUnknown,
	}

	for target, want := range cases {
		assert.Equal(t, want, kindFromLink(target), target)
	}
}

func TestNotFoundOr(t *testing.T) {
	err := notFoundOr(unix.ENOENT, "map id %d", 7)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "map id 7")

	err = notFoundOr(os.ErrNotExist, "program id %d", 3)
	require.ErrorIs(t, err, ErrNotFound)

	err = notFoundOr(unix.EPERM, "map id %d", 7)
	require.False(t, errors.Is(err, ErrNotFound))
	require.ErrorIs(t, err, unix.EPERM)
}
