package fdbfwd

import (
	"errors"
)

// ErrBind is a generic error for bind issues -- like finding a requested interface or opening a
// packet socket on it.
var ErrBind = errors.New("errBind")

// ErrConfig is returned when a configuration file cannot be loaded or fails validation.
var ErrConfig = errors.New("errConfig")

// ErrInvalidKey is returned when an fdb key is not usable -- for example a vlan id outside of
// 1-4094.
var ErrInvalidKey = errors.New("errInvalidKey")

// ErrKeyNotExist is returned by Table implementations when a key has no entry.
var ErrKeyNotExist = errors.New("errKeyNotExist")

// ErrTableFull is returned when inserting a new key into a table that is at capacity.
var ErrTableFull = errors.New("errTableFull")

// ErrNotFound is returned by an ObjectSource when the requested object does not exist. The
// Resolver treats it as a soft miss and never surfaces it.
var ErrNotFound = errors.New("errNotFound")

// ErrAccess is a hard resolution error -- an underlying os, permission or io failure.
var ErrAccess = errors.New("errAccess")

// ErrWrongObjectType is returned when an id or path refers to an object of a different kind than
// the one requested.
var ErrWrongObjectType = errors.New("errWrongObjectType")
