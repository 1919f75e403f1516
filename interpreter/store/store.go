// Package store holds errors shared by hardware layer implementations.
package store

import (
	"github.com/frobware/go-bfrt"
)

type notFound struct{}

func (notFound) Error() string { return "not found" }

func (notFound) Is(target error) bool { return target == bfrt.ErrObjectNotFound }

// ErrNotFound is returned by the hardware layer when a handle, key,
// member or group is not installed. It also matches
// bfrt.ErrObjectNotFound.
var ErrNotFound error = notFound{}
