package nodegroup

import (
	"context"
	"errors"
)

var (
	// ErrResourceExhausted is returned by backends that have no room for another unit.
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNotFound          = errors.New("node group not found")
)

// Backend is the capability interface every infrastructure backend implements
// for each node group it registers.
type Backend interface {
	// FetchInstances lists the instances currently known to the backend for this group.
	FetchInstances(ctx context.Context) ([]Instance, error)
	// AllocateNode reserves and starts a new unit named name.
	// Capacity failures should wrap ErrResourceExhausted.
	AllocateNode(ctx context.Context, name string) error
	// RemoveNode tears the unit down and blocks until it is gone on the backend.
	RemoveNode(ctx context.Context, name string) error
	// ResolveAddress returns the address provisioning jobs use to reach the unit.
	ResolveAddress(ctx context.Context, name string) (string, error)
}
