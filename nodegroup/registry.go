package nodegroup

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// Group pairs a node group configuration with the backend serving it.
// Everything but the maximum size is immutable after registration.
type Group struct {
	config  Config
	backend Backend
	maxSize atomic.Int64
}

func (g *Group) ID() string {
	return g.config.ID
}

func (g *Group) Backend() Backend {
	return g.backend
}

// Config returns a snapshot of the group configuration, including the current maximum size.
func (g *Group) Config() Config {
	config := g.config
	config.MaxSize = g.MaxSize()
	return config
}

func (g *Group) MinSize() int {
	return g.config.MinSize
}

func (g *Group) MaxSize() int {
	return int(g.maxSize.Load())
}

// SetMaxSize lets a backend publish a new maximum size after probing its capacity.
// It never goes below the minimum size.
func (g *Group) SetMaxSize(size int) {
	g.maxSize.Store(int64(max(size, g.config.MinSize)))
}

// Prefix returns the instance name prefix of the group.
func (g *Group) Prefix() string {
	return InstancePrefix(g.config.ID)
}

// matches reports whether the instance name carries the group's prefix. A
// longer group id may carry it too, see Registry.Owns.
func (g *Group) matches(name string) bool {
	return strings.HasPrefix(name, g.Prefix())
}

// Registry is the list of node groups served by this process.
type Registry struct {
	mutex  sync.RWMutex
	groups []*Group
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a node group. Ids are expected to be unique; when they are not,
// lookups return the group registered first.
func (r *Registry) Register(config Config, backend Backend) (*Group, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("node group '%s': backend must not be nil", config.ID)
	}

	group := &Group{config: config, backend: backend}
	group.maxSize.Store(int64(config.MaxSize))

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.groups = append(r.groups, group)
	return group, nil
}

// Groups returns the registered groups in registration order.
func (r *Registry) Groups() []*Group {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]*Group(nil), r.groups...)
}

func (r *Registry) Get(id string) (*Group, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, group := range r.groups {
		if group.config.ID == id {
			return group, nil
		}
	}
	return nil, fmt.Errorf("%w: '%s'", ErrNotFound, id)
}

// GroupFor returns the group owning the named instance, or nil.
// Group ids may be prefixes of each other ("small" and "small-ssd"), so the
// longest matching prefix wins.
func (r *Registry) GroupFor(name string) *Group {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var owner *Group
	for _, group := range r.groups {
		if group.matches(name) && (owner == nil || len(group.config.ID) > len(owner.config.ID)) {
			owner = group
		}
	}
	return owner
}

// Owns reports whether group is the owner of the named instance.
func (r *Registry) Owns(group *Group, name string) bool {
	return group != nil && r.GroupFor(name) == group
}

// Instances returns the cached instances owned by group, sorted by name.
func (r *Registry) Instances(group *Group, cache *Cache) []Instance {
	return lo.Filter(cache.WithPrefix(group.Prefix()), func(instance Instance, _ int) bool {
		return r.Owns(group, instance.ID)
	})
}
