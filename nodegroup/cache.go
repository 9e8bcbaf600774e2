package nodegroup

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Cache maps instance names to their last known status. It is replaced as a
// whole on every refresh and is stale in between.
type Cache struct {
	mutex       sync.RWMutex
	statuses    map[string]Status
	refreshedAt time.Time
}

func NewCache() *Cache {
	return &Cache{statuses: map[string]Status{}}
}

// Replace swaps the cache content for the given instances.
func (c *Cache) Replace(instances []Instance) {
	statuses := make(map[string]Status, len(instances))
	for _, instance := range instances {
		statuses[instance.ID] = instance.Status
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.statuses = statuses
	c.refreshedAt = time.Now()
}

func (c *Cache) Get(name string) (Status, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	status, ok := c.statuses[name]
	return status, ok
}

func (c *Cache) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// WithPrefix returns the cached instances whose name starts with prefix, sorted by name.
func (c *Cache) WithPrefix(prefix string) []Instance {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var instances []Instance
	for _, name := range slices.Sorted(maps.Keys(c.statuses)) {
		if strings.HasPrefix(name, prefix) {
			instances = append(instances, Instance{ID: name, Status: c.statuses[name]})
		}
	}
	return instances
}

// CountByState returns the number of cached instances per state.
func (c *Cache) CountByState() map[State]int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	counts := map[State]int{}
	for _, status := range c.statuses {
		counts[status.State] += 1
	}
	return counts
}

func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.statuses)
}

func (c *Cache) RefreshedAt() time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.refreshedAt
}
