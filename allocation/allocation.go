// Package allocation picks the physical host a new unit is placed on.
//
// Everything here is a pure function of a capacity snapshot: no I/O happens and
// nothing is reserved, so a snapshot may already be stale when a decision is
// acted upon.
package allocation

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

var ErrNoCapacity = errors.New("no host has enough free capacity")

type Strategy string

const (
	// MostFree spreads units by preferring the host with the most free capacity.
	MostFree Strategy = "most-free"
	// LeastFree packs units by preferring the fullest host that still fits.
	LeastFree Strategy = "least-free"
)

func ParseStrategy(s string) (Strategy, error) {
	switch strategy := Strategy(s); strategy {
	case MostFree, LeastFree:
		return strategy, nil
	default:
		return "", fmt.Errorf("unknown allocation strategy '%s' (expected %s or %s)", s, MostFree, LeastFree)
	}
}

// NodeSize is an amount of cpu (cores) and memory (bytes).
type NodeSize struct {
	CPU    int64 `json:"cpu"`
	Memory int64 `json:"memory"`
}

func (s NodeSize) String() string {
	return fmt.Sprintf("{cpu:%d memory:%d}", s.CPU, s.Memory)
}

// CachedNode is a snapshot of one host's capacity.
type CachedNode struct {
	Node      string
	Capacity  NodeSize
	Allocated NodeSize
	Free      NodeSize
	Pools     []string
}

// NewCachedNode builds a snapshot, deriving the free capacity.
func NewCachedNode(node string, capacity, allocated NodeSize, pools []string) CachedNode {
	return CachedNode{
		Node:      node,
		Capacity:  capacity,
		Allocated: allocated,
		Free: NodeSize{
			CPU:    capacity.CPU - allocated.CPU,
			Memory: capacity.Memory - allocated.Memory,
		},
		Pools: pools,
	}
}

func (n CachedNode) fits(size NodeSize, pool string) bool {
	if n.Free.CPU < size.CPU || n.Free.Memory < size.Memory {
		return false
	}
	return pool == "" || slices.Contains(n.Pools, pool)
}

func (n CachedNode) totalFree() int64 {
	return n.Free.CPU + n.Free.Memory
}

// FindHost returns the host a unit of the given size should be placed on.
// An empty pool matches every host. Ties keep the input order.
func FindHost(nodes []CachedNode, size NodeSize, pool string, strategy Strategy) (CachedNode, error) {
	var candidates []CachedNode
	for _, node := range nodes {
		if node.fits(size, pool) {
			candidates = append(candidates, node)
		}
	}

	if len(candidates) == 0 {
		if pool != "" {
			return CachedNode{}, fmt.Errorf("%w: size %s in pool '%s'", ErrNoCapacity, size, pool)
		}
		return CachedNode{}, fmt.Errorf("%w: size %s", ErrNoCapacity, size)
	}

	slices.SortStableFunc(candidates, func(a, b CachedNode) int {
		if strategy == LeastFree {
			return cmp.Compare(a.totalFree(), b.totalFree())
		}
		return cmp.Compare(b.totalFree(), a.totalFree())
	})

	return candidates[0], nil
}

// Availability returns how many units of the given size still fit on the hosts
// of a snapshot, optionally restricted to a pool.
func Availability(nodes []CachedNode, size NodeSize, pool string) int {
	if size.CPU <= 0 || size.Memory <= 0 {
		return 0
	}

	total := 0
	for _, node := range nodes {
		if pool != "" && !slices.Contains(node.Pools, pool) {
			continue
		}
		if node.Free.CPU <= 0 || node.Free.Memory <= 0 {
			continue
		}
		total += int(min(node.Free.CPU/size.CPU, node.Free.Memory/size.Memory))
	}
	return total
}
