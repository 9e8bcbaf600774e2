package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func free(name string, cpu, memory int64, pools ...string) CachedNode {
	return CachedNode{Node: name, Free: NodeSize{CPU: cpu, Memory: memory}, Pools: pools}
}

func TestFindHostMostFreeTieKeepsInputOrder(t *testing.T) {
	nodes := []CachedNode{free("a", 4, 8), free("b", 10, 2)}

	host, err := FindHost(nodes, NodeSize{CPU: 2, Memory: 2}, "", MostFree)
	require.NoError(t, err)
	assert.Equal(t, "a", host.Node)
}

func TestFindHostLeastFree(t *testing.T) {
	nodes := []CachedNode{free("a", 4, 8), free("b", 1, 1)}

	host, err := FindHost(nodes, NodeSize{CPU: 1, Memory: 1}, "", LeastFree)
	require.NoError(t, err)
	assert.Equal(t, "b", host.Node)
}

func TestFindHostMostFree(t *testing.T) {
	nodes := []CachedNode{free("a", 2, 2), free("b", 8, 16), free("c", 4, 4)}

	host, err := FindHost(nodes, NodeSize{CPU: 1, Memory: 1}, "", MostFree)
	require.NoError(t, err)
	assert.Equal(t, "b", host.Node)
}

func TestFindHostFiltersOnBothResources(t *testing.T) {
	nodes := []CachedNode{free("cpu-rich", 16, 1), free("mem-rich", 1, 64), free("fits", 4, 4)}

	host, err := FindHost(nodes, NodeSize{CPU: 2, Memory: 2}, "", MostFree)
	require.NoError(t, err)
	assert.Equal(t, "fits", host.Node)
}

func TestFindHostRespectsPool(t *testing.T) {
	nodes := []CachedNode{free("a", 16, 16), free("b", 4, 4, "ssd")}

	host, err := FindHost(nodes, NodeSize{CPU: 1, Memory: 1}, "ssd", MostFree)
	require.NoError(t, err)
	assert.Equal(t, "b", host.Node)

	_, err = FindHost(nodes, NodeSize{CPU: 1, Memory: 1}, "nvme", MostFree)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestFindHostNoCandidate(t *testing.T) {
	_, err := FindHost([]CachedNode{free("a", 1, 1)}, NodeSize{CPU: 2, Memory: 1}, "", LeastFree)
	assert.ErrorIs(t, err, ErrNoCapacity)

	_, err = FindHost(nil, NodeSize{CPU: 1, Memory: 1}, "", MostFree)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestNewCachedNodeDerivesFree(t *testing.T) {
	node := NewCachedNode("pve1", NodeSize{CPU: 16, Memory: 64}, NodeSize{CPU: 6, Memory: 24}, []string{"ssd"})
	assert.Equal(t, NodeSize{CPU: 10, Memory: 40}, node.Free)
}

func TestAvailability(t *testing.T) {
	nodes := []CachedNode{free("a", 8, 8, "ssd"), free("b", 3, 100), free("c", -1, 10)}
	size := NodeSize{CPU: 2, Memory: 4}

	assert.Equal(t, 3, Availability(nodes, size, ""))
	assert.Equal(t, 2, Availability(nodes, size, "ssd"))
	assert.Equal(t, 0, Availability(nodes, NodeSize{}, ""))
}

func TestParseStrategy(t *testing.T) {
	strategy, err := ParseStrategy("least-free")
	require.NoError(t, err)
	assert.Equal(t, LeastFree, strategy)

	_, err = ParseStrategy("random")
	assert.EqualError(t, err, "unknown allocation strategy 'random' (expected most-free or least-free)")
}
