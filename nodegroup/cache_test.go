package nodegroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheReplaceDropsPreviousEntries(t *testing.T) {
	c := NewCache()
	c.Replace([]Instance{
		{ID: "tca-a-1", Status: Status{State: StateRunning}},
		{ID: "tca-a-2", Status: Status{State: StateRunning}},
	})
	c.Replace([]Instance{
		{ID: "tca-a-3", Status: Status{State: StateCreating}},
	})

	assert.False(t, c.Has("tca-a-1"))
	assert.False(t, c.Has("tca-a-2"))
	assert.Equal(t, []Instance{{ID: "tca-a-3", Status: Status{State: StateCreating}}}, c.WithPrefix("tca-a-"))
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.RefreshedAt().IsZero())
}

func TestCacheWithPrefixIsSorted(t *testing.T) {
	c := NewCache()
	c.Replace([]Instance{
		{ID: "tca-b-2"},
		{ID: "tca-a-2"},
		{ID: "tca-a-1"},
	})

	assert.Equal(t, []Instance{{ID: "tca-a-1"}, {ID: "tca-a-2"}}, c.WithPrefix("tca-a-"))
	assert.Empty(t, c.WithPrefix("tca-c-"))
}

func TestCacheCountByState(t *testing.T) {
	c := NewCache()
	c.Replace([]Instance{
		{ID: "1", Status: Status{State: StateRunning}},
		{ID: "2", Status: Status{State: StateRunning}},
		{ID: "3", Status: Status{State: StateDeleting}},
	})

	assert.Equal(t, map[State]int{StateRunning: 2, StateDeleting: 1}, c.CountByState())
}
