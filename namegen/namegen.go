// Package namegen generates short human readable identifiers, used to tell
// jobs apart in logs.
package namegen

import (
	"sync"

	vendor "github.com/anandvarma/namegen"
)

var (
	gen   = vendor.New()
	mutex sync.Mutex
)

type ID string

// Get returns a new identifier. It is safe for concurrent use.
func Get() ID {
	mutex.Lock()
	defer mutex.Unlock()
	return ID(gen.Get())
}

func (id ID) String() string {
	return string(id)
}
