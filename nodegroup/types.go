package nodegroup

import (
	"fmt"
)

type State int

const (
	StateUnspecified State = iota
	StateRunning
	StateCreating
	StateDeleting
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCreating:
		return "creating"
	case StateDeleting:
		return "deleting"
	default:
		return "unspecified"
	}
}

// ErrorInfo describes why an instance is not in the state its backend expected.
type ErrorInfo struct {
	Code    string
	Message string
	Class   int32
}

type Status struct {
	State State
	Error *ErrorInfo
}

type Instance struct {
	ID     string
	Status Status
}

// Template is the capacity profile of one unit of a node group, expressed as
// Kubernetes resource quantities.
type Template struct {
	CPU              string            `yaml:"cpu"`
	Memory           string            `yaml:"memory"`
	EphemeralStorage string            `yaml:"ephemeralStorage"`
	Pods             string            `yaml:"pods,omitempty"`
	Labels           map[string]string `yaml:"labels,omitempty"`
}

// NodeConfig holds per-group overrides applied when a new node is configured.
type NodeConfig struct {
	InstallDisk string   `yaml:"installDisk,omitempty"`
	Patches     []string `yaml:"patches,omitempty"`
}

type Config struct {
	ID       string     `yaml:"id"`
	MinSize  int        `yaml:"minSize"`
	MaxSize  int        `yaml:"maxSize"`
	Template Template   `yaml:"template"`
	Node     NodeConfig `yaml:"node,omitempty"`
}

func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("node group id must not be empty")
	}
	if c.MinSize < 0 {
		return fmt.Errorf("node group '%s': minSize must not be negative", c.ID)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("node group '%s': minSize (%d) must not exceed maxSize (%d)", c.ID, c.MinSize, c.MaxSize)
	}
	return nil
}
