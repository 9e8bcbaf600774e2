package proxmox

import (
	"log/slog"

	"github.com/gammadia/tca/allocation"
)

type Config struct {
	// Logger to use
	Logger *slog.Logger
	// Name of the datacenter, part of every generated node group id
	Datacenter string
	// How hosts are picked among those with enough capacity
	Strategy allocation.Strategy
	// Talos ISO attached to new VMs, stored on the "local" storage
	ISO string
	// Bridge the VM network interface is attached to
	Bridge string
	// Size of the VM system disk, in GiB
	DiskSize int
	// Talos patches applied to every VM
	Patches []string
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Datacenter == "" {
		c.Datacenter = "default"
	}
	if c.Strategy == "" {
		c.Strategy = allocation.MostFree
	}
	if c.ISO == "" {
		c.ISO = "metal-amd64.iso"
	}
	if c.Bridge == "" {
		c.Bridge = "vmbr0"
	}
	if c.DiskSize <= 0 {
		c.DiskSize = 20
	}
}
