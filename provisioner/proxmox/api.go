package proxmox

import (
	"context"
)

// API is the part of the Proxmox VE API the backend depends on.
type API interface {
	Hosts(ctx context.Context) ([]Host, error)
	Storages(ctx context.Context, host string) ([]Storage, error)
	VirtualMachines(ctx context.Context, host string) ([]VirtualMachine, error)
	NextVMID(ctx context.Context) (int, error)
	// CreateVirtualMachine creates and boots a VM, returning once it started.
	CreateVirtualMachine(ctx context.Context, host string, vmid int, options []VMOption) error
	// DestroyVirtualMachine stops and deletes a VM.
	DestroyVirtualMachine(ctx context.Context, host string, vmid int) error
	NetworkInterfaces(ctx context.Context, host string, vmid int) ([]NetworkInterface, error)
}

type Host struct {
	Name   string
	Status string
	MaxCPU int64
	MaxMem int64
}

type Storage struct {
	Name    string
	Content string
}

type VirtualMachine struct {
	ID     int
	Name   string
	Status string
	CPUs   int64
	MaxMem int64
	Tags   string
}

type VMOption struct {
	Name  string
	Value any
}

type NetworkInterface struct {
	Name            string
	HardwareAddress string
	IPv4            []string
	IPv6            []string
}
