package proxmox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/gammadia/tca/allocation"
	"github.com/gammadia/tca/nodegroup"
)

// Placeholder address of interfaces the guest agent reports without hardware.
var deniedHardwareAddresses = []string{"00:00:00:00:00:00"}

// Backend serves one generated node group: a VM size, optionally bound to a
// storage pool.
type Backend struct {
	provider *Provider
	group    *nodegroup.Group
	size     Size
	pool     string
}

// Backend implements nodegroup.Backend
var _ nodegroup.Backend = (*Backend)(nil)

func (b *Backend) FetchInstances(ctx context.Context) ([]nodegroup.Instance, error) {
	b.group.SetMaxSize(allocation.Availability(b.provider.Snapshot(), b.size.NodeSize, b.pool))

	hosts, err := b.provider.api.Hosts(ctx)
	if err != nil {
		return nil, err
	}

	var instances []nodegroup.Instance
	for _, host := range hosts {
		if host.Status != "online" {
			continue
		}
		vms, err := b.provider.api.VirtualMachines(ctx, host.Name)
		if err != nil {
			return nil, err
		}
		for _, vm := range vms {
			if !b.tagged(vm) {
				continue
			}
			instances = append(instances, nodegroup.Instance{ID: vm.Name, Status: vmStatus(vm)})
		}
	}
	return instances, nil
}

func vmStatus(vm VirtualMachine) nodegroup.Status {
	if vm.Status == "running" {
		return nodegroup.Status{State: nodegroup.StateRunning}
	}
	return nodegroup.Status{
		State: nodegroup.StateCreating,
		Error: &nodegroup.ErrorInfo{
			Code:    "VirtualMachineNotRunning",
			Message: fmt.Sprintf("virtual machine %d is %s", vm.ID, vm.Status),
			Class:   99,
		},
	}
}

func (b *Backend) tagged(vm VirtualMachine) bool {
	return slices.Contains(strings.Split(vm.Tags, ";"), b.group.ID())
}

func (b *Backend) AllocateNode(ctx context.Context, name string) error {
	nodes, err := b.provider.Probe(ctx)
	if err != nil {
		return fmt.Errorf("failed to probe proxmox hosts: %w", err)
	}

	host, err := allocation.FindHost(nodes, b.size.NodeSize, b.pool, b.provider.config.Strategy)
	if err != nil {
		return fmt.Errorf("%w: %w", nodegroup.ErrResourceExhausted, err)
	}

	vmid, err := b.provider.api.NextVMID(ctx)
	if err != nil {
		return err
	}

	log := b.provider.log.With("nodegroup", b.group.ID(), "node", name, "host", host.Node, "vmid", vmid)
	log.Info("Creating virtual machine")

	if err := b.provider.api.CreateVirtualMachine(ctx, host.Node, vmid, b.vmOptions(name)); err != nil {
		return err
	}
	log.Info("Virtual machine started")
	return nil
}

func (b *Backend) vmOptions(name string) []VMOption {
	config := b.provider.config

	storage := storageLocalLVM
	if b.pool != "" {
		storage = b.pool
	}

	return []VMOption{
		{Name: "name", Value: name},
		{Name: "ostype", Value: "l26"},
		{Name: "agent", Value: "1"},
		{Name: "cores", Value: b.size.CPU},
		{Name: "cpu", Value: "host"},
		{Name: "memory", Value: b.size.Memory >> 20},
		{Name: "tags", Value: b.group.ID()},
		{Name: "net0", Value: fmt.Sprintf("virtio,bridge=%s,firewall=1", config.Bridge)},
		{Name: "virtio0", Value: fmt.Sprintf("%s:%d,iothread=on", storage, config.DiskSize)},
		{Name: "sata0", Value: fmt.Sprintf("%s:iso/%s,media=cdrom", storageLocal, config.ISO)},
	}
}

func (b *Backend) RemoveNode(ctx context.Context, name string) error {
	host, vm, found, err := b.provider.findVM(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		b.provider.log.Warn("Virtual machine already gone", "node", name)
		return nil
	}
	if !b.tagged(vm) {
		return fmt.Errorf("refusing to delete virtual machine %d ('%s'): not tagged with '%s'", vm.ID, name, b.group.ID())
	}

	if err := b.provider.api.DestroyVirtualMachine(ctx, host, vm.ID); err != nil {
		return err
	}
	b.provider.log.Info("Virtual machine deleted", "node", name, "vmid", vm.ID)
	return nil
}

// ResolveAddress asks the QEMU guest agent for the single IPv4 address of the VM.
func (b *Backend) ResolveAddress(ctx context.Context, name string) (string, error) {
	host, vm, found, err := b.provider.findVM(ctx, name)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("virtual machine '%s' not found", name)
	}

	ifaces, err := b.provider.api.NetworkInterfaces(ctx, host, vm.ID)
	if err != nil {
		return "", err
	}
	return singleIPv4(ifaces)
}

func singleIPv4(ifaces []NetworkInterface) (string, error) {
	var candidates []NetworkInterface
	for _, iface := range ifaces {
		if slices.Contains(deniedHardwareAddresses, iface.HardwareAddress) {
			continue
		}
		if len(iface.IPv4)+len(iface.IPv6) == 0 {
			continue
		}
		candidates = append(candidates, iface)
	}

	switch {
	case len(candidates) == 0:
		return "", errors.New("no network interface with an address")
	case len(candidates) > 1:
		return "", fmt.Errorf("%d network interfaces with an address, expected one", len(candidates))
	}

	switch addresses := candidates[0].IPv4; len(addresses) {
	case 0:
		return "", fmt.Errorf("interface '%s' has no IPv4 address", candidates[0].Name)
	case 1:
		return addresses[0], nil
	default:
		return "", fmt.Errorf("interface '%s' has %d IPv4 addresses, expected one", candidates[0].Name, len(addresses))
	}
}
