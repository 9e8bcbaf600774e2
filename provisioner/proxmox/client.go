package proxmox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	proxmoxapi "github.com/luthermonson/go-proxmox"
	"github.com/samber/lo"
)

// Seconds to wait for a Proxmox task to complete.
const taskTimeout = 600

type client struct {
	api *proxmoxapi.Client
}

// client implements API
var _ API = (*client)(nil)

// NewClient returns an API talking to the Proxmox VE endpoint with an API token.
func NewClient(endpoint, tokenID, secret string, insecureSkipTLSVerify bool) API {
	httpClient := &http.Client{}
	if insecureSkipTLSVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &client{
		api: proxmoxapi.NewClient(
			endpoint,
			proxmoxapi.WithHTTPClient(httpClient),
			proxmoxapi.WithAPIToken(tokenID, secret),
		),
	}
}

func (c *client) Hosts(ctx context.Context) ([]Host, error) {
	statuses, err := c.api.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list proxmox nodes: %w", err)
	}

	return lo.Map(statuses, func(status *proxmoxapi.NodeStatus, _ int) Host {
		name := status.Node
		if name == "" {
			name = status.Name
		}
		return Host{
			Name:   name,
			Status: status.Status,
			MaxCPU: int64(status.MaxCPU),
			MaxMem: int64(status.MaxMem),
		}
	}), nil
}

func (c *client) Storages(ctx context.Context, host string) ([]Storage, error) {
	node, err := c.api.Node(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to get proxmox node '%s': %w", host, err)
	}
	storages, err := node.Storages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list storages of '%s': %w", host, err)
	}

	return lo.Map(storages, func(storage *proxmoxapi.Storage, _ int) Storage {
		return Storage{Name: storage.Name, Content: storage.Content}
	}), nil
}

func (c *client) VirtualMachines(ctx context.Context, host string) ([]VirtualMachine, error) {
	node, err := c.api.Node(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to get proxmox node '%s': %w", host, err)
	}
	vms, err := node.VirtualMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list virtual machines of '%s': %w", host, err)
	}

	return lo.Map(vms, func(vm *proxmoxapi.VirtualMachine, _ int) VirtualMachine {
		return VirtualMachine{
			ID:     int(vm.VMID),
			Name:   vm.Name,
			Status: vm.Status,
			CPUs:   int64(vm.CPUs),
			MaxMem: int64(vm.MaxMem),
			Tags:   vm.Tags,
		}
	}), nil
}

func (c *client) NextVMID(ctx context.Context) (int, error) {
	cluster, err := c.api.Cluster(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get proxmox cluster: %w", err)
	}
	vmid, err := cluster.NextID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate a vmid: %w", err)
	}
	return vmid, nil
}

func (c *client) CreateVirtualMachine(ctx context.Context, host string, vmid int, options []VMOption) error {
	node, err := c.api.Node(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to get proxmox node '%s': %w", host, err)
	}

	task, err := node.NewVirtualMachine(ctx, vmid, lo.Map(options, func(option VMOption, _ int) proxmoxapi.VirtualMachineOption {
		return proxmoxapi.VirtualMachineOption{Name: option.Name, Value: option.Value}
	})...)
	if err != nil {
		return fmt.Errorf("failed to create virtual machine %d: %w", vmid, err)
	}
	if err := task.WaitFor(ctx, taskTimeout); err != nil {
		return fmt.Errorf("failed to create virtual machine %d: %w", vmid, err)
	}

	vm, err := node.VirtualMachine(ctx, vmid)
	if err != nil {
		return fmt.Errorf("failed to get virtual machine %d: %w", vmid, err)
	}
	task, err = vm.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start virtual machine %d: %w", vmid, err)
	}
	return task.WaitFor(ctx, taskTimeout)
}

func (c *client) DestroyVirtualMachine(ctx context.Context, host string, vmid int) error {
	node, err := c.api.Node(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to get proxmox node '%s': %w", host, err)
	}
	vm, err := node.VirtualMachine(ctx, vmid)
	if err != nil {
		return fmt.Errorf("failed to get virtual machine %d: %w", vmid, err)
	}

	if vm.Status == "running" {
		task, err := vm.Stop(ctx)
		if err != nil {
			return fmt.Errorf("failed to stop virtual machine %d: %w", vmid, err)
		}
		if err := task.WaitFor(ctx, taskTimeout); err != nil {
			return fmt.Errorf("failed to stop virtual machine %d: %w", vmid, err)
		}
	}

	task, err := vm.Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete virtual machine %d: %w", vmid, err)
	}
	return task.WaitFor(ctx, taskTimeout)
}

func (c *client) NetworkInterfaces(ctx context.Context, host string, vmid int) ([]NetworkInterface, error) {
	node, err := c.api.Node(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to get proxmox node '%s': %w", host, err)
	}
	vm, err := node.VirtualMachine(ctx, vmid)
	if err != nil {
		return nil, fmt.Errorf("failed to get virtual machine %d: %w", vmid, err)
	}
	ifaces, err := vm.AgentGetNetworkIFaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query guest agent of %d: %w", vmid, err)
	}

	return lo.Map(ifaces, func(iface *proxmoxapi.AgentNetworkIface, _ int) NetworkInterface {
		result := NetworkInterface{Name: iface.Name, HardwareAddress: iface.HardwareAddress}
		for _, address := range iface.IPAddresses {
			switch address.IPAddressType {
			case "ipv4":
				result.IPv4 = append(result.IPv4, address.IPAddress)
			case "ipv6":
				result.IPv6 = append(result.IPv6, address.IPAddress)
			}
		}
		return result
	}), nil
}
