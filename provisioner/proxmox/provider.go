// Package proxmox provisions Talos VMs on a Proxmox VE cluster. Node groups are
// generated for every VM size and storage pool, and sized from the free
// capacity of the hosts.
package proxmox

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gammadia/tca/allocation"
	"github.com/gammadia/tca/nodegroup"
	"github.com/samber/lo"
)

const (
	gib = int64(1) << 30

	storageLocal    = "local"
	storageLocalLVM = "local-lvm"

	labelRegion = "topology.kubernetes.io/region"
	labelPool   = "proxmox.tca/pool"
)

type Size struct {
	Name string
	allocation.NodeSize
}

var Sizes = []Size{
	{"small", allocation.NodeSize{CPU: 2, Memory: 4 * gib}},
	{"medium", allocation.NodeSize{CPU: 4, Memory: 8 * gib}},
	{"large", allocation.NodeSize{CPU: 8, Memory: 16 * gib}},
	{"xlarge", allocation.NodeSize{CPU: 16, Memory: 32 * gib}},
}

// Provider tracks the capacity of the Proxmox hosts shared by all generated
// node groups.
type Provider struct {
	api    API
	config Config
	log    *slog.Logger

	mu       sync.RWMutex
	snapshot []allocation.CachedNode
	backends []*Backend
}

func NewProvider(api API, config Config) *Provider {
	config.setDefaults()

	return &Provider{
		api:    api,
		config: config,
		log:    config.Logger,
	}
}

// Probe refreshes the capacity snapshot. Hosts that are offline, too small or
// lacking the required storages are left out.
func (p *Provider) Probe(ctx context.Context) ([]allocation.CachedNode, error) {
	hosts, err := p.api.Hosts(ctx)
	if err != nil {
		return nil, err
	}

	var nodes []allocation.CachedNode
	for _, host := range hosts {
		log := p.log.With("host", host.Name)

		switch {
		case host.Status != "online":
			log.Debug("Skipping host, not online", "status", host.Status)
			continue
		case host.MaxMem < 4*gib:
			log.Debug("Skipping host, not enough memory", "memory", host.MaxMem)
			continue
		case host.MaxCPU <= 2:
			log.Debug("Skipping host, not enough cpus", "cpus", host.MaxCPU)
			continue
		}

		storages, err := p.api.Storages(ctx, host.Name)
		if err != nil {
			return nil, err
		}
		if !hasStorage(storages, storageLocal, "iso") || !hasStorage(storages, storageLocalLVM, "") {
			log.Debug("Skipping host, missing 'local' (with iso content) or 'local-lvm' storage")
			continue
		}

		vms, err := p.api.VirtualMachines(ctx, host.Name)
		if err != nil {
			return nil, err
		}
		var allocated allocation.NodeSize
		for _, vm := range vms {
			if vm.Status == "running" {
				allocated.CPU += vm.CPUs
				allocated.Memory += vm.MaxMem
			}
		}

		pools := lo.FilterMap(storages, func(storage Storage, _ int) (string, bool) {
			return storage.Name, storage.Name != storageLocal && storage.Name != storageLocalLVM
		})

		nodes = append(nodes, allocation.NewCachedNode(
			host.Name,
			allocation.NodeSize{CPU: host.MaxCPU, Memory: host.MaxMem},
			allocated,
			pools,
		))
	}

	p.mu.Lock()
	p.snapshot = nodes
	p.mu.Unlock()

	return nodes, nil
}

func hasStorage(storages []Storage, name, content string) bool {
	return slices.ContainsFunc(storages, func(storage Storage) bool {
		return storage.Name == name && (content == "" || slices.Contains(strings.Split(storage.Content, ","), content))
	})
}

func (p *Provider) Snapshot() []allocation.CachedNode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Register probes the hosts once and registers a node group per size, for
// all hosts and for every storage pool found on them.
func (p *Provider) Register(ctx context.Context, registry *nodegroup.Registry) error {
	nodes, err := p.Probe(ctx)
	if err != nil {
		return fmt.Errorf("failed to probe proxmox hosts: %w", err)
	}

	pools := lo.Uniq(lo.FlatMap(nodes, func(node allocation.CachedNode, _ int) []string { return node.Pools }))
	slices.Sort(pools)

	for _, pool := range append([]string{""}, pools...) {
		for _, size := range Sizes {
			backend := &Backend{provider: p, size: size, pool: pool}
			config := p.groupConfig(size, pool, allocation.Availability(nodes, size.NodeSize, pool))

			group, err := registry.Register(config, backend)
			if err != nil {
				return err
			}
			backend.group = group

			p.mu.Lock()
			p.backends = append(p.backends, backend)
			p.mu.Unlock()

			p.log.Info("Registered node group", "nodegroup", config.ID, "maxSize", config.MaxSize)
		}
	}
	return nil
}

func (p *Provider) groupConfig(size Size, pool string, available int) nodegroup.Config {
	id := fmt.Sprintf("proxmox-%s-%s", p.config.Datacenter, size.Name)
	labels := map[string]string{labelRegion: p.config.Datacenter}
	if pool != "" {
		id += "-" + pool
		labels[labelPool] = pool
	}

	return nodegroup.Config{
		ID:      id,
		MinSize: 0,
		MaxSize: available,
		Template: nodegroup.Template{
			CPU:              fmt.Sprint(size.CPU),
			Memory:           fmt.Sprint(size.Memory),
			EphemeralStorage: fmt.Sprintf("%dGi", p.config.DiskSize-1),
			Pods:             "110",
			Labels:           labels,
		},
		Node: nodegroup.NodeConfig{
			InstallDisk: "/dev/vda",
			Patches:     p.config.Patches,
		},
	}
}

// Run probes the hosts every interval and resizes the node groups, until ctx
// is cancelled.
func (p *Provider) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Probe(ctx); err != nil {
				p.log.Error("Failed to probe proxmox hosts", "error", err)
				continue
			}
			p.resize()
		}
	}
}

func (p *Provider) resize() {
	nodes := p.Snapshot()

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, backend := range p.backends {
		backend.group.SetMaxSize(allocation.Availability(nodes, backend.size.NodeSize, backend.pool))
	}
}

// findVM looks a VM up by name on every host.
func (p *Provider) findVM(ctx context.Context, name string) (string, VirtualMachine, bool, error) {
	hosts, err := p.api.Hosts(ctx)
	if err != nil {
		return "", VirtualMachine{}, false, err
	}

	for _, host := range hosts {
		if host.Status != "online" {
			continue
		}
		vms, err := p.api.VirtualMachines(ctx, host.Name)
		if err != nil {
			return "", VirtualMachine{}, false, err
		}
		for _, vm := range vms {
			if vm.Name == name {
				return host.Name, vm, true, nil
			}
		}
	}
	return "", VirtualMachine{}, false, nil
}
