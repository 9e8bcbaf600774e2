// Package openstack runs the units of a node group as OpenStack compute
// servers booted from a Talos image.
package openstack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/gammadia/tca/nodegroup"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
)

const (
	metadataGroup     = "tca-nodegroup"
	metadataCreatedAt = "tca-created-at"
)

type Backend struct {
	client *gophercloud.ServiceClient
	config Config
	log    *slog.Logger
}

// Backend implements nodegroup.Backend
var _ nodegroup.Backend = (*Backend)(nil)

// NewComputeClient authenticates with the OS_* environment variables.
func NewComputeClient() (*gophercloud.ServiceClient, error) {
	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth options from env: %w", err)
	}

	provider, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	client, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{
		Region: os.Getenv("OS_REGION_NAME"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get compute client: %w", err)
	}
	return client, nil
}

func New(client *gophercloud.ServiceClient, config Config) *Backend {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BootTimeout <= 0 {
		config.BootTimeout = 300
	}

	return &Backend{
		client: client,
		config: config,
		log:    config.Logger.With("nodegroup", config.Group),
	}
}

func (b *Backend) servers(nameRegexp string) ([]servers.Server, error) {
	pages, err := servers.List(b.client, servers.ListOpts{Name: nameRegexp}).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	all, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract servers: %w", err)
	}

	return lo.Filter(all, func(server servers.Server, _ int) bool {
		return server.Metadata[metadataGroup] == b.config.Group
	}), nil
}

func (b *Backend) FetchInstances(ctx context.Context) ([]nodegroup.Instance, error) {
	list, err := b.servers("^"+regexp.QuoteMeta(nodegroup.InstancePrefix(b.config.Group)))
	if err != nil {
		return nil, err
	}

	return lo.Map(list, func(server servers.Server, _ int) nodegroup.Instance {
		return nodegroup.Instance{ID: server.Name, Status: serverStatus(server)}
	}), nil
}

func serverStatus(server servers.Server) nodegroup.Status {
	switch server.Status {
	case "ACTIVE":
		return nodegroup.Status{State: nodegroup.StateRunning}
	case "DELETED", "SOFT_DELETED":
		return nodegroup.Status{State: nodegroup.StateDeleting}
	case "ERROR":
		return nodegroup.Status{
			State: nodegroup.StateCreating,
			Error: &nodegroup.ErrorInfo{
				Code:    fmt.Sprintf("ServerError%d", server.Fault.Code),
				Message: server.Fault.Message,
				Class:   99,
			},
		}
	default:
		return nodegroup.Status{State: nodegroup.StateCreating}
	}
}

func (b *Backend) AllocateNode(ctx context.Context, name string) error {
	server, err := servers.Create(b.client, servers.CreateOpts{
		Name:           name,
		ImageRef:       b.config.Image,
		FlavorRef:      b.config.Flavor,
		Networks:       b.config.Networks,
		SecurityGroups: b.config.SecurityGroups,
		Metadata: map[string]string{
			metadataGroup:     b.config.Group,
			metadataCreatedAt: time.Now().Format(time.RFC3339),
		},
	}).Extract()
	if err != nil {
		return fmt.Errorf("failed to create server '%s': %w", name, err)
	}

	b.log.Info("Created server, waiting for it to become active", "node", name, "server", server.ID)
	if err := servers.WaitForStatus(b.client, server.ID, "ACTIVE", b.config.BootTimeout); err != nil {
		return fmt.Errorf("server '%s' did not become active after %ds: %w", name, b.config.BootTimeout, err)
	}
	return nil
}

func (b *Backend) find(name string) (*servers.Server, error) {
	list, err := b.servers("^"+regexp.QuoteMeta(name)+"$")
	if err != nil {
		return nil, err
	}
	server, found := lo.Find(list, func(server servers.Server) bool { return server.Name == name })
	if !found {
		return nil, nil
	}
	return &server, nil
}

func (b *Backend) RemoveNode(ctx context.Context, name string) error {
	server, err := b.find(name)
	if err != nil {
		return err
	}
	if server == nil {
		b.log.Warn("Server already gone", "node", name)
		return nil
	}

	err = servers.Delete(b.client, server.ID).ExtractErr()
	if err != nil && !errors.As(err, &gophercloud.ErrDefault404{}) {
		return fmt.Errorf("failed to delete server '%s': %w", name, err)
	}
	b.log.Info("Server deleted", "node", name, "server", server.ID)
	return nil
}

func (b *Backend) ResolveAddress(ctx context.Context, name string) (string, error) {
	server, err := b.find(name)
	if err != nil {
		return "", err
	}
	if server == nil {
		return "", fmt.Errorf("server '%s' not found", name)
	}

	pages, err := servers.ListAddresses(b.client, server.ID).AllPages()
	if err != nil {
		return "", fmt.Errorf("failed to get server addresses for '%s': %w", name, err)
	}
	allAddresses, err := servers.ExtractAddresses(pages)
	if err != nil {
		return "", fmt.Errorf("failed to extract server addresses for '%s': %w", name, err)
	}

	for _, network := range slices.Sorted(maps.Keys(allAddresses)) {
		for _, address := range allAddresses[network] {
			if address.Version == 4 {
				return address.Address, nil
			}
		}
	}
	return "", fmt.Errorf("failed to find IPv4 address for server '%s'", name)
}
