// Package backends builds the backend of every configured node group and
// registers the groups.
package backends

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gammadia/tca/allocation"
	"github.com/gammadia/tca/cloudprovider"
	"github.com/gammadia/tca/nodegroup"
	"github.com/gammadia/tca/provisioner/docker"
	"github.com/gammadia/tca/provisioner/openstack"
	"github.com/gammadia/tca/provisioner/proxmox"
	"github.com/gammadia/tca/server/config"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
)

// Clients creates the backend API clients on first use, so that a backend
// nobody configured never needs credentials.
type Clients struct {
	Docker    func() (docker.Client, error)
	Openstack func() (*gophercloud.ServiceClient, error)
	Proxmox   func(config.Proxmox) proxmox.API

	dockerClient    docker.Client
	openstackClient *gophercloud.ServiceClient
}

// DefaultClients connects to the real services, configured from the
// environment for docker and openstack.
func DefaultClients() *Clients {
	return &Clients{
		Docker: func() (docker.Client, error) {
			return docker.NewClient()
		},
		Openstack: openstack.NewComputeClient,
		Proxmox: func(c config.Proxmox) proxmox.API {
			return proxmox.NewClient(c.Endpoint, c.TokenID, c.Secret, c.Insecure)
		},
	}
}

func (c *Clients) dockerAPI() (docker.Client, error) {
	if c.dockerClient == nil {
		client, err := c.Docker()
		if err != nil {
			return nil, err
		}
		c.dockerClient = client
	}
	return c.dockerClient, nil
}

func (c *Clients) computeAPI() (*gophercloud.ServiceClient, error) {
	if c.openstackClient == nil {
		client, err := c.Openstack()
		if err != nil {
			return nil, err
		}
		c.openstackClient = client
	}
	return c.openstackClient, nil
}

// Register registers every node group of the configuration file,
// followed by the groups generated for proxmox. The returned provider is nil
// when proxmox is not configured.
func Register(
	ctx context.Context,
	registry *nodegroup.Registry,
	file config.File,
	strategy allocation.Strategy,
	clients *Clients,
	logger *slog.Logger,
) (*proxmox.Provider, error) {
	for _, group := range file.NodeGroups {
		backend, err := staticBackend(group, file, clients, logger)
		if err != nil {
			return nil, fmt.Errorf("node group '%s': %w", group.ID, err)
		}
		if _, err := registry.Register(group.Config, backend); err != nil {
			return nil, err
		}
		logger.Info("Registered node group", "nodegroup", group.ID, "backend", group.Backend, "maxSize", group.MaxSize)
	}

	var provider *proxmox.Provider
	if file.Proxmox != nil {
		provider = proxmox.NewProvider(clients.Proxmox(*file.Proxmox), proxmox.Config{
			Logger:     logger.With("backend", "proxmox"),
			Datacenter: file.Proxmox.Datacenter,
			Strategy:   strategy,
			ISO:        file.Proxmox.ISO,
			Bridge:     file.Proxmox.Bridge,
			DiskSize:   file.Proxmox.DiskSize,
			Patches:    file.Proxmox.Patches,
		})
		if err := provider.Register(ctx, registry); err != nil {
			return nil, err
		}
	}

	return provider, validateTemplates(registry)
}

func staticBackend(group config.NodeGroup, file config.File, clients *Clients, logger *slog.Logger) (nodegroup.Backend, error) {
	switch group.Backend {
	case config.BackendDocker:
		api, err := clients.dockerAPI()
		if err != nil {
			return nil, err
		}
		return docker.New(api, docker.Config{
			Logger:  logger.With("backend", group.Backend),
			Group:   group.ID,
			Image:   file.Docker.Image,
			Network: file.Docker.Network,
		}), nil

	case config.BackendOpenstack:
		api, err := clients.computeAPI()
		if err != nil {
			return nil, err
		}
		return openstack.New(api, openstack.Config{
			Logger: logger.With("backend", group.Backend),
			Group:  group.ID,
			Image:  file.Openstack.Image,
			Flavor: file.Openstack.Flavor,
			Networks: lo.Map(file.Openstack.Networks, func(uuid string, _ int) servers.Network {
				return servers.Network{UUID: uuid}
			}),
			SecurityGroups: file.Openstack.SecurityGroups,
			BootTimeout:    file.Openstack.BootTimeout,
		}), nil

	default:
		return nil, fmt.Errorf("unknown backend '%s'", group.Backend)
	}
}

// validateTemplates renders the template node of every group once, so that a
// malformed quantity is reported at startup rather than on the first scale up.
func validateTemplates(registry *nodegroup.Registry) error {
	for _, group := range registry.Groups() {
		if _, err := cloudprovider.TemplateNode(group.Config(), nodegroup.NewNodeName(group.ID())); err != nil {
			return fmt.Errorf("invalid template: %w", err)
		}
	}
	return nil
}
