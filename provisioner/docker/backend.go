// Package docker runs the units of a node group as Talos containers on the
// local Docker daemon.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/gammadia/tca/nodegroup"
	"github.com/gammadia/tca/provisioner/internal"
	"github.com/samber/lo"
)

const labelGroup = "tca.nodegroup"

// Class reported for units in a state the autoscaler cannot act upon.
const otherErrorClass = 99

// Client is the part of the Docker API the backend uses.
type Client = internal.DockerClient

type Backend struct {
	config Config
	docker internal.DockerClient
	log    *slog.Logger
}

// Backend implements nodegroup.Backend
var _ nodegroup.Backend = (*Backend)(nil)

// NewClient connects to the Docker daemon configured by the environment.
func NewClient() (*client.Client, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to init docker client: %w", err)
	}
	return docker, nil
}

func New(docker internal.DockerClient, config Config) *Backend {
	if config.Image == "" {
		config.Image = DefaultImage
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Backend{
		config: config,
		docker: docker,
		log:    config.Logger.With("nodegroup", config.Group),
	}
}

func (b *Backend) FetchInstances(ctx context.Context) ([]nodegroup.Instance, error) {
	containers, err := b.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelGroup+"="+b.config.Group)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	return lo.FilterMap(containers, func(c container.Summary, _ int) (nodegroup.Instance, bool) {
		if len(c.Names) == 0 {
			return nodegroup.Instance{}, false
		}
		return nodegroup.Instance{
			ID:     strings.TrimPrefix(c.Names[0], "/"),
			Status: containerStatus(string(c.State), c.Status),
		}, true
	}), nil
}

func containerStatus(state, description string) nodegroup.Status {
	switch state {
	case "running":
		return nodegroup.Status{State: nodegroup.StateRunning}
	case "created", "restarting":
		return nodegroup.Status{State: nodegroup.StateCreating}
	case "removing":
		return nodegroup.Status{State: nodegroup.StateDeleting}
	default:
		return nodegroup.Status{
			State: nodegroup.StateCreating,
			Error: &nodegroup.ErrorInfo{
				Code:    "ContainerNotRunning",
				Message: fmt.Sprintf("container is %s (%s)", state, description),
				Class:   otherErrorClass,
			},
		}
	}
}

func (b *Backend) AllocateNode(ctx context.Context, name string) error {
	if err := internal.EnsureImage(ctx, b.docker, b.config.Image, b.log); err != nil {
		return err
	}

	var networking *network.NetworkingConfig
	if b.config.Network != "" {
		networking = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{b.config.Network: {}},
		}
	}

	resp, err := b.docker.ContainerCreate(
		ctx,
		&container.Config{
			Image:    b.config.Image,
			Hostname: name,
			Env:      []string{"PLATFORM=container"},
			Labels:   map[string]string{labelGroup: b.config.Group},
		},
		&container.HostConfig{
			Privileged:     true,
			ReadonlyRootfs: true,
			SecurityOpt:    []string{"seccomp=unconfined"},
			Mounts:         talosMounts(),
		},
		networking,
		nil,
		name,
	)
	if err != nil {
		return fmt.Errorf("failed to create container '%s': %w", name, err)
	}

	if err := b.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := b.docker.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); rmErr != nil {
			b.log.Error("Failed to remove container", "node", name, "error", rmErr)
		}
		return fmt.Errorf("failed to start container '%s': %w", name, err)
	}

	b.log.Info("Container started", "node", name, "container", resp.ID)
	return nil
}

func talosMounts() []mount.Mount {
	mounts := lo.Map([]string{"/run", "/system", "/tmp"}, func(target string, _ int) mount.Mount {
		return mount.Mount{Type: mount.TypeTmpfs, Target: target}
	})
	for _, target := range []string{
		"/system/state",
		"/var",
		"/etc/cni",
		"/etc/kubernetes",
		"/usr/libexec/kubernetes",
		"/usr/etc/udev",
		"/opt",
	} {
		mounts = append(mounts, mount.Mount{Type: mount.TypeVolume, Target: target})
	}
	return mounts
}

// RemoveNode force-removes the container and its volumes, retrying while the
// daemon is busy tearing it down.
func (b *Backend) RemoveNode(ctx context.Context, name string) error {
	err := internal.Retry(3, func() error {
		err := b.docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil && !errdefs.IsNotFound(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove container '%s': %w", name, err)
	}
	return nil
}

func (b *Backend) ResolveAddress(ctx context.Context, name string) (string, error) {
	inspect, err := b.docker.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container '%s': %w", name, err)
	}
	if inspect.NetworkSettings == nil {
		return "", fmt.Errorf("container '%s' has no network settings", name)
	}

	if b.config.Network != "" {
		if endpoint, ok := inspect.NetworkSettings.Networks[b.config.Network]; ok && endpoint != nil && endpoint.IPAddress != "" {
			return endpoint.IPAddress, nil
		}
		return "", fmt.Errorf("container '%s' has no address on network '%s'", name, b.config.Network)
	}

	for _, networkName := range slices.Sorted(maps.Keys(inspect.NetworkSettings.Networks)) {
		if endpoint := inspect.NetworkSettings.Networks[networkName]; endpoint != nil && endpoint.IPAddress != "" {
			return endpoint.IPAddress, nil
		}
	}
	return "", fmt.Errorf("container '%s' has no address", name)
}
