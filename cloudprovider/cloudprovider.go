// Package cloudprovider exposes the registered node groups to the cluster
// autoscaler through its externalgrpc CloudProvider protocol.
package cloudprovider

import (
	"context"
	"io"
	"log/slog"

	"github.com/gammadia/tca/jobqueue"
	"github.com/gammadia/tca/nodegroup"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"
)

// GPULabel is the label carried by nodes with GPU resources.
const GPULabel = "talos-cluster-autoscaler/gpu-node"

// Node identifies a unit handed to a Configurator.
type Node struct {
	Name    string
	Address string
	Group   nodegroup.Config
}

// Configurator turns an allocated unit into a cluster member and back. Its
// methods run inside jobs, never concurrently with each other.
type Configurator interface {
	// Join configures the unit and waits until it accepted its configuration.
	Join(ctx context.Context, node Node) error
	// Reset prepares the unit for removal, before the backend deletes it.
	Reset(ctx context.Context, node Node) error
	// Forget cleans up after the backend deleted the unit.
	Forget(ctx context.Context, node Node) error
}

// Config holds the optional collaborators of a CloudProvider.
type Config struct {
	Logger       *slog.Logger
	Configurator Configurator
}

// CloudProvider holds the process-wide state served over the protocol: the
// node group registry, the instance cache and the provisioning job queue.
type CloudProvider struct {
	protos.UnimplementedCloudProviderServer

	registry     *nodegroup.Registry
	cache        *nodegroup.Cache
	queue        *jobqueue.Queue
	configurator Configurator
	log          *slog.Logger
}

// CloudProvider implements protos.CloudProviderServer
var _ protos.CloudProviderServer = (*CloudProvider)(nil)

func New(registry *nodegroup.Registry, cache *nodegroup.Cache, queue *jobqueue.Queue, config Config) *CloudProvider {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	configurator := config.Configurator
	if configurator == nil {
		configurator = NopConfigurator{}
	}

	return &CloudProvider{
		registry:     registry,
		cache:        cache,
		queue:        queue,
		configurator: configurator,
		log:          logger,
	}
}

// NopConfigurator leaves units as the backend created them.
type NopConfigurator struct{}

func (NopConfigurator) Join(context.Context, Node) error   { return nil }
func (NopConfigurator) Reset(context.Context, Node) error  { return nil }
func (NopConfigurator) Forget(context.Context, Node) error { return nil }
