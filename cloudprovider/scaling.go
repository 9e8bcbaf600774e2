package cloudprovider

import (
	"context"
	"errors"
	"fmt"

	"github.com/gammadia/tca/jobqueue"
	"github.com/gammadia/tca/nodegroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"
)

const (
	jobDeploy = "deploy"
	jobRemove = "remove"
)

// NodeGroupIncreaseSize provisions delta units one at a time: each unit is
// allocated then deployed before the next one is allocated. The first failure
// aborts the remaining units; units already deployed are kept.
func (p *CloudProvider) NodeGroupIncreaseSize(ctx context.Context, req *protos.NodeGroupIncreaseSizeRequest) (*protos.NodeGroupIncreaseSizeResponse, error) {
	group, err := p.group(req.GetId())
	if err != nil {
		return nil, err
	}

	delta := int(req.GetDelta())
	if delta <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "size increase must be positive, got %d", delta)
	}

	log := p.log.With("nodegroup", group.ID())
	log.Info("Increasing node group size", "delta", delta)

	for i := range delta {
		name := nodegroup.NewNodeName(group.ID())

		if err := group.Backend().AllocateNode(ctx, name); err != nil {
			log.Error("Failed to allocate node", "node", name, "error", err)
			return nil, status.Errorf(codes.ResourceExhausted, "failed to allocate node '%s' (%d of %d): %v", name, i+1, delta, err)
		}

		if err := p.queue.Enqueue(jobDeploy, name, p.deployJob(group, name)).Wait(); err != nil {
			log.Error("Failed to deploy node", "node", name, "error", err)
			return nil, jobStatus(err, "failed to deploy node '%s'", name)
		}
		log.Info("Node deployed", "node", name)
	}

	return &protos.NodeGroupIncreaseSizeResponse{}, nil
}

// NodeGroupDeleteNodes removes the named nodes one job at a time. Nodes unknown
// to the instance cache are skipped. A failing node does not stop the others;
// the first failure is reported once all nodes were processed.
func (p *CloudProvider) NodeGroupDeleteNodes(ctx context.Context, req *protos.NodeGroupDeleteNodesRequest) (*protos.NodeGroupDeleteNodesResponse, error) {
	group, err := p.group(req.GetId())
	if err != nil {
		return nil, err
	}

	log := p.log.With("nodegroup", group.ID())

	var first error
	for _, node := range req.GetNodes() {
		name := node.GetName()
		if name == "" {
			name = nodegroup.ProviderIDToName(node.GetProviderID())
		}

		if !p.cache.Has(name) {
			log.Debug("Skipping node unknown to the instance cache", "node", name)
			continue
		}
		if !p.registry.Owns(group, name) {
			log.Warn("Refusing to delete node of another node group", "node", name)
			if first == nil {
				first = status.Errorf(codes.InvalidArgument, "node '%s' does not belong to node group '%s'", name, group.ID())
			}
			continue
		}

		log.Info("Deleting node", "node", name)
		if err := p.queue.Enqueue(jobRemove, name, p.removeJob(group, name)).Wait(); err != nil {
			log.Error("Failed to delete node", "node", name, "error", err)
			if first == nil {
				first = jobStatus(err, "failed to delete node '%s'", name)
			}
			continue
		}
		log.Info("Node deleted", "node", name)
	}

	if first != nil {
		return nil, first
	}
	return &protos.NodeGroupDeleteNodesResponse{}, nil
}

func (p *CloudProvider) deployJob(group *nodegroup.Group, name string) jobqueue.Func {
	return func(ctx context.Context) error {
		address, err := group.Backend().ResolveAddress(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to resolve address of '%s': %w", name, err)
		}

		return p.configurator.Join(ctx, Node{Name: name, Address: address, Group: group.Config()})
	}
}

func (p *CloudProvider) removeJob(group *nodegroup.Group, name string) jobqueue.Func {
	return func(ctx context.Context) error {
		address, err := group.Backend().ResolveAddress(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to resolve address of '%s': %w", name, err)
		}
		node := Node{Name: name, Address: address, Group: group.Config()}

		if err := p.configurator.Reset(ctx, node); err != nil {
			return fmt.Errorf("failed to reset '%s': %w", name, err)
		}
		if err := group.Backend().RemoveNode(ctx, name); err != nil {
			return fmt.Errorf("failed to remove '%s': %w", name, err)
		}
		if err := p.configurator.Forget(ctx, node); err != nil {
			return fmt.Errorf("failed to forget '%s': %w", name, err)
		}
		return nil
	}
}

func jobStatus(err error, format string, args ...any) error {
	message := fmt.Sprintf(format, args...)
	if errors.Is(err, jobqueue.ErrClosed) {
		return status.Errorf(codes.Unavailable, "%s: %v", message, err)
	}
	return status.Errorf(codes.Internal, "%s: %v", message, err)
}
