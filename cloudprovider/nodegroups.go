package cloudprovider

import (
	"context"
	"errors"
	"fmt"

	"github.com/gammadia/tca/nodegroup"
	"github.com/samber/lo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"
)

func (p *CloudProvider) NodeGroups(ctx context.Context, req *protos.NodeGroupsRequest) (*protos.NodeGroupsResponse, error) {
	return &protos.NodeGroupsResponse{
		NodeGroups: lo.Map(p.registry.Groups(), func(group *nodegroup.Group, _ int) *protos.NodeGroup {
			return toProtoNodeGroup(group)
		}),
	}, nil
}

func (p *CloudProvider) NodeGroupForNode(ctx context.Context, req *protos.NodeGroupForNodeRequest) (*protos.NodeGroupForNodeResponse, error) {
	unmanaged := &protos.NodeGroupForNodeResponse{NodeGroup: &protos.NodeGroup{}}

	name := nodegroup.ProviderIDToName(req.GetNode().GetProviderID())
	if name == "" || !p.cache.Has(name) {
		return unmanaged, nil
	}

	group := p.registry.GroupFor(name)
	if group == nil {
		return unmanaged, nil
	}
	return &protos.NodeGroupForNodeResponse{NodeGroup: toProtoNodeGroup(group)}, nil
}

// Refresh rebuilds the instance cache from every node group. A group whose
// backend fails contributes nothing to this cycle; the others are still
// published and the failure is reported to the caller.
func (p *CloudProvider) Refresh(ctx context.Context, req *protos.RefreshRequest) (*protos.RefreshResponse, error) {
	var instances []nodegroup.Instance
	var errs []error

	for _, group := range p.registry.Groups() {
		groupInstances, err := fetchInstances(ctx, group)
		if err != nil {
			p.log.Error("Failed to fetch instances", "nodegroup", group.ID(), "error", err)
			errs = append(errs, fmt.Errorf("node group '%s': %w", group.ID(), err))
			continue
		}
		instances = append(instances, groupInstances...)
	}

	p.cache.Replace(instances)
	p.log.Debug("Instance cache refreshed", "instances", len(instances), "failures", len(errs))

	if len(errs) > 0 {
		return nil, status.Errorf(codes.Internal, "failed to refresh instances: %v", errors.Join(errs...))
	}
	return &protos.RefreshResponse{}, nil
}

// fetchInstances turns a panicking backend into that group's error.
func fetchInstances(ctx context.Context, group *nodegroup.Group) (instances []nodegroup.Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			instances, err = nil, fmt.Errorf("fetching instances panicked: %v", r)
		}
	}()
	return group.Backend().FetchInstances(ctx)
}

func (p *CloudProvider) NodeGroupTargetSize(ctx context.Context, req *protos.NodeGroupTargetSizeRequest) (*protos.NodeGroupTargetSizeResponse, error) {
	group, err := p.group(req.GetId())
	if err != nil {
		return nil, err
	}

	size := lo.CountBy(p.registry.Instances(group, p.cache), func(instance nodegroup.Instance) bool {
		return instance.Status.State != nodegroup.StateDeleting
	})
	return &protos.NodeGroupTargetSizeResponse{TargetSize: int32(size)}, nil
}

func (p *CloudProvider) NodeGroupNodes(ctx context.Context, req *protos.NodeGroupNodesRequest) (*protos.NodeGroupNodesResponse, error) {
	group, err := p.group(req.GetId())
	if err != nil {
		return nil, err
	}

	return &protos.NodeGroupNodesResponse{
		Instances: lo.Map(p.registry.Instances(group, p.cache), func(instance nodegroup.Instance, _ int) *protos.Instance {
			return &protos.Instance{
				Id:     instance.ID,
				Status: toProtoStatus(instance.Status),
			}
		}),
	}, nil
}

func (p *CloudProvider) NodeGroupTemplateNodeInfo(ctx context.Context, req *protos.NodeGroupTemplateNodeInfoRequest) (*protos.NodeGroupTemplateNodeInfoResponse, error) {
	group, err := p.group(req.GetId())
	if err != nil {
		return nil, err
	}

	node, err := TemplateNode(group.Config(), nodegroup.NewNodeName(group.ID()))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &protos.NodeGroupTemplateNodeInfoResponse{NodeInfo: node}, nil
}

// NodeGroupGetOptions echoes the defaults: node groups have no option overrides.
func (p *CloudProvider) NodeGroupGetOptions(ctx context.Context, req *protos.NodeGroupAutoscalingOptionsRequest) (*protos.NodeGroupAutoscalingOptionsResponse, error) {
	if _, err := p.group(req.GetId()); err != nil {
		return nil, err
	}
	return &protos.NodeGroupAutoscalingOptionsResponse{NodeGroupAutoscalingOptions: req.GetDefaults()}, nil
}

func (p *CloudProvider) NodeGroupDecreaseTargetSize(ctx context.Context, req *protos.NodeGroupDecreaseTargetSizeRequest) (*protos.NodeGroupDecreaseTargetSizeResponse, error) {
	p.log.Warn("Decreasing the target size is not supported", "nodegroup", req.GetId(), "delta", req.GetDelta())
	return nil, status.Error(codes.Unimplemented, "decreasing the target size is not supported")
}

func (p *CloudProvider) PricingNodePrice(ctx context.Context, req *protos.PricingNodePriceRequest) (*protos.PricingNodePriceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "pricing is not supported")
}

func (p *CloudProvider) PricingPodPrice(ctx context.Context, req *protos.PricingPodPriceRequest) (*protos.PricingPodPriceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "pricing is not supported")
}

func (p *CloudProvider) GPULabel(ctx context.Context, req *protos.GPULabelRequest) (*protos.GPULabelResponse, error) {
	return &protos.GPULabelResponse{Label: GPULabel}, nil
}

func (p *CloudProvider) GetAvailableGPUTypes(ctx context.Context, req *protos.GetAvailableGPUTypesRequest) (*protos.GetAvailableGPUTypesResponse, error) {
	return &protos.GetAvailableGPUTypesResponse{GpuTypes: map[string]*anypb.Any{}}, nil
}

func (p *CloudProvider) Cleanup(ctx context.Context, req *protos.CleanupRequest) (*protos.CleanupResponse, error) {
	return &protos.CleanupResponse{}, nil
}

func (p *CloudProvider) group(id string) (*nodegroup.Group, error) {
	group, err := p.registry.Get(id)
	if err != nil {
		p.log.Warn("Unknown node group", "nodegroup", id)
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return group, nil
}

func toProtoNodeGroup(group *nodegroup.Group) *protos.NodeGroup {
	return &protos.NodeGroup{
		Id:      group.ID(),
		MinSize: int32(group.MinSize()),
		MaxSize: int32(group.MaxSize()),
		Debug:   group.ID(),
	}
}

func toProtoStatus(s nodegroup.Status) *protos.InstanceStatus {
	instanceStatus := &protos.InstanceStatus{}

	switch s.State {
	case nodegroup.StateRunning:
		instanceStatus.InstanceState = protos.InstanceStatus_instanceRunning
	case nodegroup.StateCreating:
		instanceStatus.InstanceState = protos.InstanceStatus_instanceCreating
	case nodegroup.StateDeleting:
		instanceStatus.InstanceState = protos.InstanceStatus_instanceDeleting
	default:
		instanceStatus.InstanceState = protos.InstanceStatus_unspecified
	}

	if s.Error != nil {
		instanceStatus.ErrorInfo = &protos.InstanceErrorInfo{
			ErrorCode:          s.Error.Code,
			ErrorMessage:       s.Error.Message,
			InstanceErrorClass: s.Error.Class,
		}
	}
	return instanceStatus
}
