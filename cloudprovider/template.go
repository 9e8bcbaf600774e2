package cloudprovider

import (
	"fmt"

	"github.com/gammadia/tca/nodegroup"
	apiv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const defaultPods = "110"

// TemplateNode describes what a new unit of the node group would look like
// once joined, so the autoscaler can simulate scheduling onto it.
func TemplateNode(config nodegroup.Config, hostname string) (*apiv1.Node, error) {
	template := config.Template

	pods := template.Pods
	if pods == "" {
		pods = defaultPods
	}

	capacity := apiv1.ResourceList{}
	for _, quantity := range []struct {
		name  apiv1.ResourceName
		value string
	}{
		{apiv1.ResourceCPU, template.CPU},
		{apiv1.ResourceMemory, template.Memory},
		{apiv1.ResourceEphemeralStorage, template.EphemeralStorage},
		{apiv1.ResourcePods, pods},
	} {
		parsed, err := resource.ParseQuantity(quantity.value)
		if err != nil {
			return nil, fmt.Errorf("node group '%s': invalid %s quantity '%s': %w", config.ID, quantity.name, quantity.value, err)
		}
		capacity[quantity.name] = parsed
	}

	labels := map[string]string{
		apiv1.LabelHostname: hostname,
		apiv1.LabelOSStable: "linux",
	}
	for key, value := range template.Labels {
		labels[key] = value
	}

	return &apiv1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name:        hostname,
			Labels:      labels,
			Annotations: map[string]string{},
		},
		Spec: apiv1.NodeSpec{
			ProviderID: hostname,
		},
		Status: apiv1.NodeStatus{
			Capacity:    capacity,
			Allocatable: capacity.DeepCopy(),
			Conditions: []apiv1.NodeCondition{
				{Type: apiv1.NodeReady, Status: apiv1.ConditionTrue},
				{Type: apiv1.NodeNetworkUnavailable, Status: apiv1.ConditionFalse},
				{Type: apiv1.NodeConditionType("OutOfDisk"), Status: apiv1.ConditionFalse},
				{Type: apiv1.NodeMemoryPressure, Status: apiv1.ConditionFalse},
				{Type: apiv1.NodeDiskPressure, Status: apiv1.ConditionFalse},
			},
		},
	}, nil
}
