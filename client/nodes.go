package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"
	"sigs.k8s.io/yaml"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes GROUP",
	Short: "List the instances of a node group",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		response, err := client.NodeGroupNodes(cmd.Context(), &protos.NodeGroupNodesRequest{Id: args[0]})
		if err != nil {
			return err
		}

		for _, instance := range response.Instances {
			cmd.Printf("%-40s  %s\n", instance.Id, formatState(instance.Status.GetInstanceState()))
			if info := instance.Status.GetErrorInfo(); info != nil {
				cmd.Printf("  %s\n", color.HiRedString("%s: %s", info.ErrorCode, info.ErrorMessage))
			}
		}
		return nil
	},
}

func formatState(state protos.InstanceStatus_InstanceState) string {
	switch state {
	case protos.InstanceStatus_instanceRunning:
		return color.HiGreenString("running")
	case protos.InstanceStatus_instanceCreating:
		return color.HiYellowString("creating")
	case protos.InstanceStatus_instanceDeleting:
		return color.HiRedString("deleting")
	default:
		return "unspecified"
	}
}

var templateCmd = &cobra.Command{
	Use:   "template GROUP",
	Short: "Show the node a new instance of the group would register as",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		response, err := client.NodeGroupTemplateNodeInfo(cmd.Context(), &protos.NodeGroupTemplateNodeInfoRequest{Id: args[0]})
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(response.NodeInfo)
		if err != nil {
			return err
		}
		cmd.Print(string(data))
		return nil
	},
}
