package main

import (
	"github.com/fatih/color"
	"github.com/gammadia/tca/client/ui"
	"github.com/spf13/cobra"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List node groups",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		response, err := client.NodeGroups(cmd.Context(), &protos.NodeGroupsRequest{})
		if err != nil {
			return err
		}

		for _, group := range response.NodeGroups {
			size, err := client.NodeGroupTargetSize(cmd.Context(), &protos.NodeGroupTargetSizeRequest{Id: group.Id})
			if err != nil {
				return err
			}
			cmd.Printf("%-40s  size %3d  min %3d  max %3d\n", color.HiCyanString(group.Id), size.TargetSize, group.MinSize, group.MaxSize)
			if verbose && group.Debug != "" {
				cmd.Printf("  %s\n", group.Debug)
			}
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the instances known to the server",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		spinner := ui.NewSpinner("Refreshing instances")
		if _, err := client.Refresh(cmd.Context(), &protos.RefreshRequest{}); err != nil {
			spinner.Fail()
			return err
		}
		spinner.Success()
		return nil
	},
}

var sizeCmd = &cobra.Command{
	Use:   "size GROUP",
	Short: "Show the target size of a node group",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		response, err := client.NodeGroupTargetSize(cmd.Context(), &protos.NodeGroupTargetSizeRequest{Id: args[0]})
		if err != nil {
			return err
		}
		cmd.Println(response.TargetSize)
		return nil
	},
}
