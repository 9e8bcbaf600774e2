package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/gammadia/tca/client/ui"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"
)

var scaleUpCmd = &cobra.Command{
	Use:   "scale-up GROUP [DELTA]",
	Short: "Add instances to a node group, waiting until they joined the cluster",
	Args:  cobra.RangeArgs(1, 2),

	RunE: func(cmd *cobra.Command, args []string) error {
		delta := 1
		if len(args) > 1 {
			var err error
			if delta, err = strconv.Atoi(args[1]); err != nil || delta <= 0 {
				return fmt.Errorf("invalid delta '%s', expected a positive number", args[1])
			}
		}

		msg := fmt.Sprintf("Adding %d node(s) to '%s'", delta, args[0])
		spinner := ui.NewSpinner(msg)
		if _, err := client.NodeGroupIncreaseSize(cmd.Context(), &protos.NodeGroupIncreaseSizeRequest{
			Id:    args[0],
			Delta: int32(delta),
		}); err != nil {
			spinner.Fail()
			return err
		}
		spinner.Success()

		cmd.Println(color.HiGreenString("Added %d node(s) to '%s'", delta, args[0]))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete GROUP NODE...",
	Short: "Remove instances from a node group",
	Args:  cobra.MinimumNArgs(2),

	RunE: func(cmd *cobra.Command, args []string) error {
		nodes := lo.Map(args[1:], func(name string, _ int) *protos.ExternalGrpcNode {
			return &protos.ExternalGrpcNode{Name: name, ProviderID: name}
		})

		spinner := ui.NewSpinner(fmt.Sprintf("Removing %d node(s) from '%s'", len(nodes), args[0]))
		if _, err := client.NodeGroupDeleteNodes(cmd.Context(), &protos.NodeGroupDeleteNodesRequest{
			Id:    args[0],
			Nodes: nodes,
		}); err != nil {
			spinner.Fail()
			return err
		}
		spinner.Success()

		cmd.Println(color.HiGreenString("Removed %d node(s) from '%s'", len(nodes), args[0]))
		return nil
	},
}
