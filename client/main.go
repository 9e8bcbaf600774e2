package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gammadia/tca/server/config"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var clientConn *grpc.ClientConn
var client protos.CloudProviderClient

var verbose bool

var tcactlCmd = &cobra.Command{
	Use:   "tcactl",
	Short: "tcactl drives a Talos cluster autoscaler by hand.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if err != nil {
				err = fmt.Errorf("failed to connect to gRPC client: %w", err)
			}
		}()

		creds, err := transportCredentials(cmd)
		if err != nil {
			return err
		}

		clientConn, err = grpc.NewClient(
			lo.Must(cmd.Flags().GetString("remote")),
			grpc.WithTransportCredentials(creds),
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(config.MaxPacketSize)),
		)
		if err != nil {
			return fmt.Errorf("failed to dial gRPC: %w", err)
		}

		client = protos.NewCloudProviderClient(clientConn)
		return nil
	},

	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if clientConn != nil {
			return clientConn.Close()
		}
		return nil
	},
}

func transportCredentials(cmd *cobra.Command) (credentials.TransportCredentials, error) {
	if lo.Must(cmd.Flags().GetBool("plaintext")) {
		return insecure.NewCredentials(), nil
	}

	if ca := lo.Must(cmd.Flags().GetString("ca-cert")); ca != "" {
		creds, err := credentials.NewClientTLSFromFile(ca, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
		return creds, nil
	}

	return credentials.NewTLS(&tls.Config{
		InsecureSkipVerify: lo.Must(cmd.Flags().GetBool("insecure-skip-verify")),
	}), nil
}

func init() {
	tcactlCmd.AddCommand(completionCmd)
	tcactlCmd.AddCommand(deleteCmd)
	tcactlCmd.AddCommand(groupsCmd)
	tcactlCmd.AddCommand(nodesCmd)
	tcactlCmd.AddCommand(refreshCmd)
	tcactlCmd.AddCommand(scaleUpCmd)
	tcactlCmd.AddCommand(sizeCmd)
	tcactlCmd.AddCommand(templateCmd)
	tcactlCmd.AddCommand(versionCmd)

	tcactlCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	tcactlCmd.PersistentFlags().String("remote", lo.Must(lo.Coalesce(os.Getenv("TCA_REMOTE"), config.DefaultEndpoint)), "the server remote address")
	tcactlCmd.PersistentFlags().Bool("plaintext", false, "connect without TLS")
	tcactlCmd.PersistentFlags().String("ca-cert", "", "CA certificate used to verify the server")
	tcactlCmd.PersistentFlags().Bool("insecure-skip-verify", false, "do not verify the server certificate")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tcactlCmd.SetOut(os.Stdout)
	if err := tcactlCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}
