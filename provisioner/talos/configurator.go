// Package talos joins units to a Talos cluster with talhelper and talosctl, and
// removes them from the cluster again.
package talos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"time"

	"github.com/gammadia/tca/cloudprovider"
	"github.com/gammadia/tca/provisioner/internal"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Port of the Talos machine API.
const apidPort = "50000"

type Config struct {
	// Directory holding talconfig.yaml, where talhelper commands run.
	Workdir string
	// Pause between two readiness probes of a booting unit.
	ReadinessInterval time.Duration
	// How long to wait for a removed unit to stop answering.
	UnreachableTimeout time.Duration
	// Whether to run `talosctl reset` before the backend removes a unit.
	ResetBeforeRemove bool

	Logger *slog.Logger
	Runner internal.Runner
	// Optional; Kubernetes Node objects are left in place when nil.
	Kubernetes kubernetes.Interface
	// Optional; defaults to a net.Dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

type Configurator struct {
	config Config
	log    *slog.Logger
}

// Configurator implements cloudprovider.Configurator
var _ cloudprovider.Configurator = (*Configurator)(nil)

func New(config Config) *Configurator {
	if config.Workdir == "" {
		config.Workdir = "."
	}
	if config.ReadinessInterval <= 0 {
		config.ReadinessInterval = 5 * time.Second
	}
	if config.UnreachableTimeout <= 0 {
		config.UnreachableTimeout = 2 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Runner == nil {
		config.Runner = &internal.CommandRunner{Log: config.Logger}
	}
	if config.Dial == nil {
		dialer := &net.Dialer{Timeout: 2 * time.Second}
		config.Dial = dialer.DialContext
	}

	return &Configurator{
		config: config,
		log:    config.Logger,
	}
}

func (c *Configurator) Join(ctx context.Context, node cloudprovider.Node) error {
	log := c.log.With("node", node.Name, "address", node.Address)

	if err := c.generate(ctx, node); err != nil {
		return err
	}
	log.Debug("Talos configuration generated")

	ready := internal.Paced(c.config.ReadinessInterval, func(ctx context.Context) error {
		_, err := c.talosctl(ctx, "get", "version", "-n", node.Address, "-e", node.Address, "--insecure")
		return err
	})
	if err := internal.UntilSuccess(ctx, ready); err != nil {
		return fmt.Errorf("'%s' never became ready: %w", node.Name, err)
	}
	log.Info("Talos is ready to accept its configuration")

	if _, err := internal.Pipe(ctx, c.config.Runner, c.config.Workdir, "talhelper", "gencommand", "apply", "--extra-flags", "--insecure"); err != nil {
		return fmt.Errorf("failed to apply configuration to '%s': %w", node.Name, err)
	}
	log.Info("Talos configuration applied")
	return nil
}

func (c *Configurator) Reset(ctx context.Context, node cloudprovider.Node) error {
	if err := c.generate(ctx, node); err != nil {
		return err
	}

	if c.config.ResetBeforeRemove {
		talosconfig := filepath.Join("clusterconfig", "talosconfig")
		if _, err := c.talosctl(ctx, "reset", "--talosconfig", talosconfig, "-n", node.Address, "-e", node.Address, "--wait=false"); err != nil {
			c.log.Warn("Failed to reset node, removing it anyway", "node", node.Name, "error", err)
		}
	}
	return nil
}

func (c *Configurator) Forget(ctx context.Context, node cloudprovider.Node) error {
	log := c.log.With("node", node.Name)

	if node.Address != "" {
		waitCtx, cancel := context.WithTimeout(ctx, c.config.UnreachableTimeout)
		defer cancel()

		reachable := internal.Paced(c.config.ReadinessInterval, func(ctx context.Context) error {
			conn, err := c.config.Dial(ctx, "tcp", net.JoinHostPort(node.Address, apidPort))
			if err != nil {
				return err
			}
			return conn.Close()
		})
		if err := internal.UntilFailure(waitCtx, reachable); err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Warn("Node still answers after removal", "timeout", c.config.UnreachableTimeout)
		}
	}

	if c.config.Kubernetes == nil {
		log.Debug("No Kubernetes client, leaving node object in place")
		return nil
	}

	err := c.config.Kubernetes.CoreV1().Nodes().Delete(ctx, node.Name, metav1.DeleteOptions{})
	switch {
	case apierrors.IsNotFound(err):
		log.Debug("Kubernetes node already gone")
	case err != nil:
		return fmt.Errorf("failed to delete Kubernetes node '%s': %w", node.Name, err)
	default:
		log.Info("Kubernetes node deleted")
	}
	return nil
}

func (c *Configurator) generate(ctx context.Context, node cloudprovider.Node) error {
	if node.Address == "" {
		return errors.New("node has no address")
	}

	entry, err := newNodeEntry(node)
	if err != nil {
		return err
	}
	if err := writeTalconfig(filepath.Join(c.config.Workdir, talconfigFile), entry); err != nil {
		return err
	}
	if _, err := c.config.Runner.Run(ctx, c.config.Workdir, "talhelper", "genconfig"); err != nil {
		return fmt.Errorf("failed to generate configuration for '%s': %w", node.Name, err)
	}
	return nil
}

func (c *Configurator) talosctl(ctx context.Context, args ...string) ([]byte, error) {
	return c.config.Runner.Run(ctx, c.config.Workdir, "talosctl", args...)
}
