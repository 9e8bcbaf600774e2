package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gammadia/tca/allocation"
	"github.com/gammadia/tca/cloudprovider"
	"github.com/gammadia/tca/jobqueue"
	"github.com/gammadia/tca/metrics"
	"github.com/gammadia/tca/nodegroup"
	"github.com/gammadia/tca/provisioner/talos"
	"github.com/gammadia/tca/server/backends"
	"github.com/gammadia/tca/server/config"
	"github.com/gammadia/tca/server/flags"
	"github.com/gammadia/tca/server/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

// Global context for shutdown cascading. When cancel() is called (from signal handler),
// all goroutines watching ctx.Done() begin their shutdown sequence.
var ctx, cancel = context.WithCancel(context.Background())

// wg tracks the long running goroutines: job queue, gRPC server, metrics
// listener and capacity probe. main() only exits once they are all done.
var wg sync.WaitGroup

func main() {
	// Setup logger first as this will be used to report progress of the rest of the setup
	if err := log.Init(); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(1)
	}
	log.Info("Talos cluster autoscaler starting up...", "version", version, "commit", commit)

	file, err := config.Load(viper.GetString(flags.Config))
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	strategy, err := allocation.ParseStrategy(viper.GetString(flags.AllocationStrategy))
	if err != nil {
		log.Error("Invalid allocation strategy", "error", err)
		os.Exit(1)
	}

	kube, err := kubernetesClient()
	if err != nil {
		log.Error("Failed to connect to Kubernetes", "error", err)
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	setupInterrupts()

	// Register node groups, probing proxmox once if it is configured
	registry := nodegroup.NewRegistry()
	prox, err := backends.Register(ctx, registry, file, strategy, backends.DefaultClients(), log.Component("provisioner"))
	if err != nil {
		log.Error("Failed to register node groups", "error", err)
		os.Exit(1)
	}
	if len(registry.Groups()) == 0 {
		log.Warn("No node group configured, the autoscaler will have nothing to scale")
	}

	// Setup job queue and cloud provider
	observer := metrics.NewJobObserver()
	queue := jobqueue.New(jobqueue.Config{
		Logger:   log.Component("jobqueue"),
		Observer: observer,
	})
	cache := nodegroup.NewCache()
	provider := cloudprovider.New(registry, cache, queue, cloudprovider.Config{
		Logger: log.Component("cloudprovider"),
		Configurator: talos.New(talos.Config{
			Workdir:           viper.GetString(flags.TalosWorkdir),
			ReadinessInterval: viper.GetDuration(flags.TalosReadinessInterval),
			ResetBeforeRemove: viper.GetBool(flags.TalosReset),
			Logger:            log.Component("talos"),
			Kubernetes:        kube,
		}),
	})

	// Setup gRPC server
	options := []grpc.ServerOption{grpc.MaxRecvMsgSize(config.MaxPacketSize)}
	if cert := viper.GetString(flags.TLSCert); cert != "" {
		creds, err := cloudprovider.TLSCredentials(cert, viper.GetString(flags.TLSKey))
		if err != nil {
			log.Error("Failed to load TLS credentials", "error", err)
			os.Exit(1)
		}
		options = append(options, creds)
	} else {
		log.Warn("No TLS certificate given, serving plaintext")
	}
	s := cloudprovider.NewServer(provider, options...)

	lis, err := net.Listen("tcp", viper.GetString(flags.Listen))
	if err != nil {
		log.Error("Failed to listen", "error", err)
		os.Exit(1)
	}

	// Job queue goroutine: Run() blocks in its event loop until Shutdown() is called.
	// Shutdown() fails every pending job with jobqueue.ErrClosed, which unblocks
	// the RPCs waiting on them, and Wait() blocks until the running job settled.
	wg.Add(1)
	go queue.Run()
	go func() {
		<-ctx.Done()
		queue.Shutdown()
		queue.Wait()
		wg.Done()
	}()

	// gRPC server goroutine. A nested goroutine watches for shutdown and calls
	// GracefulStop(), which stops accepting new connections and waits for in-flight
	// RPCs to complete. Then Serve() returns and wg.Done() unblocks main.
	wg.Add(1)
	go func() {
		go func() {
			<-ctx.Done()
			s.GracefulStop()
		}()

		log.Info("Server listening", "address", lis.Addr())
		if err := s.Serve(lis); err != nil {
			log.Error("Failed to serve", "error", err)
			os.Exit(1)
		}
		wg.Done()
	}()

	if address := viper.GetString(flags.MetricsListen); address != "" {
		serveMetrics(address, metrics.NewCollector(queue, cache, registry), observer)
	}

	if prox != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prox.Run(ctx, viper.GetDuration(flags.CapacityProbeInterval))
		}()
	}

	wg.Wait()
	log.Info("Shutdown completed. Bye!")
}

func serveMetrics(address string, collectors ...prometheus.Collector) {
	handler, err := metrics.Handler(collectors...)
	if err != nil {
		log.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	wg.Add(1)
	go func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = server.Shutdown(shutdownCtx)
		}()

		log.Info("Metrics listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to serve metrics", "error", err)
			os.Exit(1)
		}
		wg.Done()
	}()
}

// setupInterrupts handles SIGINT and SIGTERM with a double-tap pattern:
// - First signal: calls cancel() which cascades shutdown through ctx.Done() to all goroutines
// - Second signal: forces immediate exit (in case graceful shutdown hangs)
func setupInterrupts() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		log.Info("Shutdown signal received, attempting graceful shutdown")
		cancel()
		<-sig
		log.Warn("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()
}
