package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gammadia/tca/allocation"
	"github.com/gammadia/tca/server/config"
	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"

	Listen        = "listen"
	TLSCert       = "tls-cert"
	TLSKey        = "tls-key"
	Config        = "config"
	MetricsListen = "metrics-listen"

	TalosWorkdir           = "talos-workdir"
	TalosReadinessInterval = "talos-readiness-interval"
	TalosReset             = "talos-reset"
	Kubeconfig             = "kubeconfig"

	AllocationStrategy    = "allocation-strategy"
	CapacityProbeInterval = "capacity-probe-interval"
)

func init() {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	// Server
	flags.String(LogFormat, "json", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.String(Listen, config.DefaultListen, "address the cloud provider service listens on")
	flags.String(TLSCert, "cert/tls.crt", "TLS certificate, plaintext is served when empty")
	flags.String(TLSKey, "cert/tls.key", "TLS private key")
	flags.String(Config, "tca.yaml", "node groups and backends configuration file")
	flags.String(MetricsListen, "", "address serving prometheus metrics, disabled when empty")

	// Talos
	flags.String(TalosWorkdir, ".", "directory holding talconfig.yaml")
	flags.Duration(TalosReadinessInterval, 5*time.Second, "how long to wait between two readiness probes of a new node")
	flags.Bool(TalosReset, false, "reset nodes with talosctl before removing them")
	flags.String(Kubeconfig, "", "kubeconfig used to delete removed nodes, in-cluster config when empty")

	// Proxmox
	flags.String(AllocationStrategy, string(allocation.MostFree), "how hosts are picked (most-free, least-free)")
	flags.Duration(CapacityProbeInterval, 1*time.Minute, "how often proxmox hosts capacity is probed")

	// Init
	if err := flags.Parse(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	viper.SetEnvPrefix("tca")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}
