// Package config holds the constants shared by the server and tcactl, and the
// YAML file declaring the statically configured node groups.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gammadia/tca/nodegroup"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultListen is where the cloud provider service listens.
	DefaultListen = "0.0.0.0:8086"
	// DefaultEndpoint is where tcactl reaches a local server.
	DefaultEndpoint = "localhost:8086"
	// MaxPacketSize bounds the size of a single gRPC message.
	MaxPacketSize = 16 * 1024 * 1024

	BackendDocker    = "docker"
	BackendOpenstack = "openstack"
)

// File is the layout of tca.yaml.
type File struct {
	NodeGroups []NodeGroup `yaml:"nodeGroups"`
	Docker     Docker      `yaml:"docker"`
	Proxmox    *Proxmox    `yaml:"proxmox,omitempty"`
	Openstack  Openstack   `yaml:"openstack"`
}

// NodeGroup is a statically declared node group. Proxmox groups are generated
// from the proxmox section and never listed here.
type NodeGroup struct {
	nodegroup.Config `yaml:",inline"`
	Backend          string `yaml:"backend"`
}

type Docker struct {
	Image   string `yaml:"image,omitempty"`
	Network string `yaml:"network,omitempty"`
}

type Proxmox struct {
	Endpoint   string   `yaml:"endpoint"`
	TokenID    string   `yaml:"tokenID"`
	Secret     string   `yaml:"secret"`
	Insecure   bool     `yaml:"insecure,omitempty"`
	Datacenter string   `yaml:"datacenter,omitempty"`
	ISO        string   `yaml:"iso,omitempty"`
	Bridge     string   `yaml:"bridge,omitempty"`
	DiskSize   int      `yaml:"diskSize,omitempty"`
	Patches    []string `yaml:"patches,omitempty"`
}

type Openstack struct {
	Image          string   `yaml:"image,omitempty"`
	Flavor         string   `yaml:"flavor,omitempty"`
	Networks       []string `yaml:"networks,omitempty"`
	SecurityGroups []string `yaml:"securityGroups,omitempty"`
	BootTimeout    int      `yaml:"bootTimeout,omitempty"`
}

// Load reads and validates the file at path. A missing file yields an empty
// configuration.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, nil
	}
	if err != nil {
		return File{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (File, error) {
	var file File

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := file.validate(); err != nil {
		return File{}, err
	}
	return file, nil
}

func (f File) validate() error {
	var errs []error

	for id, groups := range lo.GroupBy(f.NodeGroups, func(g NodeGroup) string { return g.ID }) {
		if len(groups) > 1 {
			errs = append(errs, fmt.Errorf("node group '%s' is declared %d times", id, len(groups)))
		}
	}

	for _, group := range f.NodeGroups {
		if err := group.Validate(); err != nil {
			errs = append(errs, err)
		}
		switch group.Backend {
		case BackendDocker, BackendOpenstack:
		default:
			errs = append(errs, fmt.Errorf("node group '%s': unknown backend '%s'", group.ID, group.Backend))
		}
	}

	if f.Proxmox != nil && f.Proxmox.Endpoint == "" {
		errs = append(errs, fmt.Errorf("proxmox: endpoint is required"))
	}

	return errors.Join(errs...)
}
