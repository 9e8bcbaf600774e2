package backends

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gammadia/tca/allocation"
	"github.com/gammadia/tca/nodegroup"
	"github.com/gammadia/tca/provisioner/docker"
	"github.com/gammadia/tca/provisioner/proxmox"
	"github.com/gammadia/tca/server/config"
	"github.com/gophercloud/gophercloud"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Registration never calls the docker API, a nil embedded client is enough.
type fakeDocker struct {
	docker.Client
}

type fakeProxmox struct {
	proxmox.API
}

func (fakeProxmox) Hosts(context.Context) ([]proxmox.Host, error) {
	return []proxmox.Host{{Name: "pve1", Status: "online", MaxCPU: 16, MaxMem: 64 << 30}}, nil
}

func (fakeProxmox) Storages(context.Context, string) ([]proxmox.Storage, error) {
	return []proxmox.Storage{{Name: "local", Content: "iso,vztmpl"}, {Name: "local-lvm", Content: "images"}}, nil
}

func (fakeProxmox) VirtualMachines(context.Context, string) ([]proxmox.VirtualMachine, error) {
	return nil, nil
}

type counters struct {
	docker, openstack, proxmox int
}

func newClients(c *counters) *Clients {
	return &Clients{
		Docker: func() (docker.Client, error) {
			c.docker++
			return fakeDocker{}, nil
		},
		Openstack: func() (*gophercloud.ServiceClient, error) {
			c.openstack++
			return &gophercloud.ServiceClient{}, nil
		},
		Proxmox: func(config.Proxmox) proxmox.API {
			c.proxmox++
			return fakeProxmox{}
		},
	}
}

func group(id, backend string) config.NodeGroup {
	g := config.NodeGroup{Backend: backend}
	g.ID = id
	g.MaxSize = 3
	g.Template = nodegroup.Template{CPU: "2", Memory: "4Gi", EphemeralStorage: "20Gi"}
	return g
}

func ids(registry *nodegroup.Registry) []string {
	return lo.Map(registry.Groups(), func(g *nodegroup.Group, _ int) string { return g.ID() })
}

func TestRegister_StaticGroups(t *testing.T) {
	var c counters
	registry := nodegroup.NewRegistry()
	file := config.File{NodeGroups: []config.NodeGroup{group("a", "docker"), group("b", "docker")}}

	provider, err := Register(context.Background(), registry, file, allocation.MostFree, newClients(&c), discard)
	require.NoError(t, err)
	assert.Nil(t, provider)

	assert.Equal(t, []string{"a", "b"}, ids(registry))
	assert.Equal(t, counters{docker: 1}, c, "docker client is shared, others are never created")
}

func TestRegister_Openstack(t *testing.T) {
	var c counters
	registry := nodegroup.NewRegistry()
	file := config.File{
		NodeGroups: []config.NodeGroup{group("os", "openstack")},
		Openstack:  config.Openstack{Flavor: "m1.large", Networks: []string{"net-1"}},
	}

	_, err := Register(context.Background(), registry, file, allocation.MostFree, newClients(&c), discard)
	require.NoError(t, err)
	assert.Equal(t, []string{"os"}, ids(registry))
	assert.Equal(t, counters{openstack: 1}, c)
}

func TestRegister_Proxmox(t *testing.T) {
	var c counters
	registry := nodegroup.NewRegistry()
	file := config.File{
		NodeGroups: []config.NodeGroup{group("a", "docker")},
		Proxmox:    &config.Proxmox{Endpoint: "https://pve:8006/api2/json", Datacenter: "gva"},
	}

	provider, err := Register(context.Background(), registry, file, allocation.MostFree, newClients(&c), discard)
	require.NoError(t, err)
	require.NotNil(t, provider)

	assert.Equal(t, []string{
		"a",
		"proxmox-gva-small",
		"proxmox-gva-medium",
		"proxmox-gva-large",
		"proxmox-gva-xlarge",
	}, ids(registry))
	assert.Len(t, provider.Snapshot(), 1)
}

func TestRegister_InvalidTemplate(t *testing.T) {
	var c counters
	bad := group("a", "docker")
	bad.Template.Memory = "lots"

	_, err := Register(context.Background(), nodegroup.NewRegistry(), config.File{NodeGroups: []config.NodeGroup{bad}}, allocation.MostFree, newClients(&c), discard)
	assert.ErrorContains(t, err, "invalid template: node group 'a': invalid memory quantity 'lots'")
}

func TestRegister_ClientFailure(t *testing.T) {
	clients := &Clients{
		Docker: func() (docker.Client, error) { return nil, errors.New("no daemon") },
	}

	_, err := Register(context.Background(), nodegroup.NewRegistry(), config.File{NodeGroups: []config.NodeGroup{group("a", "docker")}}, allocation.MostFree, clients, discard)
	assert.ErrorContains(t, err, "node group 'a': no daemon")
}
