package docker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/gammadia/tca/nodegroup"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDocker struct {
	mu sync.Mutex

	created []*container.Config
	hosts   []*container.HostConfig
	nets    []*network.NetworkingConfig
	started []string
	removed []string

	containers []container.Summary
	inspect    container.InspectResponse

	startErr  error
	removeErr error
	// removeErr is returned by this many calls only, every call when zero
	removeFailures int
	removeCalls    int
}

func (m *mockDocker) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, config)
	m.hosts = append(m.hosts, hostConfig)
	m.nets = append(m.nets, networkingConfig)
	return container.CreateResponse{ID: "id-" + name}, nil
}

func (m *mockDocker) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, id)
	return nil
}

func (m *mockDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls++
	if m.removeErr != nil && (m.removeFailures == 0 || m.removeCalls <= m.removeFailures) {
		return m.removeErr
	}
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockDocker) ContainerList(context.Context, container.ListOptions) ([]container.Summary, error) {
	return m.containers, nil
}

func (m *mockDocker) ContainerInspect(context.Context, string) (container.InspectResponse, error) {
	return m.inspect, nil
}

func (m *mockDocker) ImageList(context.Context, image.ListOptions) ([]image.Summary, error) {
	return []image.Summary{{}}, nil
}

func (m *mockDocker) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func newTestBackend(docker *mockDocker, network string) *Backend {
	return New(docker, Config{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Group:   "docker",
		Network: network,
	})
}

func TestFetchInstancesMapsContainerStates(t *testing.T) {
	docker := &mockDocker{containers: []container.Summary{
		{Names: []string{"/tca-docker-aaaaaaaa"}, State: "running"},
		{Names: []string{"/tca-docker-bbbbbbbb"}, State: "created"},
		{Names: []string{"/tca-docker-cccccccc"}, State: "removing"},
		{Names: []string{"/tca-docker-dddddddd"}, State: "exited", Status: "Exited (1) 2 minutes ago"},
		{Names: nil, State: "running"},
	}}

	instances, err := newTestBackend(docker, "").FetchInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 4)

	assert.Equal(t, "tca-docker-aaaaaaaa", instances[0].ID)
	assert.Equal(t, nodegroup.StateRunning, instances[0].Status.State)
	assert.Equal(t, nodegroup.StateCreating, instances[1].Status.State)
	assert.Equal(t, nodegroup.StateDeleting, instances[2].Status.State)

	failed := instances[3].Status
	assert.Equal(t, nodegroup.StateCreating, failed.State)
	require.NotNil(t, failed.Error)
	assert.Equal(t, int32(otherErrorClass), failed.Error.Class)
	assert.Contains(t, failed.Error.Message, "Exited (1)")
}

func TestAllocateNodeStartsTalosContainer(t *testing.T) {
	docker := &mockDocker{}

	require.NoError(t, newTestBackend(docker, "talos").AllocateNode(context.Background(), "tca-docker-aaaaaaaa"))

	require.Len(t, docker.created, 1)
	config := docker.created[0]
	assert.Equal(t, DefaultImage, config.Image)
	assert.Equal(t, "tca-docker-aaaaaaaa", config.Hostname)
	assert.Contains(t, config.Env, "PLATFORM=container")
	assert.Equal(t, "docker", config.Labels[labelGroup])

	host := docker.hosts[0]
	assert.True(t, host.Privileged)
	assert.True(t, host.ReadonlyRootfs)
	assert.Contains(t, host.Mounts, mount.Mount{Type: mount.TypeTmpfs, Target: "/run"})
	assert.Contains(t, host.Mounts, mount.Mount{Type: mount.TypeVolume, Target: "/system/state"})

	require.NotNil(t, docker.nets[0])
	assert.Contains(t, docker.nets[0].EndpointsConfig, "talos")
	assert.Equal(t, []string{"id-tca-docker-aaaaaaaa"}, docker.started)
}

func TestAllocateNodeRemovesContainerThatFailedToStart(t *testing.T) {
	docker := &mockDocker{startErr: errors.New("no space left on device")}

	err := newTestBackend(docker, "").AllocateNode(context.Background(), "tca-docker-aaaaaaaa")
	require.ErrorContains(t, err, "no space left on device")
	assert.Equal(t, []string{"id-tca-docker-aaaaaaaa"}, docker.removed)
}

func TestRemoveNodeIgnoresMissingContainer(t *testing.T) {
	docker := &mockDocker{removeErr: errdefs.NotFound(errors.New("no such container"))}
	require.NoError(t, newTestBackend(docker, "").RemoveNode(context.Background(), "tca-docker-aaaaaaaa"))

	docker.removeErr = errors.New("daemon unreachable")
	docker.removeCalls = 0
	require.Error(t, newTestBackend(docker, "").RemoveNode(context.Background(), "tca-docker-aaaaaaaa"))
	assert.Equal(t, 3, docker.removeCalls)
}

func TestRemoveNodeRetriesWhileRemovalInProgress(t *testing.T) {
	docker := &mockDocker{removeErr: errors.New("removal of container is already in progress"), removeFailures: 2}

	require.NoError(t, newTestBackend(docker, "").RemoveNode(context.Background(), "tca-docker-aaaaaaaa"))
	assert.Equal(t, 3, docker.removeCalls)
	assert.Equal(t, []string{"tca-docker-aaaaaaaa"}, docker.removed)
}

func TestResolveAddress(t *testing.T) {
	docker := &mockDocker{inspect: container.InspectResponse{
		NetworkSettings: &container.NetworkSettings{
			Networks: map[string]*network.EndpointSettings{
				"bridge": {IPAddress: "172.17.0.2"},
				"talos":  {IPAddress: "10.5.0.3"},
			},
		},
	}}

	address, err := newTestBackend(docker, "talos").ResolveAddress(context.Background(), "tca-docker-aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "10.5.0.3", address)

	address, err = newTestBackend(docker, "").ResolveAddress(context.Background(), "tca-docker-aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "172.17.0.2", address)

	_, err = newTestBackend(docker, "missing").ResolveAddress(context.Background(), "tca-docker-aaaaaaaa")
	require.Error(t, err)
}
