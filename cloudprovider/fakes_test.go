package cloudprovider

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/gammadia/tca/jobqueue"
	"github.com/gammadia/tca/nodegroup"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"
)

// recorder keeps the order in which backends and configurators were called.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeBackend struct {
	rec *recorder

	mu          sync.Mutex
	instances   []nodegroup.Instance
	fetchErr    error
	fetchPanic  bool
	allocations int
	failAtAlloc int
	removeErr   map[string]error
}

func (b *fakeBackend) FetchInstances(context.Context) ([]nodegroup.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchPanic {
		panic("backend exploded")
	}
	return append([]nodegroup.Instance(nil), b.instances...), b.fetchErr
}

func (b *fakeBackend) AllocateNode(_ context.Context, name string) error {
	b.mu.Lock()
	b.allocations++
	attempt := b.allocations
	b.mu.Unlock()

	if attempt == b.failAtAlloc {
		return errors.New("no host has enough capacity")
	}
	b.rec.record("allocate:" + name)
	return nil
}

func (b *fakeBackend) RemoveNode(_ context.Context, name string) error {
	if err := b.removeErr[name]; err != nil {
		return err
	}
	b.rec.record("remove:" + name)
	return nil
}

func (b *fakeBackend) ResolveAddress(_ context.Context, name string) (string, error) {
	return "10.0.0.1", nil
}

type fakeConfigurator struct {
	rec     *recorder
	joinErr error
}

func (c *fakeConfigurator) Join(_ context.Context, node Node) error {
	if c.joinErr != nil {
		return c.joinErr
	}
	c.rec.record("join:" + node.Name)
	return nil
}

func (c *fakeConfigurator) Reset(_ context.Context, node Node) error {
	c.rec.record("reset:" + node.Name)
	return nil
}

func (c *fakeConfigurator) Forget(_ context.Context, node Node) error {
	c.rec.record("forget:" + node.Name)
	return nil
}

type harness struct {
	client       protos.CloudProviderClient
	registry     *nodegroup.Registry
	cache        *nodegroup.Cache
	rec          *recorder
	configurator *fakeConfigurator
}

func (h *harness) addGroup(t *testing.T, id string, minSize, maxSize int, instances ...nodegroup.Instance) *fakeBackend {
	t.Helper()

	backend := &fakeBackend{rec: h.rec, instances: instances}
	_, err := h.registry.Register(nodegroup.Config{
		ID:      id,
		MinSize: minSize,
		MaxSize: maxSize,
		Template: nodegroup.Template{
			CPU:              "2",
			Memory:           "4Gi",
			EphemeralStorage: "20Gi",
			Labels:           map[string]string{"tca/group": id},
		},
	}, backend)
	require.NoError(t, err)
	return backend
}

func (h *harness) refresh(t *testing.T) {
	t.Helper()
	_, err := h.client.Refresh(context.Background(), &protos.RefreshRequest{})
	require.NoError(t, err)
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	rec := &recorder{}
	h := &harness{
		registry:     nodegroup.NewRegistry(),
		cache:        nodegroup.NewCache(),
		rec:          rec,
		configurator: &fakeConfigurator{rec: rec},
	}

	queue := jobqueue.New(jobqueue.Config{})
	go queue.Run()

	provider := New(h.registry, h.cache, queue, Config{Configurator: h.configurator})
	server := NewServer(provider)

	listener := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
		queue.Shutdown()
		queue.Wait()
	})

	h.client = protos.NewCloudProviderClient(conn)
	return h
}

func running(id string) nodegroup.Instance {
	return nodegroup.Instance{ID: id, Status: nodegroup.Status{State: nodegroup.StateRunning}}
}

func instance(id string, state nodegroup.State) nodegroup.Instance {
	return nodegroup.Instance{ID: id, Status: nodegroup.Status{State: state}}
}
