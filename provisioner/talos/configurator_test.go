package talos

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alessio/shellescape"
	"github.com/gammadia/tca/cloudprovider"
	"github.com/gammadia/tca/nodegroup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	apiv1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	// failures per command prefix, consumed one at a time
	failures map[string]int
}

func (r *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	command := shellescape.QuoteCommand(append([]string{name}, args...))
	r.commands = append(r.commands, command)

	for prefix, remaining := range r.failures {
		if remaining > 0 && strings.HasPrefix(command, prefix) {
			r.failures[prefix] = remaining - 1
			return nil, errors.New("connection refused")
		}
	}
	return nil, nil
}

func (r *fakeRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func unreachable(context.Context, string, string) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

func newTestConfigurator(t *testing.T, runner *fakeRunner, mutate func(*Config)) (*Configurator, string) {
	t.Helper()

	workdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, talconfigFile), []byte(`clusterName: home
endpoint: https://10.0.0.10:6443
nodes:
  - hostname: previous
    ipAddress: 10.0.0.99
`), 0o600))

	config := Config{
		Workdir:           workdir,
		ReadinessInterval: time.Millisecond,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Runner:            runner,
		Dial:              unreachable,
	}
	if mutate != nil {
		mutate(&config)
	}
	return New(config), workdir
}

func testNode() cloudprovider.Node {
	return cloudprovider.Node{
		Name:    "tca-docker-aaaaaaaa",
		Address: "10.0.0.5",
		Group: nodegroup.Config{
			ID: "docker",
			Template: nodegroup.Template{
				Labels: map[string]string{"zone": "lab"},
			},
			Node: nodegroup.NodeConfig{
				Patches: []string{"machine:\n  nodeLabels:\n    zone: {{ .Labels.zone | quote }}\n    group: {{ .Group | upper }}\n"},
			},
		},
	}
}

func readTalconfig(t *testing.T, workdir string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(workdir, talconfigFile))
	require.NoError(t, err)
	var config map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &config))
	return config
}

func TestJoinWaitsForReadinessThenApplies(t *testing.T) {
	runner := &fakeRunner{failures: map[string]int{"talosctl get version": 3}}
	configurator, workdir := newTestConfigurator(t, runner, nil)

	require.NoError(t, configurator.Join(context.Background(), testNode()))

	commands := runner.Commands()
	require.Len(t, commands, 6)
	assert.Equal(t, "talhelper genconfig", commands[0])
	for _, command := range commands[1:5] {
		assert.Equal(t, "talosctl get version -n 10.0.0.5 -e 10.0.0.5 --insecure", command)
	}
	assert.Equal(t, "bash -o pipefail -c 'talhelper gencommand apply --extra-flags --insecure | bash'", commands[5])

	config := readTalconfig(t, workdir)
	assert.Equal(t, "home", config["clusterName"])
	nodes := config["nodes"].([]any)
	require.Len(t, nodes, 1)
	node := nodes[0].(map[string]any)
	assert.Equal(t, "tca-docker-aaaaaaaa", node["hostname"])
	assert.Equal(t, "10.0.0.5", node["ipAddress"])
	assert.Equal(t, defaultInstallDisk, node["installDisk"])

	patches := node["patches"].([]any)
	require.Len(t, patches, 2)
	assert.Contains(t, patches[0], "provider-id: tca-docker-aaaaaaaa")
	assert.Contains(t, patches[1], `zone: "lab"`)
	assert.Contains(t, patches[1], "group: DOCKER")
}

func TestJoinStopsWhenContextIsCancelled(t *testing.T) {
	runner := &fakeRunner{failures: map[string]int{"talosctl get version": 1 << 30}}
	configurator, _ := newTestConfigurator(t, runner, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := configurator.Join(ctx, testNode())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, runner.Commands(), "bash -o pipefail -c 'talhelper gencommand apply --extra-flags --insecure | bash'")
}

func TestJoinRejectsInvalidPatch(t *testing.T) {
	configurator, _ := newTestConfigurator(t, &fakeRunner{}, nil)

	node := testNode()
	node.Group.Node.Patches = []string{"{{ .Missing }}"}
	err := configurator.Join(context.Background(), node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker/patch-0")
}

func TestResetRunsTalosctlResetWhenEnabled(t *testing.T) {
	runner := &fakeRunner{failures: map[string]int{"talosctl reset": 1}}
	configurator, _ := newTestConfigurator(t, runner, func(c *Config) { c.ResetBeforeRemove = true })

	require.NoError(t, configurator.Reset(context.Background(), testNode()), "reset failures are not fatal")
	assert.Equal(t, []string{
		"talhelper genconfig",
		"talosctl reset --talosconfig clusterconfig/talosconfig -n 10.0.0.5 -e 10.0.0.5 --wait=false",
	}, runner.Commands())
}

func TestResetOnlyRegeneratesByDefault(t *testing.T) {
	runner := &fakeRunner{}
	configurator, _ := newTestConfigurator(t, runner, nil)

	require.NoError(t, configurator.Reset(context.Background(), testNode()))
	assert.Equal(t, []string{"talhelper genconfig"}, runner.Commands())
}

func TestForgetDeletesKubernetesNode(t *testing.T) {
	clientset := fake.NewSimpleClientset(&apiv1.Node{ObjectMeta: metav1.ObjectMeta{Name: "tca-docker-aaaaaaaa"}})
	configurator, _ := newTestConfigurator(t, &fakeRunner{}, func(c *Config) { c.Kubernetes = clientset })

	require.NoError(t, configurator.Forget(context.Background(), testNode()))

	_, err := clientset.CoreV1().Nodes().Get(context.Background(), "tca-docker-aaaaaaaa", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestForgetIgnoresMissingKubernetesNode(t *testing.T) {
	configurator, _ := newTestConfigurator(t, &fakeRunner{}, func(c *Config) { c.Kubernetes = fake.NewSimpleClientset() })

	require.NoError(t, configurator.Forget(context.Background(), testNode()))
}

func TestForgetWaitsUntilNodeStopsAnswering(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	clientset := fake.NewSimpleClientset()

	configurator, _ := newTestConfigurator(t, &fakeRunner{}, func(c *Config) {
		c.Kubernetes = clientset
		c.Dial = func(context.Context, string, string) (net.Conn, error) {
			mu.Lock()
			defer mu.Unlock()
			dials++
			if dials < 3 {
				client, server := net.Pipe()
				_ = server.Close()
				return client, nil
			}
			return nil, errors.New("connection refused")
		}
	})

	require.NoError(t, configurator.Forget(context.Background(), testNode()))
	assert.Equal(t, 3, dials)
}

func TestForgetGivesUpWaitingAfterTimeout(t *testing.T) {
	configurator, _ := newTestConfigurator(t, &fakeRunner{}, func(c *Config) {
		c.UnreachableTimeout = 10 * time.Millisecond
		c.Dial = func(context.Context, string, string) (net.Conn, error) {
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		}
	})

	require.NoError(t, configurator.Forget(context.Background(), testNode()))
}
