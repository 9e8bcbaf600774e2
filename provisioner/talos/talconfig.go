package talos

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/gammadia/tca/cloudprovider"
	sprig "github.com/go-task/slim-sprig/v3"
	"gopkg.in/yaml.v3"
)

const (
	talconfigFile      = "talconfig.yaml"
	defaultInstallDisk = "/dev/sda"
)

type nodeEntry struct {
	Hostname    string   `yaml:"hostname"`
	IPAddress   string   `yaml:"ipAddress"`
	InstallDisk string   `yaml:"installDisk"`
	Patches     []string `yaml:"patches"`
}

// PatchData is exposed to the node group patches when they are rendered.
type PatchData struct {
	Hostname string
	Address  string
	Group    string
	Labels   map[string]string
}

func newNodeEntry(node cloudprovider.Node) (nodeEntry, error) {
	providerID, err := yaml.Marshal(map[string]any{
		"machine": map[string]any{
			"kubelet": map[string]any{
				"extraArgs": map[string]string{"provider-id": node.Name},
			},
		},
	})
	if err != nil {
		return nodeEntry{}, fmt.Errorf("failed to marshal provider-id patch: %w", err)
	}

	entry := nodeEntry{
		Hostname:    node.Name,
		IPAddress:   node.Address,
		InstallDisk: node.Group.Node.InstallDisk,
		Patches:     []string{string(providerID)},
	}
	if entry.InstallDisk == "" {
		entry.InstallDisk = defaultInstallDisk
	}

	data := PatchData{
		Hostname: node.Name,
		Address:  node.Address,
		Group:    node.Group.ID,
		Labels:   node.Group.Template.Labels,
	}
	for i, source := range node.Group.Node.Patches {
		patch, err := renderPatch(fmt.Sprintf("%s/patch-%d", node.Group.ID, i), source, data)
		if err != nil {
			return nodeEntry{}, err
		}
		entry.Patches = append(entry.Patches, patch)
	}

	return entry, nil
}

func renderPatch(name, source string, data PatchData) (string, error) {
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse patch '%s': %w", name, err)
	}

	var output strings.Builder
	if err := tmpl.Execute(&output, data); err != nil {
		return "", fmt.Errorf("failed to render patch '%s': %w", name, err)
	}
	return output.String(), nil
}

// writeTalconfig replaces the node list of the talhelper configuration with
// the single given node, leaving every other key untouched.
func writeTalconfig(path string, entry nodeEntry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read talhelper config: %w", err)
	}

	var config map[string]any
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return fmt.Errorf("failed to parse talhelper config '%s': %w", path, err)
	}
	if config == nil {
		config = map[string]any{}
	}
	config["nodes"] = []nodeEntry{entry}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode talhelper config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to encode talhelper config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write talhelper config: %w", err)
	}
	return nil
}
