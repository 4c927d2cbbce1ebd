package probes

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v2"

	"github.com/loadfabric/loadfabric/internal/protocol"
)

// FileConfig is one probe definition file under probe_config_dir (spec.md
// §6 "for each probe file: {monitor_enabled ∈ {true,false}, monitor_class,
// probe-specific keys}").
type FileConfig struct {
	MonitorEnabled bool              `yaml:"monitor_enabled"`
	MonitorClass   string            `yaml:"monitor_class"`
	Params         map[string]string `yaml:"params"`
}

// LoadDir reads every *.yaml/*.yml file in dir and returns the enabled
// probe configs as Job-Request-style Parameters, ready to hand to
// Registry.New. Disabled entries (monitor_enabled: false) are skipped, not
// errored — flipping this flag drops a file's static params without
// deleting the file; it does not unregister the probe class.
func LoadDir(dir string) ([]FileConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("probes: read probe_config_dir %q: %w", dir, err)
	}

	var configs []FileConfig
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("probes: read %s: %w", path, err)
		}
		var cfg FileConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("probes: parse %s: %w", path, err)
		}
		if !cfg.MonitorEnabled {
			continue
		}
		if cfg.MonitorClass == "" {
			return nil, fmt.Errorf("probes: %s: monitor_class must not be empty", path)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Parameters converts a FileConfig's probe-specific keys into the
// []protocol.Parameter shape a Factory expects, matching the wire
// representation Job-Request already uses for workload parameters.
func (c FileConfig) Parameters() []protocol.Parameter {
	params := make([]protocol.Parameter, 0, len(c.Params))
	for k, v := range c.Params {
		params = append(params, protocol.Parameter{Key: k, Value: v})
	}
	return params
}
