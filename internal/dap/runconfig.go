package dap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// RunConfigName is the per-workspace run configuration file, found under the
// workspace's .voltproxy directory.
const RunConfigName = "run.toml"

const runConfigDir = ".voltproxy"

// RunDebugConfig is one launchable run configuration. The editor picks a
// configuration by name and hands it to DapStart; the whole value is also
// serialized as the launch arguments for the adapter, which reads the keys it
// understands.
type RunDebugConfig struct {
	// Name labels the configuration in the editor's run picker.
	Name string `json:"name" toml:"name"`

	// Type selects the registered debugger (delve, lldb, debugpy, ...).
	Type string `json:"type,omitempty" toml:"type"`

	// Program is the debuggee binary or entry file.
	Program string `json:"program" toml:"program"`

	// Args are passed to the debuggee.
	Args []string `json:"args,omitempty" toml:"args"`

	// Cwd is the debuggee working directory. Empty means the workspace root.
	Cwd string `json:"cwd,omitempty" toml:"cwd"`

	// Env is merged into the debuggee environment.
	Env map[string]string `json:"env,omitempty" toml:"env"`

	// DebugCommand, when set, means the editor runs the debuggee itself in a
	// terminal and reports its process id back instead of letting the
	// adapter spawn it.
	DebugCommand string `json:"debug-command,omitempty" toml:"debug-command"`

	// DapID is assigned when a session is started from this configuration.
	// It never comes from the file.
	DapID ID `json:"dap-id,omitempty" toml:"-"`
}

// String returns the configuration's display label.
func (c RunDebugConfig) String() string {
	if c.Type != "" {
		return fmt.Sprintf("%s (%s)", c.Name, c.Type)
	}
	return c.Name
}

type runConfigFile struct {
	Configs []RunDebugConfig `toml:"configs"`
}

// RunConfigPath returns the run configuration file path for a workspace.
func RunConfigPath(workspace string) string {
	return filepath.Join(workspace, runConfigDir, RunConfigName)
}

// LoadRunConfigs reads the workspace's run configurations. A missing file is
// not an error; it just means the workspace has none.
func LoadRunConfigs(workspace string) ([]RunDebugConfig, error) {
	path := RunConfigPath(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run configs: %w", err)
	}

	var file runConfigFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return file.Configs, nil
}
