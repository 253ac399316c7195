package dap

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRunConfig(t *testing.T, workspace, content string) {
	t.Helper()

	dir := filepath.Dir(RunConfigPath(workspace))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(RunConfigPath(workspace), []byte(content), 0o644); err != nil {
		t.Fatalf("write run config: %v", err)
	}
}

func TestLoadRunConfigs(t *testing.T) {
	workspace := t.TempDir()
	writeRunConfig(t, workspace, `
[[configs]]
name = "debug main"
type = "go"
program = "./cmd/app"
args = ["-v"]
cwd = "/src"
debug-command = "go run ./cmd/app"

[configs.env]
PORT = "8080"

[[configs]]
name = "run tests"
program = "go"
args = ["test", "./..."]
`)

	configs, err := LoadRunConfigs(workspace)
	if err != nil {
		t.Fatalf("LoadRunConfigs() error = %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("len(configs) = %d, expected 2", len(configs))
	}

	first := configs[0]
	if first.Name != "debug main" {
		t.Errorf("Name = %q, expected %q", first.Name, "debug main")
	}
	if first.Type != "go" {
		t.Errorf("Type = %q, expected %q", first.Type, "go")
	}
	if first.Program != "./cmd/app" {
		t.Errorf("Program = %q, expected %q", first.Program, "./cmd/app")
	}
	if len(first.Args) != 1 || first.Args[0] != "-v" {
		t.Errorf("Args = %v, expected [-v]", first.Args)
	}
	if first.DebugCommand != "go run ./cmd/app" {
		t.Errorf("DebugCommand = %q, expected %q", first.DebugCommand, "go run ./cmd/app")
	}
	if first.Env["PORT"] != "8080" {
		t.Errorf("Env = %v, expected PORT=8080", first.Env)
	}

	if configs[1].Type != "" {
		t.Errorf("second Type = %q, expected empty", configs[1].Type)
	}
}

func TestLoadRunConfigsMissing(t *testing.T) {
	configs, err := LoadRunConfigs(t.TempDir())
	if err != nil {
		t.Fatalf("LoadRunConfigs() error = %v, expected nil for missing file", err)
	}
	if configs != nil {
		t.Errorf("LoadRunConfigs() = %v, expected nil", configs)
	}
}

func TestLoadRunConfigsInvalid(t *testing.T) {
	workspace := t.TempDir()
	writeRunConfig(t, workspace, "configs = not toml [")

	if _, err := LoadRunConfigs(workspace); err == nil {
		t.Fatal("LoadRunConfigs() error = nil, expected parse failure")
	}
}

func TestRunConfigPath(t *testing.T) {
	got := RunConfigPath("/ws")
	want := filepath.Join("/ws", ".voltproxy", "run.toml")
	if got != want {
		t.Errorf("RunConfigPath() = %q, expected %q", got, want)
	}
}

func TestRunConfigString(t *testing.T) {
	typed := RunDebugConfig{Name: "debug main", Type: "go"}
	if got := typed.String(); got != "debug main (go)" {
		t.Errorf("String() = %q, expected %q", got, "debug main (go)")
	}
	bare := RunDebugConfig{Name: "run tests"}
	if got := bare.String(); got != "run tests" {
		t.Errorf("String() = %q, expected %q", got, "run tests")
	}
}
