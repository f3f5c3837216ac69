package installer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"krypton/internal/domain"
)

func TestGenerateScript(t *testing.T) {
	current := "1.21"
	variables := []domain.Variable{
		{Name: "Minecraft Version", DefaultValue: "latest", CurrentValue: &current},
		{Name: "EULA", DefaultValue: "true"},
	}

	script := GenerateScript(variables, "echo installing\ncurl -o server.jar $DOWNLOAD_URL")

	if !strings.HasPrefix(script, "#!/bin/bash\nset -e\n") {
		t.Errorf("Script must start with bash shebang and set -e:\n%s", script)
	}
	if !strings.Contains(script, "tee -a /mnt/server/.installation/logs/install.log") {
		t.Errorf("Script must tee output into the workspace log:\n%s", script)
	}
	if !strings.Contains(script, `trap 'echo "Error on line $LINENO"`) {
		t.Errorf("Script must trap errors:\n%s", script)
	}
	if !strings.Contains(script, "export MINECRAFT_VERSION='1.21'\n") {
		t.Errorf("Variables must be exported with normalized names:\n%s", script)
	}
	if !strings.Contains(script, "export EULA='true'\n") {
		t.Errorf("Default values must be exported when no current value is set:\n%s", script)
	}
	if !strings.Contains(script, "echo installing\n") {
		t.Errorf("User script must be embedded:\n%s", script)
	}
	if !strings.HasSuffix(script, "exit $?\n") {
		t.Errorf("Script must end with exit $?:\n%s", script)
	}
}

func TestGenerateScriptEscapesQuotes(t *testing.T) {
	hostile := `"; rm -rf / #`
	variables := []domain.Variable{
		{Name: "MOTD", DefaultValue: hostile},
	}

	script := GenerateScript(variables, "echo ok")

	want := `export MOTD='"; rm -rf / #'`
	if !strings.Contains(script, want) {
		t.Errorf("Expected single-quoted value %q in:\n%s", want, script)
	}
}

func TestGenerateScriptEscapesSingleQuotes(t *testing.T) {
	value := "it's fine"
	variables := []domain.Variable{
		{Name: "NAME", DefaultValue: value},
	}

	script := GenerateScript(variables, "echo ok")

	want := `export NAME='it'\''s fine'`
	if !strings.Contains(script, want) {
		t.Errorf("Expected escaped single quote %q in:\n%s", want, script)
	}
}

func TestStageCreatesWorkspace(t *testing.T) {
	volume := t.TempDir()

	err := Stage(volume, []domain.Variable{{Name: "X", DefaultValue: "1"}}, "echo hi")
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	for _, sub := range []string{"logs", "temp", "config"} {
		if _, err := os.Stat(filepath.Join(volume, ".installation", sub)); err != nil {
			t.Errorf("Expected workspace subdirectory %s: %v", sub, err)
		}
	}

	script, err := os.ReadFile(filepath.Join(volume, ".installation", "install.sh"))
	if err != nil {
		t.Fatalf("Expected generated install.sh: %v", err)
	}
	if !strings.Contains(string(script), "echo hi") {
		t.Errorf("install.sh must embed the unit script")
	}

	info, _ := os.Stat(filepath.Join(volume, ".installation", "install.sh"))
	if info.Mode().Perm() != 0755 {
		t.Errorf("install.sh must be executable, got %v", info.Mode().Perm())
	}
}

func TestMaterializeConfigFiles(t *testing.T) {
	volume := t.TempDir()

	files := []domain.ConfigFile{
		{Path: "server.properties", Content: "server-port=%server_port%\nmotd=%motd%"},
		{Path: "config/paper.yml", Content: "threads: 4"},
	}
	variables := []domain.Variable{
		{Name: "Server Port", DefaultValue: "25565", Rules: "string|max:5"},
		{Name: "MOTD", DefaultValue: "hi", Rules: "nullable|string"},
	}

	if err := MaterializeConfigFiles(volume, files, variables, nil); err != nil {
		t.Fatalf("MaterializeConfigFiles failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(volume, "server.properties"))
	if err != nil {
		t.Fatalf("Expected materialized file: %v", err)
	}
	if !strings.Contains(string(data), "server-port=25565") {
		t.Errorf("Expected templated content, got %q", data)
	}

	if _, err := os.Stat(filepath.Join(volume, "config", "paper.yml")); err != nil {
		t.Errorf("Expected nested config file: %v", err)
	}
}

func TestMaterializeConfigFilesRejectsRuleViolation(t *testing.T) {
	files := []domain.ConfigFile{
		{Path: "server.properties", Content: "port=%port%"},
	}
	variables := []domain.Variable{
		{Name: "PORT", DefaultValue: "999999", Rules: "string|max:4"},
	}

	if err := MaterializeConfigFiles(t.TempDir(), files, variables, nil); err == nil {
		t.Fatalf("Expected rule violation to fail materialization")
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("Minecraft Version"); got != "MINECRAFT_VERSION" {
		t.Errorf("EnvName = %q", got)
	}
}
