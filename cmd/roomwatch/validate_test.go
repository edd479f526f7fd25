package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// executeValidateCmd runs the validate command with the given config path
// and returns captured stdout and any error.
func executeValidateCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// capture stdout
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	rootCmd.SetArgs(append([]string{"validate"}, args...))
	err := rootCmd.Execute()

	// restore stdout
	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)

	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestRunValidate_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeFile(t, tmpDir, "roomwatch.yaml", `
api_url: http://localhost:8000/api/v1
stream_url: ws://localhost:8000/ws
port: 8080
devices:
  interval: 5s
`)

	output, err := executeValidateCmd(t, "-c", configPath, "--env-file", filepath.Join(tmpDir, "none.env"))
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}

	expectedPhrases := []string{
		"Config is valid!",
		"API URL:  http://localhost:8000/api/v1",
		"Stream:   ws://localhost:8000/ws",
		"Port:     8080",
		"Devices:  every 5s",
		"Records:  every 30s (default)",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}
}

func TestRunValidate_EnvFileExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("ROOMWATCH_CLI_TEST_HOST", "")
	os.Unsetenv("ROOMWATCH_CLI_TEST_HOST")

	envPath := writeFile(t, tmpDir, ".env", "ROOMWATCH_CLI_TEST_HOST=campus.test\n")
	configPath := writeFile(t, tmpDir, "roomwatch.yaml", `
api_url: https://${ROOMWATCH_CLI_TEST_HOST}/api/v1
`)

	output, err := executeValidateCmd(t, "-c", configPath, "--env-file", envPath)
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}
	if !strings.Contains(output, "API URL:  https://campus.test/api/v1") {
		t.Errorf("env file value not expanded\nGot: %s", output)
	}
	if !strings.Contains(output, "Stream:   disabled") {
		t.Errorf("output missing disabled stream\nGot: %s", output)
	}
}

func TestRunValidate_InvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeFile(t, tmpDir, "invalid.yaml", `
port: 8080
`)

	_, err := executeValidateCmd(t, "-c", configPath)
	if err == nil {
		t.Fatal("validate command expected error for invalid config, got nil")
	}

	if !strings.Contains(err.Error(), "api_url is required") {
		t.Errorf("error should mention 'api_url is required', got: %v", err)
	}
}

func TestRunValidate_MissingFile(t *testing.T) {
	_, err := executeValidateCmd(t, "-c", "/nonexistent/path/roomwatch.yaml")
	if err == nil {
		t.Fatal("validate command expected error for missing file, got nil")
	}

	if !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("error should mention 'failed to read', got: %v", err)
	}
}
