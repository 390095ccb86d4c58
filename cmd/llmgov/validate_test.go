package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "llmgov.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []string
		wantErr string
	}{
		{
			name: "valid",
			body: `
backends:
  - id: openai
    type: openai
  - id: anthropic
    type: anthropic
`,
			want: []string{"ok (2 backends)"},
		},
		{
			name: "warnings",
			body: `
backends:
  - id: openai
    type: openai
    failure_rate: 0.8
limits:
  monthly_budget_usd: 0
`,
			want: []string{"ok (1 backends)", "warning [high_failure_rate]", "warning [zero_budget]"},
		},
		{
			name: "invalid",
			body: `
backends:
  - id: local
    type: mock
`,
			wantErr: "model is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			out, err := runCLI(t, "validate", "-c", path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestValidateMissingFile(t *testing.T) {
	_, err := runCLI(t, "validate", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestVersionFlag(t *testing.T) {
	out, err := runCLI(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "llmgov version")
}
