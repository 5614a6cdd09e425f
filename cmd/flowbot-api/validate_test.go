package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGraph(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateFile(t *testing.T) {
	ctx := context.Background()

	valid := writeGraph(t, "hello.yaml", `
id: hello
version: 1
nodes:
  - id: start
    messageType: text
    isStart: true
    content:
      text: Hi
edges: []
`)
	assert.NoError(t, validateFile(ctx, valid, false))
	assert.NoError(t, validateFile(ctx, valid, true))

	noStart := writeGraph(t, "broken.json", `{"id":"x","version":1,"nodes":[{"id":"a","messageType":"text","content":{"text":"A"}}],"edges":[]}`)
	err := validateFile(ctx, noStart, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "violation")

	assert.Error(t, validateFile(ctx, filepath.Join(t.TempDir(), "missing.json"), false))
}
