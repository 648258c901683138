package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hello = "export default function Hello() {\n  return <h1>hello</h1>;\n}\n"

func run(t *testing.T, args ...string) error {
	t.Helper()
	return newApp().Run(context.Background(), append([]string{"livepreview", "--log-level", "error"}, args...))
}

func TestRender_Markdown(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hello.jsx")
	out := filepath.Join(dir, "hello.md")
	require.NoError(t, os.WriteFile(src, []byte(hello), 0o644))

	require.NoError(t, run(t, "render", "-f", "md", "-o", out, src))
	md, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# hello")
}

func TestRender_JSON(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hello.jsx")
	out := filepath.Join(dir, "hello.json")
	require.NoError(t, os.WriteFile(src, []byte(hello), 0o644))

	require.NoError(t, run(t, "render", "--format", "json", "--output", out, src))
	var got struct {
		Version int64 `json:"version"`
		Failed  bool  `json:"failed"`
	}
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, int64(1), got.Version)
	assert.False(t, got.Failed)
}

func TestRender_FailedComponent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.jsx")
	require.NoError(t, os.WriteFile(src, []byte("export default function B() {\n  return <div>{</div>;\n}\n"), 0o644))

	err := run(t, "render", "-o", filepath.Join(dir, "out.html"), src)
	assert.EqualError(t, err, "render failed")
}

func TestRender_Usage(t *testing.T) {
	assert.Error(t, run(t, "render"))
	assert.Error(t, run(t, "render", "-f", "png", "x.jsx"), "png needs the browser")
	assert.Error(t, run(t, "render", filepath.Join(t.TempDir(), "missing.jsx")))
}

func TestConfigFlag_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sinks:\n  - type: pigeon\n"), 0o644))
	assert.Error(t, run(t, "--config", path, "catalog"))
}
