package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitrarr/mitra-go/internal/buildinfo"
	"github.com/mitrarr/mitra-go/internal/conf"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := RootCommand(&conf.Settings{}, &buildinfo.Context{Version: "v1.2.3"})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSeedCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", "main:\n  appdir: "+dir+"\n")
	writeFile(t, dir, "catalog.yaml", `
sources:
  - name: RR/CIVIL
systems:
  - name: FACE-RR
    url: http://10.0.4.12:8080
    sources: [RR/CIVIL]
`)

	out, err := execute(t, "seed", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 source databases, 1 recognition systems, 1 new links")
	assert.FileExists(t, filepath.Join(dir, "mitra.db"))

	out, err = execute(t, "seed", "--config", cfg, "catalog.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "0 new links")
}

func TestSeedCommand_MissingCatalog(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", "main:\n  appdir: "+dir+"\n")

	_, err := execute(t, "seed", "--config", cfg, "nope.yaml")
	require.Error(t, err)
}

func TestRunCommand_UnknownStage(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", "main:\n  appdir: "+dir+"\n")

	_, err := execute(t, "run", "--config", cfg, "--stage", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage bogus")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "v1.2.3")
}
