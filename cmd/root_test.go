package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foomo/templatestore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dataDir := t.TempDir()
	templateDir := filepath.Join(t.TempDir(), "templates")
	global := []string{"--log-level", "error", "--data-dir", dataDir, "--storage-filesystem-dir", templateDir}
	run := func(stdin string, args ...string) string {
		t.Helper()
		out, err := execute(t, stdin, append(args, global...)...)
		require.NoError(t, err, out)
		return out
	}

	id := strings.TrimSpace(run(`{"objects":[]}`, "save", "--name", "Poster"))
	require.True(t, strings.HasPrefix(id, "template_"), id)

	entries, err := os.ReadDir(templateDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Poster_"+id+".json", entries[0].Name())

	assert.Contains(t, run("", "list"), id)
	assert.Contains(t, run("", "get", id), `"name": "Poster"`)
	run("", "update", id, "--name", "Flyer")
	assert.Contains(t, run("", "list", "--name", "Flyer"), id)
	assert.Contains(t, run("", "info"), "backend: filesystem")
	assert.Equal(t, "templates\n", run("", "directory", "show"))

	exportDir := t.TempDir()
	filename := strings.TrimSpace(run("", "export", "-o", exportDir))
	assert.True(t, strings.HasPrefix(filepath.Base(filename), storage.ExportFilePrefix), filename)

	assert.Contains(t, run("", "migrate", "database"), "from filesystem to database")
	assert.Contains(t, run("", "info"), "backend: database")
	assert.Contains(t, run("", "get", id), `"name": "Flyer"`)

	run("", "clear", "--yes")
	assert.Equal(t, "[]\n", run("", "list"))
	assert.Contains(t, run("", "import", filename), "imported 1 templates")
	assert.Contains(t, run("", "list"), id)

	run("", "delete", id)
	_, err = execute(t, "", append([]string{"get", id}, global...)...)
	assert.Error(t, err)
}

func TestClearRequiresConfirmation(t *testing.T) {
	_, err := execute(t, "", "clear", "--data-dir", t.TempDir())
	assert.Error(t, err)
}

func TestImportValidatesAllFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(good, []byte(`[]`), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte(`{"name":"x"}`), 0o600))

	_, err := execute(t, "", "import", good, bad, "--data-dir", t.TempDir(), "--storage-filesystem-enabled=false")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrMalformedImport)
}

func TestMigrateUnknownBackend(t *testing.T) {
	_, err := execute(t, "", "migrate", "cloud", "--data-dir", t.TempDir())
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}
