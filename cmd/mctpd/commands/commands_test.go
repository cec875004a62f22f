package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoutesCommands(t *testing.T) {
	store := filepath.Join(t.TempDir(), "routes.db")

	_, err := execute(t, "routes", "add", "9", "i2c0", "1d", "--store", store)
	require.NoError(t, err)
	_, err = execute(t, "routes", "add", "0x0a", "udp0", "--store", store)
	require.NoError(t, err)
	_, err = execute(t, "routes", "add", "0", "udp0", "--store", store)
	require.NoError(t, err)

	_, err = execute(t, "routes", "add", "300", "udp0", "--store", store)
	assert.Error(t, err)
	_, err = execute(t, "routes", "add", "255", "udp0", "--store", store)
	assert.Error(t, err)

	out, err := execute(t, "routes", "list", "--store", store)
	require.NoError(t, err)
	assert.Contains(t, out, "default")
	assert.Contains(t, out, "i2c0")
	assert.Contains(t, out, "1d")
	assert.Contains(t, out, "10")

	_, err = execute(t, "routes", "del", "9", "--store", store)
	require.NoError(t, err)
	out, err = execute(t, "routes", "list", "--store", store)
	require.NoError(t, err)
	assert.NotContains(t, out, "i2c0")
}

func TestRoutesImport(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "routes.db")
	file := filepath.Join(dir, "routes.toml")
	require.NoError(t, os.WriteFile(file, []byte("[[route]]\neid = 20\nbus = \"serial0\"\n"), 0644))

	out, err := execute(t, "routes", "import", file, "--store", store)
	require.NoError(t, err)
	assert.Contains(t, out, "1 routes imported")

	out, err = execute(t, "routes", "list", "--store", store)
	require.NoError(t, err)
	assert.Contains(t, out, "serial0")
}

func TestRoutesStoreFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mctpd.yml")
	store := filepath.Join(dir, "routes.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte("mctpd:\n  routes:\n    store: "+store+"\n"), 0644))

	_, err := execute(t, "-c", cfgPath, "routes", "add", "9", "lo0")
	require.NoError(t, err)
	_, err = os.Stat(store)
	assert.NoError(t, err)

	// No store anywhere
	_, err = execute(t, "routes", "list")
	assert.Error(t, err)
}

func TestGenConfigAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mctpd.yml")

	_, err := execute(t, "gen-config", "-o", path)
	require.NoError(t, err)
	_, err = execute(t, "gen-config", "-o", path)
	assert.Error(t, err, "existing file needs --replace")
	_, err = execute(t, "gen-config", "-o", path, "--replace")
	require.NoError(t, err)

	out, err := execute(t, "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "VALID: EID 8")

	out, err = execute(t, "gen-config")
	require.NoError(t, err)
	assert.Contains(t, out, "mctpd:")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}
