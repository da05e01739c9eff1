package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")
	data := []byte("dialect: sqlite\ndsn: file:app.db\ndebug: true\ndir: db/migrations\npackage: appmigrations\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Dialect)
	assert.Equal(t, "file:app.db", cfg.DSN)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "db/migrations", cfg.Dir)
	assert.Equal(t, "appmigrations", cfg.Package)
}

func TestLoadConfigMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")

	// The default lookup tolerates a missing file.
	cfg, err := LoadConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, "migrations", cfg.Dir)

	// An explicit --config path must exist.
	_, err = LoadConfig(path, true)
	require.Error(t, err)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dialect: [oops"), 0o644))
	_, err := LoadConfig(path, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}
