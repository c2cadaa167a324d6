package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidzhou73/convnetlog/internal/device"
	"github.com/davidzhou73/convnetlog/internal/snapshot"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	if _, err := os.Stat("/etc/convnetlog/config.yaml"); err == nil {
		t.Skip("system config present")
	}

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "BrainCollect", cfg.Snapshot.Dir)
	assert.Equal(t, 7, cfg.Snapshot.Offset)
	assert.Equal(t, 14, cfg.Snapshot.Width)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, device.KeepFirst, cfg.DuplicatePolicy())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.Database.Path)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
snapshot:
  offset: 9
  width: 12
  layout: "060102150405"
  extra_dirs: [NetCollect]
exclude:
  - "archive/**"
duplicates: latest
workers: 4
cache_ttl: 30s
output_dir: /tmp/out
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "BrainCollect", cfg.Snapshot.Dir, "unset fields keep defaults")
	assert.Equal(t, 9, cfg.Snapshot.Offset)
	assert.Equal(t, "060102150405", cfg.Snapshot.Layout)
	assert.Equal(t, device.KeepLatest, cfg.DuplicatePolicy())
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.Equal(t, "debug", cfg.Log.Level)

	policies := cfg.Policies()
	require.Contains(t, policies, "BrainCollect")
	require.Contains(t, policies, "NetCollect")
	ls, ok := policies["NetCollect"].(*snapshot.LatestSnapshot)
	require.True(t, ok)
	assert.Equal(t, 9, ls.Offset)

	r := cfg.Resolver()
	assert.Equal(t, []string{"archive/**"}, r.Exclude)
	assert.True(t, r.MetadataPattern.MatchString("cmd_info_20240101120000.xml"))
	assert.True(t, cfg.CaptureRegexp().MatchString("ssh_10.0.0.1_sw.xml"))
}

func TestLoadKeepsExplicitZeroOffset(t *testing.T) {
	path := writeConfig(t, `
snapshot:
  dir: Snap
  pattern: '^\d{14}$'
  offset: 0
log:
  json: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Snapshot.Offset)
	assert.Equal(t, 14, cfg.Snapshot.Width)
	assert.True(t, cfg.Log.JSON)

	ls, ok := cfg.Policies()["Snap"].(*snapshot.LatestSnapshot)
	require.True(t, ok)
	ts, err := ls.Timestamp("20240305153045")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 3, 5, 15, 30, 45, 0, time.Local)))
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad regex":      "capture_pattern: \"([\"\n",
		"bad layout":     "snapshot:\n  layout: nothing\n",
		"bad glob":       "exclude: [\"[\"]\n",
		"bad duplicates": "duplicates: newest\n",
		"bad width":      "snapshot:\n  width: -1\n",
		"bad yaml":       "workers: [\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
