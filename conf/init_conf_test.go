package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()

	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, 2, cfg.Packager.MaxConcurrency)
	assert.Equal(t, 24, cfg.Uploader.SessionTTLHours)
	assert.Equal(t, "core", cfg.Fingerprint.Mode)
	assert.True(t, cfg.Fingerprint.AutoRecord)

	for _, name := range []string{"windows", "macos", "linux", "android", "pwa"} {
		pc, ok := cfg.Packager.Platforms[name]
		require.True(t, ok, name)
		assert.True(t, pc.Enabled, name)
		assert.InDelta(t, 0.6, pc.HealthThreshold, 1e-9, name)
	}
	assert.Empty(t, cfg.Packager.Platforms["pwa"].Command)
}

func TestMergePlatformDefaults(t *testing.T) {
	t.Parallel()

	merged := mergePlatformDefaults(
		PlatformConfig{Enabled: false, TimeoutMinutes: 5, RemoteURL: "http://agent"},
		defaultPlatforms()["macos"],
	)

	assert.False(t, merged.Enabled)
	assert.Equal(t, 5, merged.TimeoutMinutes)
	assert.Equal(t, "npx", merged.Command)
	assert.Equal(t, "http://agent", merged.RemoteURL)
	assert.Contains(t, merged.ArtifactGlobs, "*.dmg")
}

func TestInitConfig(t *testing.T) {
	dir := t.TempDir()
	yaml := `
port: "8080"
database:
  type: "pebble"
packager:
  max_concurrency: 4
  platforms:
    windows:
      enabled: true
      command: "make"
      args: ["win"]
fingerprint:
  auto_record: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conf_loc.yaml"), []byte(yaml), 0o644))

	oldDir, oldEnv := ConfigDir, SystemEnvironmentEnum
	t.Cleanup(func() {
		ConfigDir, SystemEnvironmentEnum = oldDir, oldEnv
		viper.Reset()
	})
	ConfigDir = dir
	SystemEnvironmentEnum = LocalEnvironmentEnum

	require.NoError(t, InitConfig())
	assert.Equal(t, "8080", Cfg.Port)
	assert.Equal(t, "pebble", Cfg.Database.Type)
	assert.Equal(t, 4, Cfg.Packager.MaxConcurrency)
	assert.Equal(t, "make", Cfg.Packager.Platforms["windows"].Command)
	assert.Equal(t, []string{"win"}, Cfg.Packager.Platforms["windows"].Args)
	assert.False(t, Cfg.Fingerprint.AutoRecord)
	assert.Contains(t, Cfg.Packager.Platforms, "android")
}

func TestParseEnvironment(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ProdEnvironmentEnum, ParseEnvironment("prod"))
	assert.Equal(t, LocalEnvironmentEnum, ParseEnvironment("unknown"))
	assert.Equal(t, "dev", DevEnvironmentEnum.String())
}
