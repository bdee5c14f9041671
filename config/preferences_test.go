package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	prefs, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), prefs)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	data := `
max_worker_threads: 4
update_rate_hz: 30
shutdown_timeout: 2s
log_level: debug
metrics_addr: 127.0.0.1:2112
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	prefs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, prefs.MaxWorkerThreads)
	assert.Equal(t, 30.0, prefs.UpdateRateHz)
	assert.Equal(t, 60.0, prefs.RenderRateHz, "unset keys keep their default")
	assert.Equal(t, 2*time.Second, prefs.ShutdownTimeout)
	assert.Equal(t, "debug", prefs.LogLevel)
	assert.Equal(t, "127.0.0.1:2112", prefs.MetricsAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("max_workers: 4\n"))
	assert.Error(t, err)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative workers", "max_worker_threads: -1"},
		{"zero update rate", "update_rate_hz: 0"},
		{"bad level", "log_level: loud"},
		{"bad format", "log_format: xml"},
		{"bad metrics addr", "metrics_addr: not an address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidPreferences)
		})
	}
}

func TestParse_ZeroWorkersMeansUnbounded(t *testing.T) {
	prefs, err := Parse(strings.NewReader("max_worker_threads: 0"))
	require.NoError(t, err)
	assert.Equal(t, 0, prefs.AppConfig().MaxWorkerThreads)
}

func TestAppConfig(t *testing.T) {
	prefs := Default()
	prefs.MaxWorkerThreads = 8
	prefs.UpdateRateHz = 50
	prefs.RenderRateHz = 100

	cfg := prefs.AppConfig()
	assert.Equal(t, 8, cfg.MaxWorkerThreads)
	assert.Equal(t, 20*time.Millisecond, cfg.UpdatePeriod)
	assert.Equal(t, 10*time.Millisecond, cfg.RenderPeriod)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestMarshal_RoundTripsThroughParse(t *testing.T) {
	prefs := Default()
	prefs.MaxWorkerThreads = 3

	data, err := prefs.Marshal()
	require.NoError(t, err)

	got, err := Parse(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, prefs, got)
}
