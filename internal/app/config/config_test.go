package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
channels: [WFSGMES, WFSPMES]
base_dir: /tmp/waveforms
client:
  endpoint: opc.tcp://gateway:4840
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.DurationMinutes)
	assert.Equal(t, "R2XXITOT", cfg.BeamCurrentPV)
	assert.Equal(t, 10.0, cfg.MinFreeGB)
	assert.Equal(t, 0.9, cfg.FailureThreshold)
	assert.Equal(t, "file", cfg.Output)
	assert.Equal(t, "localhost:25", cfg.Email.SMTPServer)
	assert.Equal(t, 4, cfg.DB.PoolSize)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "ns=1;s=%s", cfg.Client.NodeTemplate)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
duration_minutes: 30
channels: [WFSGMES]
meta_pvs: [R1M1GMES, BeamDest]
min_beam_current: 0.5
failure_threshold: 0.75
output: db
db:
  conn_string: postgres://daq@db/waveforms
  pool_size: 8
  data_partition: /data
email:
  from_addr: daq@example.org
  to_addrs: [ops@example.org]
client:
  endpoint: opc.tcp://gateway:4840
`))
	require.NoError(t, err)

	assert.Equal(t, 30.0, cfg.DurationMinutes)
	assert.Equal(t, []string{"R1M1GMES", "BeamDest"}, cfg.MetaPVs)
	assert.Equal(t, 0.5, cfg.MinBeamCurrent)
	assert.Equal(t, 0.75, cfg.FailureThreshold)
	assert.Equal(t, "db", cfg.Output)
	assert.Equal(t, 8, cfg.DB.PoolSize)
	assert.Equal(t, "/data", cfg.DB.DataPartition)
	assert.Equal(t, []string{"ops@example.org"}, cfg.Email.ToAddrs)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing endpoint", `
channels: [WFSGMES]
base_dir: /tmp/waveforms
`},
		{"missing channels", `
base_dir: /tmp/waveforms
client:
  endpoint: opc.tcp://gateway:4840
`},
		{"file output without base_dir", `
channels: [WFSGMES]
client:
  endpoint: opc.tcp://gateway:4840
`},
		{"db output without conn_string", `
channels: [WFSGMES]
output: db
client:
  endpoint: opc.tcp://gateway:4840
`},
		{"unknown output", `
channels: [WFSGMES]
base_dir: /tmp/waveforms
output: s3
client:
  endpoint: opc.tcp://gateway:4840
`},
		{"threshold above one", `
channels: [WFSGMES]
base_dir: /tmp/waveforms
failure_threshold: 1.5
client:
  endpoint: opc.tcp://gateway:4840
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
