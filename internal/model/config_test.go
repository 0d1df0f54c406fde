package model_test

import (
	"strings"
	"testing"

	"github.com/caseworks/caserunner/internal/model"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
tools: /opt/eztools
output: /cases/ACME-7/Output
memory:
  concurrency: 8
  os: windows
status:
  enabled: true
  listen: 127.0.0.1:9000
log:
  verbose: true
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, "/opt/eztools", cfg.Tools)
	require.Equal(t, "/cases/ACME-7/Output", cfg.Output)
	require.Equal(t, 8, cfg.Memory.Concurrency)
	require.Equal(t, model.OSWindows, cfg.Memory.OS)
	require.NotNil(t, cfg.Status)
	require.True(t, cfg.Status.Enabled)
	require.Equal(t, "127.0.0.1:9000", cfg.Status.Listen)
	require.True(t, cfg.Log.Verbose)
}

func TestLoadConfigDefaults(t *testing.T) {
	yml := `
version: 0
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, "tools", cfg.Tools)
	require.Equal(t, "Output", cfg.Output)
	require.Equal(t, 4, cfg.Memory.Concurrency)
	require.Equal(t, model.OSWindows, cfg.Memory.OS)
	require.Nil(t, cfg.Status)
	require.False(t, cfg.Log.Verbose)
}

func TestLoadConfigFail(t *testing.T) {
	for name, yml := range map[string]string{
		"bad version": "version: 3\n",
		"bad os":      "version: 0\nmemory:\n  os: plan9\n",
		"bad limit":   "version: 0\nmemory:\n  concurrency: 0\n",
		"unknown key": "version: 0\ntriage: /data\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := model.LoadConfig(strings.NewReader(yml))
			require.Error(t, err)
			require.NotEmpty(t, model.CueErrDetails(err))
		})
	}
}

func TestSummaryString(t *testing.T) {
	s := model.Summary{Total: 3, Succeeded: 3}
	require.Equal(t, "3/3 succeeded", s.String())

	s = model.Summary{
		Total:     3,
		Succeeded: 2,
		Failed:    []model.FailedJob{{Label: "prefetch", Diagnostic: "exit code 2"}},
	}
	require.Equal(t, "2/3 succeeded, 1 failed: [prefetch]", s.String())

	s = model.Summary{Aborted: model.AbortPreconditionFailed}
	require.Equal(t, "aborted before start: precondition failed", s.String())
}
