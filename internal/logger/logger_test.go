package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/vrlink/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logrus.Level
		wantErr bool
	}{
		{in: "trace", want: logrus.TraceLevel},
		{in: "DEBUG", want: logrus.DebugLevel},
		{in: "", want: logrus.InfoLevel},
		{in: "warning", want: logrus.WarnLevel},
		{in: "error", want: logrus.ErrorLevel},
		{in: "loud", want: logrus.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJSONOutputWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log, err := newWithStdout(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	Component(log, "link").WithField("id", "statistics").Debug("отчет")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "link", entry["component"])
	assert.Equal(t, "statistics", entry["id"])
	assert.Equal(t, "debug", entry["level"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := newWithStdout(config.LogConfig{Level: "warn", Format: "text"}, &buf)
	require.NoError(t, err)

	log.Info("скрыто")
	assert.Empty(t, buf.String())
	log.Warn("видно")
	assert.Contains(t, buf.String(), "видно")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrlink.log")
	var buf bytes.Buffer
	log, err := newWithStdout(config.LogConfig{
		Level:  "info",
		Format: "text",
		File:   config.FileConfig{Enabled: true, Path: path, MaxSizeMB: 1},
	}, &buf)
	require.NoError(t, err)

	log.Info("в файл")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "в файл")
	assert.Contains(t, buf.String(), "в файл")
}

func TestNewErrors(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Format: "text"})
	assert.Error(t, err)

	_, err = New(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)

	_, err = New(config.LogConfig{Level: "info", File: config.FileConfig{Enabled: true}})
	assert.Error(t, err)
}
