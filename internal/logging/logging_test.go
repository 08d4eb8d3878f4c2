package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/appsync-client/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewHandler(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, "json", slog.LevelInfo)
	require.NoError(t, err)

	logger := slog.New(h)
	logger.Debug("hidden")
	logger.Info("connection open", "keep_alive", "5m0s")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"connection open"`)
	assert.Contains(t, out, `"keep_alive":"5m0s"`)

	_, err = NewHandler(&buf, "xml", slog.LevelInfo)
	assert.Error(t, err)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appsync.log")
	logger, out, err := New(config.LogConfig{Level: "debug", Format: "text", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Debug("frame received", "type", "ka")
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "frame received"), string(data))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
