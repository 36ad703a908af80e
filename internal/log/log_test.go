package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	_, err := New(Options{Level: "warn", NoColors: true, Output: &buf})
	require.NoError(t, err)

	Info(nil, "hidden")
	Warn(Fields{"frame": 3}, "send failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "send failed")
	assert.Contains(t, out, "frame:3")
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWithFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bodytrack.log")
	var buf bytes.Buffer
	_, err := New(Options{Level: "debug", File: file, NoColors: true, Output: &buf})
	require.NoError(t, err)

	Debug(Fields{"k": "v"}, "to file")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
