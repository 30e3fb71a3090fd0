package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New("verbose", "")
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "capgw.log")
	log, err := New("debug", file)
	require.NoError(t, err)

	log.Info("hello")
	_ = log.Sync()

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
}
