package enginelog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Info("hello", "key", "value")
	cleanup()

	data, err := os.ReadFile(LogPath(dir))
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
	require.Contains(t, string(data), `"key":"value"`)
}

func TestRotatingWriterRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	w, err := NewRotatingWriter(path, 0, 3) // maxSize 0 disables size check via MB*0=0... use tiny size instead
	require.NoError(t, err)
	w.maxSize = 10 // force small rotation threshold for the test
	defer w.Close()

	for i := 0; i < 5; i++ {
		_, err := w.Write([]byte("0123456789"))
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	require.NoError(t, err)
}

func TestLogPathUnderBaseDir(t *testing.T) {
	require.Equal(t, filepath.Join("base", "logs", "server.log"), LogPath("base"))
}
