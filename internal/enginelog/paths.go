package enginelog

import "path/filepath"

// LogDir returns the logs/ directory under the engine base directory.
func LogDir(baseDir string) string {
	return filepath.Join(baseDir, "logs")
}

// LogPath returns the default server log file path under baseDir.
func LogPath(baseDir string) string {
	return filepath.Join(LogDir(baseDir), "server.log")
}
