package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.lodestone/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".lodestone", "logs")
	}
	return filepath.Join(home, ".lodestone", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// WorkerLogPath returns the log path for a distributed worker process.
func WorkerLogPath(workerID string) string {
	return filepath.Join(DefaultLogDir(), "worker-"+workerID+".log")
}

// EnsureLogDir creates the log directory if it does not exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}
