package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// EnsureDeviceID returns the per-install device identifier, generating and
// persisting a fresh UUID next to the given path on first run.
func EnsureDeviceID(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		deviceID := strings.TrimSpace(string(raw))
		if _, parseErr := uuid.Parse(deviceID); parseErr == nil {
			return deviceID, nil
		}
	}

	deviceID := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("session: device id dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(deviceID+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("session: write device id: %w", err)
	}
	return deviceID, nil
}
