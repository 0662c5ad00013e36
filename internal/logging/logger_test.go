package logging

import "testing"

// TestGetBeforeInitialize verifies loggers are usable (and silent) before
// Initialize installs a backend.
func TestGetBeforeInitialize(t *testing.T) {
	logger := Get(CategoryThread)
	logger.Debug("before initialize: %d", 1)
	logger.Info("still fine")
}

// TestSetLevel verifies level names parse and bad ones error.
func TestSetLevel(t *testing.T) {
	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug): %v", err)
	}
	if err := SetLevel("nonsense"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if err := SetLevel("info"); err != nil {
		t.Fatalf("SetLevel(info): %v", err)
	}
}
