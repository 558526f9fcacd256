package app

import (
	"os"
	"sync"
	"sync/atomic"
)

// TestModeEnv names the variable that makes binaries skip external side effects.
const TestModeEnv = "FLOURMILL_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(TestModeEnv) == "1")
}

// InTestMode reports whether the binaries should skip connecting to Postgres,
// Redis and the listener.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}
