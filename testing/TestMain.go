// Package testing switches the binaries into test mode. Test files import it
// for its side effect so a stray main() call never dials Postgres or Redis.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// TestModeEnv mirrors app.TestModeEnv without importing the app package.
const TestModeEnv = "FLOURMILL_TEST_MODE"

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv(TestModeEnv, "1")
	})
}

func init() {
	ensureTestMode()
}

// TestMain can be delegated to from packages that declare their own.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
