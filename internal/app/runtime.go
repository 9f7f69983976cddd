package app

import (
	"os"
	"sync"
)

const testModeEnv = "TRADECORE_TEST_MODE"

// InTestMode reports whether the process should skip runtime side effects
// such as binding listeners. Set TRADECORE_TEST_MODE=1 to enable.
var InTestMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})
