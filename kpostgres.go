package kpostgres

import (
	"os"
	"strconv"
	"testing"
)

// SkipDisabled skips the test when KPOSTGRES_DISABLE_TESTING is set to a
// truthy value. Tests that need a docker daemon or a reachable postgres
// server call it first.
func SkipDisabled(t *testing.T) {
	env := os.Getenv("KPOSTGRES_DISABLE_TESTING")

	disabled, _ := strconv.ParseBool(env)

	if disabled {
		t.Skipf("test skipped because KPOSTGRES_DISABLE_TESTING=%s", env)
	}
}
