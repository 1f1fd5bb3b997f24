package kpostgres_test

import (
	"testing"

	kpostgres "github.com/norcalli/kpostgres-fixture"
)

func Test_Skipped(t *testing.T) {
	t.Setenv("KPOSTGRES_DISABLE_TESTING", "true")

	kpostgres.SkipDisabled(t)

	t.Fatal("expected test is skipped")
}
