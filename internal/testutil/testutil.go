package testutil

import (
	"flag"
	"testing"
)

var RunLong = flag.Bool("long", false, "run long/heavy randomized tests")

// RequireLong skips t unless the -long flag is set.
func RequireLong(t *testing.T) {
	t.Helper()
	if !*RunLong {
		t.Skip("skipping long test (use -long to enable)")
	}
}

func IsLongEnabled() bool {
	return *RunLong
}

// Rounds returns long when -long is set and short otherwise.
func Rounds(short, long int) int {
	if *RunLong {
		return long
	}
	return short
}
