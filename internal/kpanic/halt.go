// Package kpanic implements the kernel's one escape hatch for invariant
// violations that spec.md §7 classifies as fatal: a W^X breach, page-table
// corruption, a double-free. There is no recovery path — Halt logs a
// stable banner and calls os.Exit so a host-side test harness can tell a
// kernel panic apart from a normal nonzero exit.
package kpanic

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
)

const bannerFormat = "=== KERNEL PANIC: %s ==="

// Halt logs the panic banner through logger and terminates the process.
// It never returns; the return type of error exists only so call sites
// that need a value in an error-returning function can `return kpanic.Halt(...)`
// without an unreachable statement after it.
func Halt(logger logr.Logger, reason string, keysAndValues ...any) error {
	banner := fmt.Sprintf(bannerFormat, reason)
	logger.Error(fmt.Errorf("%s", banner), banner, keysAndValues...)
	os.Exit(1)
	panic(banner) // unreachable, satisfies the compiler
}
