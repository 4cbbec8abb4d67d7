// Command cloudlock runs a process on at most one node of a fleet at a time,
// coordinated through a lease record in a shared store.
//
// Usage:
//
//	cloudlock run [flags] -- COMMAND [ARGS...]
//	cloudlock status [flags]
//	cloudlock timeserver [flags]
//
// Settings come from a YAML config file (--config),
// CLOUDLOCK_* environment variables (e.g. CLOUDLOCK_STORE_KIND),
// and flags, in increasing order of precedence.
package main

import (
	"fmt"
	"os"

	"github.com/bobg/errors"

	"github.com/bobg/cloudlock"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *cloudlock.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
