// internal/fixer/guard.go
package fixer

import (
	"errors"
	"fmt"
)

// ErrProtectedBranch is returned when a commit would land on the protected
// branch.
var ErrProtectedBranch = errors.New("refusing to commit on protected branch")

// CheckBranchAllowed is the precondition for every mutating git step. It
// takes the workspace's actual HEAD branch, not the branch the pipeline
// believes it created, and runs regardless of dry-run mode.
func CheckBranchAllowed(currentBranch, protectedBranch string) error {
	if currentBranch == protectedBranch {
		return fmt.Errorf("%w: HEAD is on %q", ErrProtectedBranch, currentBranch)
	}
	return nil
}
