package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
)

const gitTimeout = 5 * time.Second

// Snapshot creates a git branch pointing at the workspace's current HEAD so a
// destructive run can be undone. Returns "" when the workspace is not a git
// repository; that is not an error, just no safety net.
func Snapshot(ctx context.Context, workspace string, now time.Time) (string, error) {
	checkCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	check := exec.CommandContext(checkCtx, "git", "rev-parse", "--git-dir")
	check.Dir = workspace
	if err := check.Run(); err != nil {
		return "", nil
	}

	branch := "snapshot-" + now.Format("20060102-150405")

	branchCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	create := exec.CommandContext(branchCtx, "git", "branch", branch)
	create.Dir = workspace
	if out, err := create.CombinedOutput(); err != nil {
		return "", fmt.Errorf("create snapshot branch: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return branch, nil
}

// Rollback checks out a previously created snapshot branch.
func Rollback(ctx context.Context, workspace, branch string) error {
	if branch == "" || !strings.HasPrefix(branch, "snapshot-") {
		return kkErrors.InvalidInput("not a snapshot branch")
	}

	coCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	co := exec.CommandContext(coCtx, "git", "checkout", branch)
	co.Dir = workspace
	if out, err := co.CombinedOutput(); err != nil {
		return fmt.Errorf("checkout snapshot %s: %s: %w", branch, strings.TrimSpace(string(out)), err)
	}
	return nil
}
