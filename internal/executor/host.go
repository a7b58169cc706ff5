package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// hostRun executes the command directly on the host through the shell. The
// command gets its own process group so a timeout kills the whole tree, not
// just the shell.
func hostRun(ctx context.Context, workspace, commandLine, user string) (exitCode int, stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", commandLine)
	cmd.Dir = workspace
	cmd.Env = append(os.Environ(), "BRIDGE_USER="+user)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = outBuf.Bytes()
	stderr = errBuf.Bytes()

	if runErr == nil {
		return 0, stdout, stderr, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return exitErr.ExitCode(), stdout, stderr, nil
	}
	return -1, stdout, stderr, runErr
}
