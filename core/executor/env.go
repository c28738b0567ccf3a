package executor

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// shellEnvTimeout bounds the login-shell probe. Slow shell profiles must
// not delay a job start indefinitely.
const shellEnvTimeout = 2 * time.Second

// SourceShellEnv captures the environment a login shell would provide, so
// PATH additions and credentials from the user's shell profile reach the
// trainer. Any failure or timeout yields an empty map, never an error: the
// start sequence proceeds with the base environment instead.
func SourceShellEnv(ctx context.Context) map[string]string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	ctx, cancel := context.WithTimeout(ctx, shellEnvTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, shell, "-l", "-c", "env")
	out, err := cmd.Output()
	if err != nil {
		logrus.Warnf("Shell environment probe failed, continuing without it: %v", err)
		return map[string]string{}
	}

	env := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			continue
		}
		env[line[:idx]] = line[idx+1:]
	}
	return env
}
