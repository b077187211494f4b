package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Trainer refreshes the learned artifacts offline.
type Trainer interface {
	Train(ctx context.Context) error
}

// CommandTrainer runs an external training command with the artifacts
// directory in its environment. It performs no network I/O of its own.
type CommandTrainer struct {
	Command      []string
	Dir          string
	ArtifactsDir string
}

func (c CommandTrainer) Train(ctx context.Context) error {
	if len(c.Command) == 0 {
		return errors.New("no training command configured")
	}
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), "SENTIENCEX_ARTIFACTS_DIR="+c.ArtifactsDir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %s: %w: %s", c.Command[0], err, truncate(strings.TrimSpace(string(out)), 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
