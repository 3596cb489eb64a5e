package splat

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Split runs the external splitter on the layout file from dir. command is
// the splitter invocation without the layout path.
func Split(ctx context.Context, command []string, dir, layoutPath string, stdout, stderr io.Writer) error {
	if len(command) == 0 {
		return fmt.Errorf("no splitter command configured")
	}

	args := append(append([]string{}, command[1:]...), layoutPath)
	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running splitter %s: %w", command[0], err)
	}
	return nil
}
