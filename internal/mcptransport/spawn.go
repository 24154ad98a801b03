package mcptransport

import (
	"fmt"
	"os"
	"os/exec"
)

// SpawnSubprocess starts command with the given environment overlay and
// wires its stdin/stdout into a new StdioClient. The child's stderr is
// inherited so provider crash output lands in the supervisor's own log
// stream.
func SpawnSubprocess(command []string, env map[string]string) (*StdioClient, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command vector")
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	return NewStdioClient(cmd, stdin, stdout), nil
}
