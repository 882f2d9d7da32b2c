package capture

import (
	"context"
	"os"
	"os/exec"
)

// Tool is an external binary such as ffmpeg or ffprobe. Args are placed in
// front of every invocation and Env is appended to the inherited environment,
// which lets a wrapper (flatpak-spawn --host, nice, a test double) stand in
// for the binary itself.
type Tool struct {
	Path string
	Args []string
	Env  []string
}

func NewTool(path string) Tool {
	return Tool{Path: path}
}

// Command builds an exec.Cmd for the tool with the given arguments.
func (t Tool) Command(args ...string) *exec.Cmd {
	return t.configure(exec.Command(t.Path, t.argv(args)...))
}

// CommandContext is like Command but the process is killed when ctx is done.
func (t Tool) CommandContext(ctx context.Context, args ...string) *exec.Cmd {
	return t.configure(exec.CommandContext(ctx, t.Path, t.argv(args)...))
}

func (t Tool) argv(args []string) []string {
	full := make([]string, 0, len(t.Args)+len(args))
	full = append(full, t.Args...)
	return append(full, args...)
}

func (t Tool) configure(cmd *exec.Cmd) *exec.Cmd {
	if len(t.Env) > 0 {
		cmd.Env = append(os.Environ(), t.Env...)
	}
	return cmd
}

// Available reports whether the tool's binary can be found.
func (t Tool) Available() (string, error) {
	return exec.LookPath(t.Path)
}
