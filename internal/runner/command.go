package runner

import (
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/kballard/go-shellquote"
)

// containerWorkdir is where the working directory is mounted in the
// container, and the container's working directory.
const containerWorkdir = "/home/ubuntu/rm-runner"

// remoteSourceDir is the directory, relative to the remote user's home, the
// local source directory is uploaded to.
const remoteSourceDir = "rm-runner-src"

// dockerRun describes one 'docker run' invocation on the instance.
type dockerRun struct {
	Sudo         bool
	RuntimeFlags string
	Env          map[string]string
	HostWorkdir  string
	Image        string
	// Command is a shell command line, passed through verbatim.
	Command string
}

// String renders the invocation as a single shell command line.
func (d dockerRun) String() string {
	parts := make([]string, 0, 16)
	if d.Sudo {
		parts = append(parts, "sudo")
	}
	parts = append(parts, "docker", "run")
	if flags := strings.TrimSpace(d.RuntimeFlags); flags != "" {
		parts = append(parts, flags)
	}
	parts = append(parts, "--cap-add=sys_nice", "--net=host", "--ipc=host")
	for _, k := range slices.Sorted(maps.Keys(d.Env)) {
		parts = append(parts, "-e", shellquote.Join(k+"="+d.Env[k]))
	}
	parts = append(parts,
		"-v", shellquote.Join(d.HostWorkdir+":"+containerWorkdir),
		"--workdir="+containerWorkdir,
		shellquote.Join(d.Image),
	)
	if cmd := strings.TrimSpace(d.Command); cmd != "" {
		parts = append(parts, cmd)
	}
	return strings.Join(parts, " ")
}

// dockerPull renders the image pull for 'image'.
func dockerPull(image string, sudo bool) string {
	cmd := "docker pull " + shellquote.Join(image)
	if sudo {
		return "sudo " + cmd
	}
	return cmd
}

// homeDir is the home directory of 'user' on the stock images.
func homeDir(user string) string {
	if user == "root" {
		return "/root"
	}
	return path.Join("/home", user)
}

// validateRuntimeArgs checks that a runtime flag override is a well-formed
// shell word list.
func validateRuntimeArgs(args string) error {
	if _, err := shellquote.Split(args); err != nil {
		return fmt.Errorf("%w: runtime args: %w", ErrInvalidConfig, err)
	}
	return nil
}

// lastLine returns the last non-empty line of 's'.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
