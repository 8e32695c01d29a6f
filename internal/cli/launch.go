package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chainguard-dev/clog"
	"github.com/kballard/go-shellquote"
	"github.com/rm-runner/rm-runner/internal/log"
	"github.com/rm-runner/rm-runner/internal/runner"
	"github.com/spf13/cobra"
)

func newLaunchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch [flags] -- <command> [args...]",
		Short: "Run a command in a container on a fresh instance",
		Example: `  rm-runner launch --instance-type p3.2xlarge --container pytorch/pytorch:latest \
    --source-dir . -- python train.py --epochs 1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.setup(cmd)
			if err != nil {
				return err
			}
			return launch(cmd, s, remoteCommand(args))
		},
	}

	f := cmd.Flags()
	f.String("instance-type", "", "EC2 instance type, e.g. p3.2xlarge (required)")
	f.String("container", "", "container image to run (required)")
	f.String("run-name", "", "name of the key pair, security group and instance (default: generated)")
	f.String("source-dir", "", "local directory to upload and mount as the working directory")
	f.String("runtime-args", "", "docker runtime flags replacing the ones derived from the instance type")
	f.String("key-type", "", "key pair type: rsa or ed25519 (default: rsa)")
	f.String("ssh-user", "", "login user of the machine image (default: ubuntu)")
	f.Int32("ssh-port", 0, "SSH port (default: 22)")
	f.Int32("root-volume-size", 0, "root volume size in GB (default: 150)")
	f.String("ingress-cidr", "", `CIDR allowed to reach SSH, or "auto" for this host's public address (default: 0.0.0.0/0)`)
	f.String("vpc-id", "", "VPC for the security group (default: the default VPC)")
	f.String("subnet-id", "", "subnet for the instance (default: a default subnet)")
	f.String("image-id", "", "machine image to boot, bypassing image selection")
	f.Int("connect-attempts", 0, "SSH connection attempts (default: 10)")
	f.Duration("connect-delay", 0, "delay between SSH connection attempts (default: 5s)")
	f.StringSlice("env", nil, "KEY=VALUE environment variable for the container; repeatable")
	f.StringArray("setup", nil, "command run on the instance before the image pull; repeatable")
	f.Bool("skip-teardown", false, "leave all resources in place for debugging")
	f.Bool("dry-run", false, "print the session plan and hourly rate without creating anything")
	return cmd
}

// remoteCommand turns the arguments after '--' into one shell command line.
// A single argument is taken as a command line already.
func remoteCommand(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return shellquote.Join(args...)
}

func launch(cmd *cobra.Command, s *settings, command string) error {
	ctx := cmd.Context()

	cfg, err := s.runnerConfig()
	if err != nil {
		return err
	}
	r, err := runner.New(ctx, cfg, runner.WithOutput(cmd.OutOrStdout()))
	if err != nil {
		return err
	}

	if s.DryRun {
		return printPlan(ctx, cmd.OutOrStdout(), r, s.RuntimeArgs, command)
	}

	ctx, closeLog, err := log.TeeToFile(ctx, s.LogDir, r.RunName())
	if err != nil {
		clog.FromContext(ctx).Warn("session log file disabled", "error", err)
	}
	defer closeLog()

	sum, err := r.Launch(ctx, command, runner.LaunchOptions{
		SourceDir:   s.SourceDir,
		RuntimeArgs: s.RuntimeArgs,
	})
	if sum != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), sum)
	}
	return sessionError(sum, err)
}

// printPlan describes the session 'r' would run, including its hourly rate
// when it can be priced.
func printPlan(ctx context.Context, w io.Writer, r *runner.Runner, runtimeArgs, command string) error {
	flags := r.RuntimeFlags()
	if runtimeArgs != "" {
		flags = runtimeArgs
	}
	rate := "unknown"
	if hourly, err := r.HourlyRate(ctx); err != nil {
		clog.FromContext(ctx).Warn("could not price instance type", "error", err)
	} else {
		rate = fmt.Sprintf("$%.4f/hour", hourly)
	}

	_, err := fmt.Fprintf(w, "Run:          %s\nHardware:     %s\nImage family: %s\nRuntime args: %s\nCommand:      %s\nRate:         %s\n",
		r.RunName(), r.HardwareClass(), r.ImageFamily().Name, flags, command, rate)
	return err
}

// sessionError is the command's result for a finished Launch. A teardown
// failure after a non-zero exit carries both, so the exit status survives.
func sessionError(sum *runner.Summary, err error) error {
	if sum == nil || sum.ExitCode == 0 {
		return err
	}
	exitErr := &ExitError{Code: sum.ExitCode}
	if err == nil {
		return exitErr
	}
	return errors.Join(err, exitErr)
}
