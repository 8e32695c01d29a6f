package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/chainguard-dev/clog"
	"github.com/rm-runner/rm-runner/internal/o11y"
	"github.com/rm-runner/rm-runner/internal/pricing"
	"github.com/rm-runner/rm-runner/internal/ssh"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrConnectExhausted = fmt.Errorf("could not connect to instance")
	ErrSetup            = fmt.Errorf("instance setup failed")
)

// LaunchOptions are the per-command inputs of a session.
type LaunchOptions struct {
	// SourceDir, when set, is uploaded to the instance and mounted as the
	// container's working directory.
	SourceDir string
	// RuntimeArgs replaces the hardware class's docker runtime flags when
	// set.
	RuntimeArgs string
}

// Launch runs 'command' in the runner's container on a fresh instance, and
// destroys the instance and everything created for it before returning.
//
// A non-zero exit status of 'command' is reported in the Summary and is not
// an error. When provisioning or connecting fails, the created resources are
// rolled back and the error wraps ErrProvision or ErrConnectExhausted. When
// the upload or the command fails, the failure is returned as-is after
// teardown. Teardown errors on the success path are returned alongside the
// Summary.
func (r *Runner) Launch(ctx context.Context, command string, opts LaunchOptions) (_ *Summary, err error) {
	ctx = clog.WithValues(ctx, "run", r.cfg.RunName)
	log := clog.FromContext(ctx)

	runtimeFlags := r.class.RuntimeFlags()
	if opts.RuntimeArgs != "" {
		if err := validateRuntimeArgs(opts.RuntimeArgs); err != nil {
			return nil, err
		}
		runtimeFlags = opts.RuntimeArgs
	}
	if opts.SourceDir != "" {
		fi, err := os.Stat(opts.SourceDir)
		if err != nil {
			return nil, fmt.Errorf("%w: source dir: %w", ErrInvalidConfig, err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("%w: source dir %s is not a directory", ErrInvalidConfig, opts.SourceDir)
		}
	}

	ctx, span := o11y.StartPhase(ctx, "session",
		attribute.String(o11y.AttrRunName, r.cfg.RunName),
		attribute.String(o11y.AttrInstanceType, r.cfg.InstanceType),
	)
	defer func() { o11y.EndPhase(span, err) }()

	log.Info("starting session",
		"instance_type", r.cfg.InstanceType,
		"hardware", r.class,
		"container", r.cfg.Container,
		"region", r.cfg.Region,
	)

	sum := &Summary{RunName: r.cfg.RunName}
	start := r.clock.Now()
	s := &stack{}

	remote, err := r.start(ctx, s, sum)
	sum.Provisioning = r.clock.Since(start)
	if err != nil {
		log.Error("session failed to start, rolling back", "error", err)
		// Destroy logs each failing step.
		_, _ = r.teardown(ctx, s)
		return nil, err
	}

	execStart := r.clock.Now()
	exitCode, err := r.execute(ctx, remote, command, runtimeFlags, opts.SourceDir)
	sum.Execution = r.clock.Since(execStart)
	if cerr := remote.Close(); cerr != nil {
		log.Debug("closing connection", "error", cerr)
	}
	if err != nil {
		log.Error("execution failed, tearing down", "error", err)
		_, _ = r.teardown(ctx, s)
		return nil, err
	}
	sum.ExitCode = exitCode
	if exitCode != 0 {
		log.Warn("command exited with non-zero status", "exit_code", exitCode)
	}

	var teardownErr error
	sum.Teardown, teardownErr = r.teardown(ctx, s)
	r.price(ctx, sum)
	sum.Total = r.clock.Since(start)

	log.Info("session complete", "summary", sum)
	return sum, teardownErr
}

// start runs the provision and connect phases. On error, 's' holds
// whatever must be rolled back.
func (r *Runner) start(ctx context.Context, s *stack, sum *Summary) (Remote, error) {
	pctx, span := o11y.StartPhase(ctx, "provision")
	prov, err := r.provision(pctx, s)
	o11y.EndPhase(span, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvision, err)
	}
	sum.InstanceID = prov.instanceID
	sum.ImageID = prov.imageID

	cctx, span := o11y.StartPhase(ctx, "connect",
		attribute.String(o11y.AttrInstanceID, prov.instanceID),
	)
	remote, err := r.connectRetrying(cctx, prov)
	if err == nil {
		if err = r.prepare(cctx, remote); err != nil {
			_ = remote.Close()
		}
	}
	o11y.EndPhase(span, err)
	if err != nil {
		return nil, err
	}
	return remote, nil
}

// connectRetrying connects to the instance, retrying at a fixed interval
// while its SSH daemon starts.
func (r *Runner) connectRetrying(ctx context.Context, prov *provisioned) (Remote, error) {
	log := clog.FromContext(ctx)
	target := Target{
		Host:       prov.address,
		Port:       uint16(r.cfg.SSHPort),
		User:       r.cfg.SSHUser,
		PrivateKey: prov.privateKey,
	}
	retry := ssh.Retry{
		Attempts: r.cfg.ConnectAttempts,
		Delay:    r.cfg.ConnectDelay,
		Clock:    r.clock,
	}

	log.Info("connecting to instance", "host", target.Host, "port", target.Port, "user", target.User)
	var remote Remote
	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
		rem, err := r.connect(ctx, target)
		if err != nil {
			log.Info("instance not reachable yet", "attempt", attempt, "max_attempts", retry.Attempts)
			return err
		}
		remote = rem
		return nil
	})
	if errors.Is(err, ssh.ErrRetriesExhausted) {
		return nil, fmt.Errorf("%w: %w", ErrConnectExhausted, err)
	}
	if err != nil {
		return nil, err
	}
	log.Info("connected to instance")
	return remote, nil
}

// prepare runs the setup commands, then pulls the container image. A failed
// pull is only logged: the image may already be present, and 'docker run'
// pulls on its own otherwise.
func (r *Runner) prepare(ctx context.Context, remote Remote) error {
	log := clog.FromContext(ctx)

	if len(r.cfg.SetupCommands) > 0 {
		log.Info("running setup commands", "count", len(r.cfg.SetupCommands))
		out, err := remote.ExecIn(ctx, ssh.ShellBash, r.cfg.SetupCommands...)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSetup, err)
		}
		log.Debug("setup commands complete", "output", out)
	}

	log.Info("pulling container image", "image", r.cfg.Container)
	out, err := remote.Run(ctx, dockerPull(r.cfg.Container, r.family.DockerSudo))
	log.Debug("image pull output", "output", out)
	if err != nil {
		log.Warn("pulling container image", "image", r.cfg.Container, "error", err)
	}
	return nil
}

// execute uploads 'sourceDir', if set, and runs 'command' in the container,
// streaming its output to the runner's writer.
func (r *Runner) execute(ctx context.Context, remote Remote, command, runtimeFlags, sourceDir string) (int, error) {
	log := clog.FromContext(ctx)

	workdir := homeDir(r.cfg.SSHUser)
	if sourceDir != "" {
		remoteDir := path.Join(workdir, remoteSourceDir)
		uctx, span := o11y.StartPhase(ctx, "upload")
		log.Info("uploading source directory", "from", sourceDir, "to", remoteDir)
		err := remote.Upload(uctx, sourceDir, remoteDir)
		o11y.EndPhase(span, err)
		if err != nil {
			return 0, err
		}
		workdir = remoteDir
	}

	run := dockerRun{
		Sudo:         r.family.DockerSudo,
		RuntimeFlags: runtimeFlags,
		Env:          r.cfg.Env,
		HostWorkdir:  workdir,
		Image:        r.cfg.Container,
		Command:      command,
	}

	ectx, span := o11y.StartPhase(ctx, "execute")
	log.Info("running command", "command", command)
	log.Debug("container invocation", "cmd", run.String())
	code, err := remote.Exec(ectx, run.String(), r.out)
	span.SetAttributes(attribute.Int(o11y.AttrExitCode, code))
	o11y.EndPhase(span, err)
	return code, err
}

// price fills in the Summary's cost estimate. Failure only logs a warning.
func (r *Runner) price(ctx context.Context, sum *Summary) {
	ctx, span := o11y.StartPhase(ctx, "price")
	rate, err := r.HourlyRate(ctx)
	o11y.EndPhase(span, err)
	if err != nil {
		clog.FromContext(ctx).Warn("could not estimate cost", "error", err)
		return
	}
	cost := pricing.Estimate(rate, sum.Active())
	sum.HourlyRate = &rate
	sum.EstimatedCost = &cost
}
