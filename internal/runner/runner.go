package runner

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/rm-runner/rm-runner/internal/pricing"
	"k8s.io/utils/clock"
)

// Pricer looks up on-demand hourly rates.
type Pricer interface {
	HourlyRate(ctx context.Context, region, instanceType string) (float64, error)
}

var _ Pricer = (*pricing.Catalog)(nil)

// Runner runs sessions for one instance type and container image.
type Runner struct {
	cfg    Config
	class  HardwareClass
	family ImageFamily

	ec2       EC2API
	pricer    Pricer
	connect   Connector
	clock     clock.Clock
	out       io.Writer
	addrProbe func(ctx context.Context) (string, error)
}

type Option func(*Runner)

// WithEC2Client replaces the EC2 client built from the AWS configuration.
func WithEC2Client(c EC2API) Option {
	return func(r *Runner) { r.ec2 = c }
}

// WithPricer replaces the Price List catalog.
func WithPricer(p Pricer) Option {
	return func(r *Runner) { r.pricer = p }
}

// WithConnector replaces the SSH connector.
func WithConnector(c Connector) Option {
	return func(r *Runner) { r.connect = c }
}

// WithClock replaces the clock used for phase timings and connection retry
// delays.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithOutput sets where remote command output is streamed. Default: stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// withPublicAddrLookup replaces the public IP lookup used for IngressAuto.
func withPublicAddrLookup(fn func(ctx context.Context) (string, error)) Option {
	return func(r *Runner) { r.addrProbe = fn }
}

// New validates 'cfg' and prepares a Runner. AWS configuration is only
// resolved when an EC2 client or pricer was not supplied.
func New(ctx context.Context, cfg Config, opts ...Option) (*Runner, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	class := ClassifyInstanceType(cfg.InstanceType)
	r := &Runner{
		cfg:     cfg,
		class:   class,
		family:  class.ImageFamily(),
		connect: DialSSH,
		clock:   clock.RealClock{},
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.SetupCommands == nil {
		r.cfg.SetupCommands = r.family.SetupCommands
	}

	if r.ec2 == nil || r.pricer == nil {
		awsCfg, err := LoadAWSConfig(ctx, cfg.Region, cfg.Credentials)
		if err != nil {
			return nil, err
		}
		r.cfg.Region = awsCfg.Region
		if r.ec2 == nil {
			r.ec2 = ec2.NewFromConfig(awsCfg)
		}
		if r.pricer == nil {
			r.pricer = pricing.NewCatalogFromConfig(awsCfg)
		}
	}
	if r.cfg.Region == "" {
		return nil, ErrNoRegion
	}
	return r, nil
}

// RunName is the name shared by every resource of this runner's sessions.
func (r *Runner) RunName() string { return r.cfg.RunName }

func (r *Runner) HardwareClass() HardwareClass { return r.class }

func (r *Runner) RuntimeFlags() string { return r.class.RuntimeFlags() }

func (r *Runner) ImageFamily() ImageFamily { return r.family }

// HourlyRate looks up the on-demand rate of the runner's instance type.
func (r *Runner) HourlyRate(ctx context.Context) (float64, error) {
	rate, err := r.pricer.HourlyRate(ctx, r.cfg.Region, r.cfg.InstanceType)
	if err != nil {
		return 0, fmt.Errorf("pricing %s: %w", r.cfg.InstanceType, err)
	}
	return rate, nil
}
