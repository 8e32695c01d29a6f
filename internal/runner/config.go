package runner

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/uuid"
)

// EnvSkipTeardown, when set to a true value, leaves all resources in place.
const EnvSkipTeardown = "RM_RUNNER_SKIP_TEARDOWN"

// IngressAuto resolves the caller's public address and restricts SSH
// ingress to it.
const IngressAuto = "auto"

// Config configures a Runner.
type Config struct {
	// Required
	InstanceType string
	Container    string

	// Optional with defaults
	RunName          string        // default: rm-runner-<8 hex chars>
	Region           string        // default: resolved from the environment/profile
	KeyType          string        // default: rsa
	SSHUser          string        // default: ubuntu
	SSHPort          int32         // default: 22
	RootVolumeSize   int32         // default: 150 (GB)
	IngressCIDR      string        // default: 0.0.0.0/0
	ConnectAttempts  int           // default: 10
	ConnectDelay     time.Duration // default: 5s
	RunningTimeout   time.Duration // default: 15m
	TerminateTimeout time.Duration // default: 15m

	// Optional - default VPC/subnet if empty
	VPCID    string
	SubnetID string

	// Optional - newest image of the hardware class's family if empty
	ImageID string

	Credentials Credentials

	// Commands run on the instance before the image pull. Nil means the
	// image family's defaults (Docker install on plain Ubuntu); an empty,
	// non-nil slice runs nothing.
	SetupCommands []string

	// Container environment
	Env map[string]string

	// Operational
	SkipTeardown bool
}

func (c *Config) applyDefaults() {
	if c.RunName == "" {
		c.RunName = "rm-runner-" + uuid.NewString()[:8]
	}
	if c.KeyType == "" {
		c.KeyType = string(types.KeyTypeRsa)
	}
	if c.SSHUser == "" {
		c.SSHUser = "ubuntu"
	}
	if c.SSHPort == 0 {
		c.SSHPort = 22
	}
	if c.RootVolumeSize == 0 {
		c.RootVolumeSize = 150
	}
	if c.IngressCIDR == "" {
		c.IngressCIDR = "0.0.0.0/0"
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 10
	}
	if c.ConnectDelay == 0 {
		c.ConnectDelay = 5 * time.Second
	}
	if c.RunningTimeout == 0 {
		c.RunningTimeout = 15 * time.Minute
	}
	if c.TerminateTimeout == 0 {
		c.TerminateTimeout = 15 * time.Minute
	}
	if c.Env == nil {
		c.Env = make(map[string]string)
	}
	if v, ok := os.LookupEnv(EnvSkipTeardown); ok {
		if skip, err := strconv.ParseBool(v); err == nil && skip {
			c.SkipTeardown = true
		}
	}
}

var ErrInvalidConfig = fmt.Errorf("invalid runner configuration")

func (c *Config) validate() error {
	if c.InstanceType == "" {
		return fmt.Errorf("%w: instance type is required", ErrInvalidConfig)
	}
	if c.Container == "" {
		return fmt.Errorf("%w: container image is required", ErrInvalidConfig)
	}
	if _, err := name.ParseReference(c.Container); err != nil {
		return fmt.Errorf("%w: container image: %w", ErrInvalidConfig, err)
	}
	// Key pair and security group names share the run name.
	if len(c.RunName) > 255 {
		return fmt.Errorf("%w: run name exceeds 255 characters", ErrInvalidConfig)
	}
	switch types.KeyType(c.KeyType) {
	case types.KeyTypeRsa, types.KeyTypeEd25519:
	default:
		return fmt.Errorf("%w: unsupported key type %q", ErrInvalidConfig, c.KeyType)
	}
	if c.SSHPort < 1 || c.SSHPort > 65535 {
		return fmt.Errorf("%w: ssh port %d out of range", ErrInvalidConfig, c.SSHPort)
	}
	if c.IngressCIDR != IngressAuto {
		if _, _, err := net.ParseCIDR(c.IngressCIDR); err != nil {
			return fmt.Errorf("%w: ingress cidr: %w", ErrInvalidConfig, err)
		}
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("%w: connect attempts must be positive", ErrInvalidConfig)
	}
	if c.ConnectDelay < 0 || c.RunningTimeout < 0 || c.TerminateTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	for k := range c.Env {
		if k == "" {
			return fmt.Errorf("%w: empty environment variable name", ErrInvalidConfig)
		}
	}
	return c.Credentials.validate()
}

func (c *Config) instanceType() types.InstanceType {
	return types.InstanceType(c.InstanceType)
}
