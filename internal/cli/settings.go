package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/rm-runner/rm-runner/internal/runner"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variable of every flag: --instance-type
// is RM_RUNNER_INSTANCE_TYPE.
const EnvPrefix = "RM_RUNNER"

// settings is the merged view of flags, environment and config file.
type settings struct {
	InstanceType string `mapstructure:"instance-type"`
	Container    string `mapstructure:"container"`
	Region       string `mapstructure:"region"`

	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access-key-id"`
	SecretAccessKey string `mapstructure:"secret-access-key"`
	SessionToken    string `mapstructure:"session-token"`

	RunName        string        `mapstructure:"run-name"`
	KeyType        string        `mapstructure:"key-type"`
	SSHUser        string        `mapstructure:"ssh-user"`
	SSHPort        int32         `mapstructure:"ssh-port"`
	RootVolumeSize int32         `mapstructure:"root-volume-size"`
	IngressCIDR    string        `mapstructure:"ingress-cidr"`
	VPCID          string        `mapstructure:"vpc-id"`
	SubnetID       string        `mapstructure:"subnet-id"`
	ImageID        string        `mapstructure:"image-id"`
	ConnectTries   int           `mapstructure:"connect-attempts"`
	ConnectDelay   time.Duration `mapstructure:"connect-delay"`
	Env            []string      `mapstructure:"env"`
	Setup          []string      `mapstructure:"setup"`
	SkipTeardown   bool          `mapstructure:"skip-teardown"`
	DryRun         bool          `mapstructure:"dry-run"`

	SourceDir   string `mapstructure:"source-dir"`
	RuntimeArgs string `mapstructure:"runtime-args"`

	LogLevel string `mapstructure:"log-level"`
	LogJSON  bool   `mapstructure:"log-json"`
	LogDir   string `mapstructure:"log-dir"`
}

// newViper returns a viper bound to 'flags', RM_RUNNER_* environment
// variables and, when 'configFile' is set, a YAML file.
func newViper(flags *pflag.FlagSet, configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return v, nil
}

func loadSettings(v *viper.Viper) (*settings, error) {
	s := &settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	return s, nil
}

// credentials picks a source: an explicit key pair wins over a profile,
// which wins over the default chain.
func (s *settings) credentials() runner.Credentials {
	switch {
	case s.AccessKeyID != "" || s.SecretAccessKey != "":
		return runner.Credentials{
			Source:          runner.CredentialsStatic,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			SessionToken:    s.SessionToken,
		}
	case s.Profile != "":
		return runner.Credentials{Source: runner.CredentialsProfile, Profile: s.Profile}
	default:
		return runner.Credentials{}
	}
}

func (s *settings) runnerConfig() (runner.Config, error) {
	env := make(map[string]string, len(s.Env))
	for _, kv := range s.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return runner.Config{}, fmt.Errorf("%w: env %q is not KEY=VALUE", runner.ErrInvalidConfig, kv)
		}
		env[k] = v
	}

	cfg := runner.Config{
		InstanceType:    s.InstanceType,
		Container:       s.Container,
		RunName:         s.RunName,
		Region:          s.Region,
		KeyType:         s.KeyType,
		SSHUser:         s.SSHUser,
		SSHPort:         s.SSHPort,
		RootVolumeSize:  s.RootVolumeSize,
		IngressCIDR:     s.IngressCIDR,
		ConnectAttempts: s.ConnectTries,
		ConnectDelay:    s.ConnectDelay,
		VPCID:           s.VPCID,
		SubnetID:        s.SubnetID,
		ImageID:         s.ImageID,
		Credentials:     s.credentials(),
		Env:             env,
		SkipTeardown:    s.SkipTeardown,
	}
	if len(s.Setup) > 0 {
		cfg.SetupCommands = s.Setup
	}
	return cfg, nil
}
