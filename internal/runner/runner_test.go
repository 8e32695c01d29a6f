package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyInstanceType(t *testing.T) {
	tests := []struct {
		instanceType string
		want         HardwareClass
	}{
		{"dl1.24xlarge", HardwareAccelerator},
		{"DL1.24XLARGE", HardwareAccelerator},
		{"p3.2xlarge", HardwareGPU},
		{"p4d.24xlarge", HardwareGPU},
		{"g5.xlarge", HardwareGPU},
		{"g4dn.xlarge", HardwareGPU},
		{"t3.micro", HardwareNone},
		// Only the family decides: the "g" in "large" or a Graviton "g"
		// suffix does not make an instance a GPU one.
		{"m5.large", HardwareNone},
		{"m6g.large", HardwareNone},
		{"c7g.xlarge", HardwareNone},
		// The size suffix must not influence the class.
		{"c5.metal", HardwareNone},
		{"r6gd.large", HardwareNone},
		{"", HardwareNone},
	}

	for _, tt := range tests {
		t.Run(tt.instanceType, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyInstanceType(tt.instanceType))
		})
	}
}

func TestHardwareClassDerivations(t *testing.T) {
	assert.Equal(t,
		"--runtime=habana -e HABANA_VISIBLE_DEVICES=all -e OMPI_MCA_btl_vader_single_copy_mechanism=none",
		HardwareAccelerator.RuntimeFlags(),
	)
	assert.Equal(t, "--gpus all", HardwareGPU.RuntimeFlags())
	assert.Empty(t, HardwareNone.RuntimeFlags())

	assert.Equal(t, "habana-dlami", HardwareAccelerator.ImageFamily().Name)
	assert.Equal(t, "gpu-dlami", HardwareGPU.ImageFamily().Name)
	ubuntu := HardwareNone.ImageFamily()
	assert.Equal(t, "ubuntu", ubuntu.Name)
	assert.True(t, ubuntu.DockerSudo)
	assert.NotEmpty(t, ubuntu.SetupCommands)
}

func TestStackDestroy(t *testing.T) {
	var order []string
	step := func(name string, err error) Teardown {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}
	errGroup := errors.New("DependencyViolation")

	s := &stack{}
	s.Push("key pair", step("key pair", nil))
	s.Push("security group", step("security group", errGroup))
	s.Push("instance", step("instance", nil))
	require.Equal(t, 3, s.Len())

	err := s.Destroy(context.Background())
	assert.Equal(t, []string{"instance", "security group", "key pair"}, order)
	require.ErrorIs(t, err, errGroup)
	assert.ErrorContains(t, err, "security group: DependencyViolation")
	assert.Zero(t, s.Len())

	// A destroyed stack has nothing left to run.
	order = nil
	require.NoError(t, s.Destroy(context.Background()))
	assert.Empty(t, order)
}

func TestStackDestroyJoinsErrors(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	s := &stack{}
	s.Push("a", func(context.Context) error { return errA })
	s.Push("b", func(context.Context) error { return errB })

	err := s.Destroy(context.Background())
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
}

func TestDockerRun(t *testing.T) {
	tests := []struct {
		name string
		run  dockerRun
		want string
	}{
		{
			name: "accelerator",
			run: dockerRun{
				RuntimeFlags: HardwareAccelerator.RuntimeFlags(),
				HostWorkdir:  "/home/ubuntu/rm-runner-src",
				Image:        "vault.habana.ai/gaudi-docker/1.5.0/ubuntu20.04/habanalabs/pytorch-installer-1.11.0:latest",
				Command:      "python3 train.py --epochs 1",
			},
			want: "docker run --runtime=habana -e HABANA_VISIBLE_DEVICES=all -e OMPI_MCA_btl_vader_single_copy_mechanism=none " +
				"--cap-add=sys_nice --net=host --ipc=host -v /home/ubuntu/rm-runner-src:/home/ubuntu/rm-runner " +
				"--workdir=/home/ubuntu/rm-runner vault.habana.ai/gaudi-docker/1.5.0/ubuntu20.04/habanalabs/pytorch-installer-1.11.0:latest " +
				"python3 train.py --epochs 1",
		},
		{
			name: "no flags, sudo, sorted env",
			run: dockerRun{
				Sudo:        true,
				Env:         map[string]string{"B": "2", "A": "1"},
				HostWorkdir: "/home/ubuntu",
				Image:       "python:3.11",
				Command:     "python -c 'print(1)'",
			},
			want: "sudo docker run --cap-add=sys_nice --net=host --ipc=host -e A=1 -e B=2 " +
				"-v /home/ubuntu:/home/ubuntu/rm-runner --workdir=/home/ubuntu/rm-runner python:3.11 python -c 'print(1)'",
		},
		{
			name: "no command",
			run:  dockerRun{HostWorkdir: "/root", Image: "alpine"},
			want: "docker run --cap-add=sys_nice --net=host --ipc=host -v /root:/home/ubuntu/rm-runner --workdir=/home/ubuntu/rm-runner alpine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.run.String())
		})
	}
}

func TestDockerRunQuotesEnv(t *testing.T) {
	run := dockerRun{
		Env:         map[string]string{"MSG": "hello world; rm -rf /"},
		HostWorkdir: "/home/ubuntu",
		Image:       "alpine",
	}

	words, err := shellquote.Split(run.String())
	require.NoError(t, err)
	assert.Contains(t, words, "MSG=hello world; rm -rf /")
	assert.NotContains(t, words, "rm")
}

func TestDockerPull(t *testing.T) {
	assert.Equal(t, "docker pull python:3.11", dockerPull("python:3.11", false))
	assert.Equal(t, "sudo docker pull python:3.11", dockerPull("python:3.11", true))
}

func TestHomeDir(t *testing.T) {
	assert.Equal(t, "/home/ubuntu", homeDir("ubuntu"))
	assert.Equal(t, "/home/ec2-user", homeDir("ec2-user"))
	assert.Equal(t, "/root", homeDir("root"))
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "E: Unable to locate package", lastLine("Reading package lists...\nE: Unable to locate package\n\n"))
	assert.Equal(t, "", lastLine(""))
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv(EnvSkipTeardown, "")
	cfg := Config{InstanceType: "p3.2xlarge", Container: "python:3.11"}
	cfg.applyDefaults()
	require.NoError(t, cfg.validate())

	assert.True(t, strings.HasPrefix(cfg.RunName, "rm-runner-"))
	assert.Len(t, cfg.RunName, len("rm-runner-")+8)
	assert.Equal(t, "rsa", cfg.KeyType)
	assert.Equal(t, "ubuntu", cfg.SSHUser)
	assert.Equal(t, int32(22), cfg.SSHPort)
	assert.Equal(t, int32(150), cfg.RootVolumeSize)
	assert.Equal(t, "0.0.0.0/0", cfg.IngressCIDR)
	assert.Equal(t, 10, cfg.ConnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.ConnectDelay)
	assert.Equal(t, 15*time.Minute, cfg.RunningTimeout)
	assert.Equal(t, 15*time.Minute, cfg.TerminateTimeout)
	assert.False(t, cfg.SkipTeardown)

	other := Config{InstanceType: "p3.2xlarge", Container: "python:3.11"}
	other.applyDefaults()
	assert.NotEqual(t, cfg.RunName, other.RunName)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"no instance type", func(c *Config) { c.InstanceType = "" }},
		{"no container", func(c *Config) { c.Container = "" }},
		{"container with shell", func(c *Config) { c.Container = "python:3.11; rm -rf /" }},
		{"container uppercase repository", func(c *Config) { c.Container = "Python:3.11" }},
		{"container bad digest", func(c *Config) { c.Container = "alpine@sha256:abc" }},
		{"key type", func(c *Config) { c.KeyType = "dsa" }},
		{"ingress", func(c *Config) { c.IngressCIDR = "everywhere" }},
		{"attempts", func(c *Config) { c.ConnectAttempts = -1 }},
		{"delay", func(c *Config) { c.ConnectDelay = -time.Second }},
		{"env", func(c *Config) { c.Env = map[string]string{"": "x"} }},
		{"run name", func(c *Config) { c.RunName = strings.Repeat("x", 256) }},
		{"static credentials", func(c *Config) { c.Credentials = Credentials{Source: CredentialsStatic, AccessKeyID: "AKIA"} }},
		{"profile credentials", func(c *Config) { c.Credentials = Credentials{Source: CredentialsProfile} }},
		{"credential source", func(c *Config) { c.Credentials = Credentials{Source: "vault"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvSkipTeardown, "")
			cfg := Config{InstanceType: "p3.2xlarge", Container: "python:3.11"}
			cfg.applyDefaults()
			tt.modify(&cfg)
			require.ErrorIs(t, cfg.validate(), ErrInvalidConfig)
		})
	}

	t.Run("image references", func(t *testing.T) {
		for _, ref := range []string{
			"alpine",
			"python:3.11",
			"nvcr.io/nvidia/pytorch:22.06-py3",
			"localhost:5000/team/trainer:v2",
			"alpine@sha256:" + strings.Repeat("a", 64),
		} {
			cfg := Config{InstanceType: "p3.2xlarge", Container: ref}
			cfg.applyDefaults()
			assert.NoError(t, cfg.validate(), ref)
		}
	})

	t.Run("auto ingress", func(t *testing.T) {
		cfg := Config{InstanceType: "p3.2xlarge", Container: "python:3.11", IngressCIDR: IngressAuto}
		cfg.applyDefaults()
		require.NoError(t, cfg.validate())
	})
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Config{Container: "python:3.11"},
		WithEC2Client(&mockEC2Client{}),
		WithPricer(&mockPricer{}),
	)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewNoRegion(t *testing.T) {
	cfg := testConfig()
	cfg.Region = ""
	_, err := New(context.Background(), cfg,
		WithEC2Client(&mockEC2Client{}),
		WithPricer(&mockPricer{}),
	)
	require.ErrorIs(t, err, ErrNoRegion)
}

func TestSingleAddrCIDR(t *testing.T) {
	got, err := singleAddrCIDR("203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5/32", got)

	got, err = singleAddrCIDR("::ffff:203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5/32", got)

	got, err = singleAddrCIDR("2001:db8::5")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::5/128", got)

	_, err = singleAddrCIDR("<html>")
	require.ErrorIs(t, err, ErrAddressInvalid)
}

func TestSummaryString(t *testing.T) {
	cost := 1.53
	sum := &Summary{
		RunName:       "rm-runner-abc",
		Total:         32 * time.Minute,
		Provisioning:  90 * time.Second,
		Execution:     29 * time.Minute,
		Teardown:      30 * time.Second,
		EstimatedCost: &cost,
		ExitCode:      1,
	}
	out := sum.String()
	assert.Contains(t, out, "rm-runner-abc")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "Exit code:    1")
	assert.Contains(t, out, "$1.53")

	sum.EstimatedCost = nil
	assert.Contains(t, sum.String(), "Cost:         unknown")
}
