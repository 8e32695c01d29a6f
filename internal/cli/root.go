package cli

import (
	"fmt"
	"log/slog"

	"github.com/rm-runner/rm-runner/internal/log"
	"github.com/spf13/cobra"
)

// ExitError carries the remote command's non-zero exit status out to main.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.Code)
}

// app holds what every subcommand shares.
type app struct {
	// handlers receive every record alongside the terminal.
	handlers []slog.Handler
}

// NewRootCommand returns the rm-runner command tree. 'version' is reported by
// --version; 'handlers' are fanned out to in addition to the terminal logger.
func NewRootCommand(version string, handlers ...slog.Handler) *cobra.Command {
	a := &app{handlers: handlers}
	root := &cobra.Command{
		Use:   "rm-runner",
		Short: "Run a containerized command on a throwaway EC2 instance",
		Long: `rm-runner provisions a single EC2 instance, runs one container on it over
SSH while streaming the output, then destroys the instance and everything
created for it and reports how long it took and roughly what it cost.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "YAML config file; keys are flag names")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.Bool("log-json", false, "log JSON instead of text")
	pf.String("log-dir", "", "also write a JSON log of each session to this directory")
	pf.String("region", "", "AWS region (default: from the environment or profile)")
	pf.String("profile", "", "shared config profile to take credentials from")
	pf.String("access-key-id", "", "static AWS access key id")
	pf.String("secret-access-key", "", "static AWS secret access key")
	pf.String("session-token", "", "session token for temporary static credentials")

	root.AddCommand(
		newLaunchCommand(a),
		newPriceCommand(a),
	)
	return root
}

// setup merges flags, environment and config file for 'cmd' and installs
// the logger on its context.
func (a *app) setup(cmd *cobra.Command) (*settings, error) {
	// Flags() holds the inherited persistent flags too once parsed.
	flags := cmd.Flags()
	configFile, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	v, err := newViper(flags, configFile)
	if err != nil {
		return nil, err
	}
	s, err := loadSettings(v)
	if err != nil {
		return nil, err
	}

	logger, err := log.New(cmd.ErrOrStderr(), log.Options{Level: s.LogLevel, JSON: s.LogJSON}, a.handlers...)
	if err != nil {
		return nil, err
	}
	cmd.SetContext(log.Setup(cmd.Context(), logger))
	return s, nil
}
