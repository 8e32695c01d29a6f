package cli

import (
	"fmt"

	"github.com/rm-runner/rm-runner/internal/pricing"
	"github.com/rm-runner/rm-runner/internal/runner"
	"github.com/spf13/cobra"
)

func newPriceCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price --instance-type <type>",
		Short: "Print the on-demand hourly rate of an instance type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.setup(cmd)
			if err != nil {
				return err
			}
			if s.InstanceType == "" {
				return fmt.Errorf("%w: instance type is required", runner.ErrInvalidConfig)
			}

			ctx := cmd.Context()
			awsCfg, err := runner.LoadAWSConfig(ctx, s.Region, s.credentials())
			if err != nil {
				return err
			}
			rate, err := pricing.NewCatalogFromConfig(awsCfg).HourlyRate(ctx, awsCfg.Region, s.InstanceType)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t$%.4f/hour\n", awsCfg.Region, s.InstanceType, rate)
			return err
		},
	}
	cmd.Flags().String("instance-type", "", "EC2 instance type, e.g. p3.2xlarge (required)")
	return cmd
}
