// playbook.go implements "coachctl playbook" for checking playbook overrides.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

func newPlaybookCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbook",
		Short: "Inspect the coaching playbook",
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the playbook and report its contents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pb, err := opts.loadPlaybook()
			if err != nil {
				return err
			}
			source := opts.playbookPath
			if source == "" {
				source = "embedded"
			}
			out := cmd.OutOrStdout()
			printf(out, "Playbook OK (%s)\n", source)
			for _, stage := range domain.Stages {
				printf(out, "  %-10s %d objectives\n", stage, len(pb.ObjectivesFor(stage)))
			}
			printf(out, "  toolkit    %d categories\n", len(pb.Toolkit))
			return nil
		},
	}

	cmd.AddCommand(validate)
	return cmd
}
