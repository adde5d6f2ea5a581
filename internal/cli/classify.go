// classify.go implements "coachctl classify", an offline run of the stage
// classifier and objective tracker.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/worldwidesoldier/sales-coach-ai/internal/coach"
	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

func newClassifyCmd(opts *options) *cobra.Command {
	var trace bool

	cmd := &cobra.Command{
		Use:   "classify <utterance>...",
		Short: "Classify the call stage of a conversation",
		Long: `Each argument is one finalized utterance. Speakers alternate starting
with the salesperson. The final stage, confidence and objective checklist
are printed; --trace prints the stage after every utterance.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pb, err := opts.loadPlaybook()
			if err != nil {
				return err
			}
			engine := coach.NewEngine(coach.EngineConfig{}, pb, nil, nil, nil)
			out := cmd.OutOrStdout()

			var (
				msgs       []coach.Message
				state      = domain.StageState{Stage: domain.StageOpening}
				objectives domain.Objectives
				speaker    = domain.SpeakerSalesperson
			)
			for _, text := range args {
				msgs = append(msgs, coach.Message{Text: text, Speaker: speaker})
				speaker = speaker.Other()

				recent := msgs
				if len(recent) > coach.DefaultContextMessages {
					recent = recent[len(recent)-coach.DefaultContextMessages:]
				}
				state, objectives = engine.Assess(recent, msgs, state)
				if trace {
					printf(out, "%-11s %-10s %3d%%  %s\n", msgs[len(msgs)-1].Speaker, state.Stage, state.Confidence, text)
				}
			}

			printf(out, "Stage: %s (%d%% confidence, %d turns)\n", state.Stage, state.Confidence, state.TurnsInStage)
			printf(out, "Completed: %s\n", joinRefs(objectives.Completed))
			printf(out, "Remaining: %s\n", joinRefs(objectives.Remaining))
			return nil
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "Print the stage after every utterance")
	return cmd
}

func joinRefs(refs []domain.ObjectiveRef) string {
	if len(refs) == 0 {
		return "-"
	}
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return strings.Join(ids, ", ")
}
