// Package cli defines Cobra commands for coachctl, the operator tool for
// saved calls and the coaching playbook.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/worldwidesoldier/sales-coach-ai/internal/playbook"
)

var version = "dev" // set via ldflags at build time

type options struct {
	dbPath       string
	playbookPath string
}

// NewRootCmd builds the coachctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "coachctl",
		Short: "Inspect saved sales calls and the coaching playbook",
		Long: `coachctl reads the call database written by the coaching server,
and runs the stage classifier and objective tracker offline against
arbitrary conversation text.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.dbPath == "" {
				opts.dbPath = envOr("DB_PATH", "./data/calls.db")
			}
			if opts.playbookPath == "" {
				opts.playbookPath = os.Getenv("PLAYBOOK_PATH")
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "Path to the call database (default $DB_PATH or ./data/calls.db)")
	root.PersistentFlags().StringVar(&opts.playbookPath, "playbook", "", "Playbook YAML override (default $PLAYBOOK_PATH or embedded)")

	root.AddCommand(newCallsCmd(opts))
	root.AddCommand(newClassifyCmd(opts))
	root.AddCommand(newPlaybookCmd(opts))
	return root
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *options) loadPlaybook() (*playbook.Playbook, error) {
	if o.playbookPath == "" {
		return playbook.Default()
	}
	return playbook.Load(o.playbookPath)
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
