package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lsqqqq/notifyemail/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active and archived sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var (
	sessionsJob    string
	sessionsActive bool
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().StringVarP(&sessionsJob, "job", "j", "", "only list sessions of this job")
	sessionsCmd.Flags().BoolVar(&sessionsActive, "active", false, "only show sessions that were not delivered")
}

func runSessions(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	entries, err := session.List(cfg.Session.Root, sessionsJob)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tCREATED\tSTATE\tPATH")
	for _, e := range entries {
		if sessionsActive && e.Archived {
			continue
		}
		state := "active"
		if e.Archived {
			state = "sent"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Job, e.Created.Format("2006-01-02 15:04:05"), state, e.Dir)
	}
	return w.Flush()
}
