package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lsqqqq/notifyemail/internal/config"
	"github.com/lsqqqq/notifyemail/internal/session"
)

// sessionFlags selects a session for note, attach and recipients.
type sessionFlags struct {
	dir string
	job string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.dir, "session", "s", "", "session directory")
	cmd.Flags().StringVarP(&f.job, "job", "j", "", "use the newest active session of this job")
}

// open resolves --session, or the newest active session of --job.
func (f *sessionFlags) open(cfg *config.Config) (*session.Session, error) {
	if f.dir != "" {
		return session.Open(f.dir)
	}
	if f.job == "" {
		return nil, fmt.Errorf("either --session or --job is required")
	}
	entries, err := session.List(cfg.Session.Root, f.job)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].Archived {
			return session.Open(entries[i].Dir)
		}
	}
	return nil, fmt.Errorf("no active session for job %q under %s", f.job, cfg.Session.Root)
}

var (
	noteFlags       sessionFlags
	attachFlags     sessionFlags
	recipientsFlags sessionFlags
)

var noteCmd = &cobra.Command{
	Use:   "note TEXT...",
	Short: "Add a line to the message body of a running session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(&noteFlags)
		if err != nil {
			return err
		}
		for _, text := range args {
			if err := s.AppendNote(text); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Text added to %s\n", s.Dir)
		return nil
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach PATH...",
	Short: "Attach files or folders to a running session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(&attachFlags)
		if err != nil {
			return err
		}
		for _, path := range args {
			if err := s.AppendFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "File added: %s\n", path)
		}
		return nil
	},
}

var recipientsCmd = &cobra.Command{
	Use:   "recipients ADDRESS...",
	Short: "Replace the recipients of a running session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(&recipientsFlags)
		if err != nil {
			return err
		}
		for _, a := range args {
			if !config.ValidAddress(a) {
				return fmt.Errorf("not an e-mail address: %q", a)
			}
		}
		if err := s.SetRecipients(args...); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recipients set for %s\n", s.Dir)
		return nil
	},
}

func openSession(f *sessionFlags) (*session.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return f.open(cfg)
}

func init() {
	noteFlags.register(noteCmd)
	attachFlags.register(attachCmd)
	recipientsFlags.register(recipientsCmd)
	rootCmd.AddCommand(noteCmd, attachCmd, recipientsCmd)
}
