package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lsqqqq/notifyemail/internal/core"
	"github.com/lsqqqq/notifyemail/internal/notify"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- command [args...]",
	Short: "Run a command and e-mail its output when it exits",
	Long: `Run a command as the observed job. Its stdout and stderr are shown on the
console and captured into the session. When it exits, for any reason, the
notification is assembled and sent once.

The exit status of notifyemail is the exit status of the command; delivery
problems are reported in the log only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runJob    string
	runTo     []string
	runNotes  []string
	runAttach []string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runJob, "job", "j", "", "job name (default: command name)")
	runCmd.Flags().StringSliceVar(&runTo, "to", nil, "recipients for this run, overriding all others")
	runCmd.Flags().StringArrayVar(&runNotes, "note", nil, "line of text to add to the message body")
	runCmd.Flags().StringArrayVar(&runAttach, "attach", nil, "file or folder to compress and attach")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	job := runJob
	if job == "" {
		job = jobName(args[0])
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := notify.Start(context.WithoutCancel(ctx), cfg, notify.Options{
		Job:        job,
		Recipients: runTo,
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
		Sender:     senderOverride,
	})
	if err != nil {
		return err
	}
	if err := addRunExtras(n); err != nil {
		n.Done(err)
		_, _ = n.Wait()
		return err
	}

	childErr := runChild(ctx, n, args)
	n.Done(childErr)

	out, err := n.Wait()
	switch {
	case err != nil:
		n.Logger().Error("notification not sent", "error", err)
	case out.Err != nil:
		fmt.Fprintf(cmd.ErrOrStderr(), "notification failed, session kept at %s\n", n.Session().Dir)
	default:
		fmt.Fprintf(cmd.ErrOrStderr(), "notification sent: %s\n", out.Notification.Subject)
	}
	return childErr
}

func runChild(ctx context.Context, n *notify.Notifier, args []string) error {
	child := exec.CommandContext(ctx, args[0], args[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = n.Stdout()
	child.Stderr = n.Stderr()
	if err := child.Run(); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}

// jobName derives a job name from a command path.
func jobName(command string) string {
	name := strings.TrimSuffix(filepath.Base(command), filepath.Ext(command))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return core.DefaultJobName
	}
	return name
}

func addRunExtras(n *notify.Notifier) error {
	for _, note := range runNotes {
		if err := n.AddText(note); err != nil {
			return err
		}
	}
	for _, path := range runAttach {
		if err := n.AddFile(path); err != nil {
			return err
		}
	}
	return nil
}
