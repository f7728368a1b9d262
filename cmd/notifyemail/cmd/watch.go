package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hpcloud/tail"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/lsqqqq/notifyemail/internal/liveness"
	"github.com/lsqqqq/notifyemail/internal/notify"
)

var watchCmd = &cobra.Command{
	Use:   "watch --pid PID",
	Short: "Watch a running process and e-mail when it exits",
	Long: `Attach to a process that is already running. Resources are sampled while it
runs and the notification is sent once the process has exited. Use --follow
to copy a log file the process writes into the captured output.

A PID that does not exist is an error and nothing is sent.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchPID    int
	watchJob    string
	watchTo     []string
	watchFollow string
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().IntVar(&watchPID, "pid", 0, "process id to watch")
	watchCmd.Flags().StringVarP(&watchJob, "job", "j", "", "job name (default: process name)")
	watchCmd.Flags().StringSliceVar(&watchTo, "to", nil, "recipients for this run, overriding all others")
	watchCmd.Flags().StringVar(&watchFollow, "follow", "", "log file to follow into the captured output")
	_ = watchCmd.MarkFlagRequired("pid")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe, err := liveness.NewPIDProbe(ctx, watchPID)
	if err != nil {
		return err
	}

	job := watchJob
	if job == "" {
		job = processName(ctx, watchPID)
	}

	n, err := notify.Start(ctx, cfg, notify.Options{
		Job:        job,
		Recipients: watchTo,
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
		Sender:     senderOverride,
		Probe:      probe,
	})
	if err != nil {
		return err
	}
	n.Logger().Info("watching process", "pid", watchPID)

	if watchFollow != "" {
		t, err := follow(watchFollow, n.Stdout())
		if err != nil {
			n.Logger().Warn("cannot follow log file", "path", watchFollow, "error", err)
		} else {
			defer t.Cleanup()
			defer func() { _ = t.Stop() }()
		}
	}

	out, err := n.Wait()
	if err != nil {
		return err
	}
	if out.Err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "notification failed, session kept at %s\n", n.Session().Dir)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "notification sent: %s\n", out.Notification.Subject)
	return nil
}

// follow copies lines appended to path into w until the tail is stopped.
func follow(path string, w io.Writer) (*tail.Tail, error) {
	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return nil, err
	}
	go func() {
		for line := range t.Lines {
			if line.Err != nil {
				continue
			}
			fmt.Fprintln(w, line.Text)
		}
	}()
	return t, nil
}

func processName(ctx context.Context, pid int) string {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return fmt.Sprintf("pid%d", pid)
	}
	name, err := p.NameWithContext(ctx)
	if err != nil || name == "" {
		return fmt.Sprintf("pid%d", pid)
	}
	return jobName(name)
}
