package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lsqqqq/notifyemail/internal/notify"
)

var resendCmd = &cobra.Command{
	Use:   "resend",
	Short: "Send a session again after a failed delivery",
	Long: `Send the notification of a session that was left in place because
delivery failed. An active session is archived once it has been sent; a session
already in history is sent again and left where it is.`,
	Args: cobra.NoArgs,
	RunE: runResend,
}

var (
	resendFlags sessionFlags
	resendTo    []string
)

func init() {
	rootCmd.AddCommand(resendCmd)
	resendFlags.register(resendCmd)
	resendCmd.Flags().StringSliceVar(&resendTo, "to", nil, "recipients, overriding the session's own")
}

func runResend(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, err := resendFlags.open(cfg)
	if err != nil {
		return err
	}

	out, err := notify.Resend(cmd.Context(), cfg, sess.Dir, notify.ResendOptions{
		Recipients: resendTo,
		Sender:     senderOverride,
		Logger:     newLogger(cmd, cfg),
	})
	if err != nil {
		return err
	}
	if out.Err != nil {
		return out.Err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "notification sent: %s\n", out.Notification.Subject)
	if out.Archived != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "archived to %s\n", out.Archived)
	}
	return nil
}
