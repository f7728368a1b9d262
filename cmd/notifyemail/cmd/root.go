package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lsqqqq/notifyemail/internal/config"
	"github.com/lsqqqq/notifyemail/internal/dispatch"
	"github.com/lsqqqq/notifyemail/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	rootPath  string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string

	// senderOverride replaces SMTP delivery in tests.
	senderOverride dispatch.Sender
)

var rootCmd = &cobra.Command{
	Use:   "notifyemail",
	Short: "Observe a long-running job and e-mail its output when it ends",
	Long: `notifyemail runs or watches a job, captures its output, samples CPU and
memory while it runs, and when the job ends e-mails the captured log, the
resource report, your notes and any attached files to the configured
recipients. Delivered runs are archived and old runs are pruned.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .notifyemail.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&rootPath, "root", "",
		"session root directory (default: notify_log)")

	bindFlags()
}

// bindFlags binds persistent flags to viper (errors are nil when flag exists).
func bindFlags() {
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("session.root", rootCmd.PersistentFlags().Lookup("root"))
}

// loadConfig loads configuration without validating it. Commands that send
// validate through the notify package; local commands only need the root.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoaderWithViper(viper.GetViper()).WithConfigFile(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	if cfg.Session.Root == "" {
		cfg.Session.Root = config.Default().Session.Root
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *logging.Logger {
	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	logger.Sanitizer().AddSecret(cfg.Mail.Password)
	return logger
}
