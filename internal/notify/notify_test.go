package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsqqqq/notifyemail/internal/core"
	"github.com/lsqqqq/notifyemail/internal/diagnostics"
	"github.com/lsqqqq/notifyemail/internal/session"
	"github.com/lsqqqq/notifyemail/internal/testutil"
)

func testOptions(sender *testutil.RecordingSender) Options {
	return Options{
		Job:     "train",
		Stdout:  &bytes.Buffer{},
		Stderr:  &bytes.Buffer{},
		Sampler: testutil.NewFakeSampler(40, 10, 30),
		Sender:  sender,
		Host: func(context.Context) diagnostics.HostInfo {
			return diagnostics.HostInfo{Hostname: "testhost", CPUModel: "Test CPU", CPUCores: 2, CPUThreads: 4}
		},
	}
}

func TestNotifier_RunSendsOnceAndArchives(t *testing.T) {
	root := t.TempDir()
	cfg := testutil.Config(root)
	sender := testutil.NewRecordingSender()

	n, err := Start(t.Context(), cfg, testOptions(sender))
	require.NoError(t, err)
	activeDir := n.Session().Dir

	artifact := testutil.TempFile(t, t.TempDir(), "metrics.csv", "loss,0.1\n")
	require.NoError(t, n.AddText("training finished"))
	require.NoError(t, n.AddFile(artifact))
	require.NoError(t, n.AddFile(filepath.Join(t.TempDir(), "missing.bin")))
	require.NoError(t, n.SendTo("team@example.com"))

	err = n.Run(t.Context(), func(ctx context.Context) error {
		fmt.Fprintln(n.Stdout(), "epoch 1/1")
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, 1, sender.CallCount())
	call := sender.Calls()[0]
	msg := call.Notification
	label := n.Session().RunLabel()

	assert.Equal(t, "[testhost  LOG] "+label, msg.Subject)
	assert.Equal(t, []string{"team@example.com"}, msg.Recipients)
	assert.Equal(t, "bot@example.com", msg.From)
	assert.Contains(t, msg.Body, "source: testhost \n")
	assert.Contains(t, msg.Body, "exit status: ok\n")
	assert.Contains(t, msg.Body, "cpu: Test CPU (2 cores, 4 threads)\n")
	assert.Contains(t, msg.Body, "training finished\n")
	assert.Contains(t, msg.Body, "attachment not found: ")

	captured := string(call.Attachments[label+".log"])
	assert.True(t, strings.HasPrefix(captured, "*"), "capture starts with the banner")
	assert.Contains(t, captured, "epoch 1/1\n")
	assert.Contains(t, captured, "Processing finished !")

	report := string(call.Attachments["server_status.log"])
	assert.True(t, strings.HasPrefix(report, "="), "report starts with the header")
	assert.Contains(t, report, "Monitoring End Time:")
	assert.Contains(t, report, "CPU: 20 ")
	assert.Contains(t, call.Attachments, "metrics.csv.zip")

	out, err := n.Wait()
	require.NoError(t, err)
	require.NoError(t, out.Err)
	assert.Equal(t, filepath.Join(root, "train", session.HistoryDir, filepath.Base(activeDir)), out.Archived)
	assert.NoDirExists(t, activeDir)
	assert.DirExists(t, out.Archived)
	assert.Equal(t, diagnostics.StateStopped, n.monitor.State())

	// The outcome reaches the capture log kept in history, after the copy that was mailed.
	kept := testutil.ReadFile(t, filepath.Join(out.Archived, session.CaptureFile))
	assert.Contains(t, kept, "log email sent to team@example.com")
	assert.Contains(t, kept, "session archived to "+out.Archived)
	assert.NotContains(t, captured, "log email sent")

	// A second termination signal must not resend.
	assert.Same(t, out, n.Finalize(t.Context()))
	n.Done(nil)
	assert.Equal(t, 1, sender.CallCount())
}

func TestNotifier_DeliveryFailureKeepsSession(t *testing.T) {
	cfg := testutil.Config(t.TempDir())
	sendErr := core.ErrDelivery(core.CodeRelayUnreachable, "relay down")
	sender := testutil.NewRecordingSender().WithError(sendErr)

	n, err := Start(t.Context(), cfg, testOptions(sender))
	require.NoError(t, err)

	err = n.Run(t.Context(), func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, core.IsDelivery(err))

	dir := n.Session().Dir
	assert.DirExists(t, dir)
	testutil.AssertFileContains(t, n.Session().CapturePath(), "failed to send the mail")
	assert.NotContains(t, testutil.ReadFile(t, n.Session().CapturePath()), cfg.Mail.Password)
	assert.NoDirExists(t, n.Session().HistoryPath())
}

func TestNotifier_InvalidConfigFailsBeforeStarting(t *testing.T) {
	root := filepath.Join(t.TempDir(), "logs")
	cfg := testutil.Config(root)
	cfg.Mail.Host = ""

	_, err := Start(t.Context(), cfg, testOptions(testutil.NewRecordingSender()))
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))
	assert.NoDirExists(t, root)
}

func TestNotifier_PanicIsReportedAndSent(t *testing.T) {
	cfg := testutil.Config(t.TempDir())
	sender := testutil.NewRecordingSender()

	n, err := Start(t.Context(), cfg, testOptions(sender))
	require.NoError(t, err)

	n.Go(t.Context(), func(context.Context) error { panic("out of memory") })
	out, err := n.Wait()
	require.NoError(t, err)
	require.NoError(t, out.Err)

	require.Equal(t, 1, sender.CallCount())
	call := sender.Calls()[0]
	assert.Contains(t, call.Notification.Body, "exit status: failed: job panicked: out of memory")
	assert.Contains(t, string(call.Attachments[n.Session().RunLabel()+".log"]), "PANIC at ")
}

func TestNotifier_JobErrorIsReturned(t *testing.T) {
	cfg := testutil.Config(t.TempDir())
	sender := testutil.NewRecordingSender()

	n, err := Start(t.Context(), cfg, testOptions(sender))
	require.NoError(t, err)

	err = n.Run(t.Context(), func(context.Context) error { return testutil.ErrTest })
	assert.ErrorIs(t, err, testutil.ErrTest)
	require.Equal(t, 1, sender.CallCount())
	assert.Contains(t, sender.Calls()[0].Notification.Body, "exit status: failed: test error")
}

type brokenProbe struct{}

func (brokenProbe) Alive(context.Context) (bool, error) { return false, errors.New("probe broken") }

func TestNotifier_LivenessFailureDoesNotSend(t *testing.T) {
	cfg := testutil.Config(t.TempDir())
	sender := testutil.NewRecordingSender()
	opts := testOptions(sender)
	opts.Probe = brokenProbe{}

	n, err := Start(t.Context(), cfg, opts)
	require.NoError(t, err)

	_, err = n.Wait()
	require.Error(t, err)
	assert.True(t, core.IsLiveness(err))
	assert.Equal(t, 0, sender.CallCount())
	assert.DirExists(t, n.Session().Dir)
}

func TestNotifier_RetentionTrimsHistory(t *testing.T) {
	root := t.TempDir()
	cfg := testutil.Config(root)
	cfg.Session.MaxRetained = 2
	history := filepath.Join(root, "train", session.HistoryDir)
	old := testutil.MakeRunDirs(t, history, time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local), 3)

	n, err := Start(t.Context(), cfg, testOptions(testutil.NewRecordingSender()))
	require.NoError(t, err)
	require.NoError(t, n.Run(t.Context(), func(context.Context) error { return nil }))

	out, err := n.Wait()
	require.NoError(t, err)
	assert.Len(t, out.Removed, 2)

	entries, err := os.ReadDir(history)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{old[2], filepath.Base(out.Archived)}, names)
}

func TestResend_DeliversFailedSession(t *testing.T) {
	cfg := testutil.Config(t.TempDir())
	failing := testutil.NewRecordingSender().WithError(core.ErrDelivery(core.CodeSendFailed, "nope"))

	n, err := Start(t.Context(), cfg, testOptions(failing))
	require.NoError(t, err)
	require.NoError(t, n.AddText("rerun me"))
	require.Error(t, n.Run(t.Context(), func(context.Context) error { return nil }))
	dir := n.Session().Dir

	sender := testutil.NewRecordingSender()
	out, err := Resend(t.Context(), cfg, dir, ResendOptions{
		Sender:     sender,
		Host:       "testhost",
		Recipients: []string{"oncall@example.com"},
	})
	require.NoError(t, err)
	require.NoError(t, out.Err)

	require.Equal(t, 1, sender.CallCount())
	msg := sender.Calls()[0].Notification
	assert.Equal(t, []string{"oncall@example.com"}, msg.Recipients)
	assert.Contains(t, msg.Body, "rerun me")
	assert.NoDirExists(t, dir)
	assert.DirExists(t, out.Archived)

	// Resending from history sends again without moving anything.
	again, err := Resend(t.Context(), cfg, out.Archived, ResendOptions{Sender: sender, Host: "testhost"})
	require.NoError(t, err)
	require.NoError(t, again.Err)
	assert.Empty(t, again.Archived)
	assert.DirExists(t, out.Archived)
	assert.Equal(t, 2, sender.CallCount())
}

func TestResend_MissingDir(t *testing.T) {
	_, err := Resend(t.Context(), testutil.Config(t.TempDir()), filepath.Join(t.TempDir(), "nope"), ResendOptions{})
	assert.Error(t, err)
}
