package dispatch

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/lsqqqq/notifyemail/internal/config"
	"github.com/lsqqqq/notifyemail/internal/core"
	"github.com/lsqqqq/notifyemail/internal/session"
)

var start = time.Date(2024, 6, 1, 8, 30, 0, 0, time.Local)

func newSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.Create(t.TempDir(), "train", start)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.CapturePath(), []byte("*** banner ***\nhello\n"), 0o600))
	require.NoError(t, os.WriteFile(s.ReportPath(), []byte("=====\n"), 0o600))
	return s
}

func TestBuild_AssemblesMessage(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.AppendNote("accuracy 0.93"))
	require.NoError(t, os.WriteFile(filepath.Join(s.StagingPath(), "b.zip"), []byte("PK"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(s.StagingPath(), "a.zip"), []byte("PK"), 0o600))

	n, warn, err := Build(Input{
		Session:  s,
		From:     "bot@example.com",
		Host:     "gpu01",
		Start:    start,
		End:      start.Add(90 * time.Minute),
		Metadata: []string{"run id: abc"},
		Explains: []string{"attachment not found: /tmp/x"},
		Defaults: []string{"me@example.com"},
	})
	require.NoError(t, err)
	assert.NoError(t, warn)

	assert.Equal(t, "[gpu01  LOG] train__2024_06_01-08_30_00_log", n.Subject)
	assert.Equal(t, []string{"me@example.com"}, n.Recipients)
	assert.Equal(t,
		"start time: 2024_06_01  08:30:00 \nend time: 2024_06_01  10:00:00 \nsource: gpu01 \nrun id: abc\n=================\n\n"+
			"\naccuracy 0.93\n\nattachment not found: /tmp/x\n",
		n.Body)

	var names []string
	for _, a := range n.Attachments {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"train__2024_06_01-08_30_00_log.log", "server_status.log", "a.zip", "b.zip"}, names)
}

func TestBuild_RecipientPrecedence(t *testing.T) {
	s := newSession(t)
	in := Input{Session: s, Defaults: []string{"default@example.com"}}

	n, _, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"default@example.com"}, n.Recipients)

	require.NoError(t, s.SetRecipients("recorded@example.com"))
	n, _, err = Build(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"recorded@example.com"}, n.Recipients)

	in.Recipients = []string{"explicit@example.com"}
	n, _, err = Build(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"explicit@example.com"}, n.Recipients)
}

func TestBuild_NoRecipients(t *testing.T) {
	_, _, err := Build(Input{Session: newSession(t)})
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))
}

func TestBuild_MissingCapture(t *testing.T) {
	s := newSession(t)
	require.NoError(t, os.Remove(s.CapturePath()))

	_, _, err := Build(Input{Session: s, Defaults: []string{"a@example.com"}})
	require.Error(t, err)
	assert.True(t, core.IsDelivery(err))
}

func TestBuild_UndecodableNotesFallBack(t *testing.T) {
	s := newSession(t)
	gb, err := simplifiedchinese.GB18030.NewEncoder().String("训练完成")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.NotesPath(), []byte(gb+"\n"), 0o600))

	n, warn, err := Build(Input{Session: s, Defaults: []string{"a@example.com"}})
	require.NoError(t, err)
	require.Error(t, warn)
	assert.Equal(t, core.ErrCatDecode, core.GetCategory(warn))
	assert.Contains(t, n.Body, "训练完成")
}

func TestDecodeNotes(t *testing.T) {
	text, err := DecodeNotes([]byte("plain ascii"), "notes")
	assert.NoError(t, err)
	assert.Equal(t, "plain ascii", text)

	text, err = DecodeNotes([]byte{0xff, 0xfe, 0x41}, "notes")
	assert.Error(t, err)
	assert.NotEmpty(t, text)

	text, err = DecodeNotes(nil, "notes")
	assert.NoError(t, err)
	assert.Empty(t, text)
}

func TestNewMessage_WritesMIME(t *testing.T) {
	s := newSession(t)
	n, _, err := Build(Input{
		Session: s, Host: "gpu01", Start: start, End: start,
		Recipients: []string{"a@example.com", "b@example.com"},
	})
	require.NoError(t, err)

	msg, err := NewSMTPSender(config.MailConfig{User: "bot@example.com"}, nil).Message(n)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "bot@example.com")
	assert.Contains(t, out, "a@example.com")
	assert.Contains(t, out, "b@example.com")
	assert.Contains(t, out, "gpu01")
	assert.Contains(t, out, `filename="server_status.log"`)
	assert.Contains(t, out, `filename="train__2024_06_01-08_30_00_log.log"`)
}

func TestNewMessage_InvalidSender(t *testing.T) {
	_, err := NewMessage(&Notification{Recipients: []string{"a@example.com"}}, "not an address")
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))
}

func TestSMTPSender_UnreachableRelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	sender := NewSMTPSender(config.MailConfig{
		Host:     "127.0.0.1",
		Port:     port,
		User:     "bot@example.com",
		Password: "secret",
		Timeout:  2 * time.Second,
	}, nil)

	n, _, err := Build(Input{Session: newSession(t), Defaults: []string{"a@example.com"}})
	require.NoError(t, err)

	err = sender.Send(t.Context(), n)
	require.Error(t, err)
	assert.True(t, core.IsDelivery(err))
	assert.True(t, core.IsRetryable(err))
	assert.False(t, strings.Contains(err.Error(), "secret"))
}
