// Package dispatch assembles the notification for a finished session and
// delivers it over SMTP.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ncruces/go-strftime"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/lsqqqq/notifyemail/internal/core"
	"github.com/lsqqqq/notifyemail/internal/session"
)

const (
	bodyTimeFormat = "%Y_%m_%d  %H:%M:%S"
	bodyRuler      = "================="
	reportName     = "server_status.log"
)

// Attachment is a file sent with the notification under Name.
type Attachment struct {
	Name string
	Path string
}

// Notification is one message, built once per session.
type Notification struct {
	From        string
	Recipients  []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Sender delivers a notification.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// Input is everything Build needs besides the session files.
type Input struct {
	Session  *session.Session
	From     string
	Host     string
	Start    time.Time
	End      time.Time
	Metadata []string
	// Explains lines appended after the notes, e.g. attachments that were
	// missing at packaging time.
	Explains   []string
	Recipients []string
	Defaults   []string
}

// Build reads the session and assembles the notification. The captured
// output and the resource report must exist. A notes file that is not UTF-8
// is decoded as GB18030 instead; the decode problem is returned as warn and
// never stops the build.
func Build(in Input) (n *Notification, warn error, err error) {
	s := in.Session
	contents, err := s.ReadAll()
	if err != nil {
		return nil, nil, core.ErrDelivery(core.CodeBuildFailed, "reading session").WithCause(err)
	}

	recipients := session.ResolveRecipients(in.Recipients, contents.Recipients, in.Defaults)
	if len(recipients) == 0 {
		return nil, nil, core.ErrConfiguration(core.CodeNoRecipients, "no recipients configured for this session")
	}

	for _, p := range []string{s.CapturePath(), s.ReportPath()} {
		if _, err := os.Stat(p); err != nil {
			return nil, nil, core.ErrDelivery(core.CodeMissingArtifact,
				fmt.Sprintf("%s is missing", filepath.Base(p))).WithCause(err)
		}
	}

	notes, warn := DecodeNotes(contents.Notes, s.NotesPath())

	host := in.Host
	if host == "" {
		host = "unknown-host"
	}
	label := s.RunLabel()

	var body strings.Builder
	fmt.Fprintf(&body, "start time: %s \nend time: %s \nsource: %s \n",
		strftime.Format(bodyTimeFormat, in.Start), strftime.Format(bodyTimeFormat, in.End), host)
	for _, line := range in.Metadata {
		body.WriteString(line + "\n")
	}
	body.WriteString(bodyRuler + "\n\n")
	if notes != "" {
		body.WriteString("\n" + notes)
	}
	if len(in.Explains) > 0 {
		if notes != "" && !strings.HasSuffix(notes, "\n") {
			body.WriteString("\n")
		}
		body.WriteString("\n" + strings.Join(in.Explains, "\n") + "\n")
	}

	attachments := []Attachment{
		{Name: label + ".log", Path: s.CapturePath()},
		{Name: reportName, Path: s.ReportPath()},
	}
	staged, err := stagedArchives(s.StagingPath())
	if err != nil {
		return nil, warn, core.ErrDelivery(core.CodeBuildFailed, "listing staged archives").WithCause(err)
	}
	attachments = append(attachments, staged...)

	return &Notification{
		From:        in.From,
		Recipients:  recipients,
		Subject:     fmt.Sprintf("[%s  LOG] %s", host, label),
		Body:        body.String(),
		Attachments: attachments,
	}, warn, nil
}

func stagedArchives(dir string) ([]Attachment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Attachment
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, Attachment{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DecodeNotes returns the notes as text. UTF-8 is tried first, then GB18030.
// If neither decodes cleanly the invalid bytes are replaced. The returned
// error is a DecodeError describing the fallback, or nil.
func DecodeNotes(data []byte, path string) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data)
	if err == nil && utf8.Valid(decoded) {
		return string(decoded), core.ErrDecode(path, "utf-8").WithDetail("fallback", "gb18030")
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), core.ErrDecode(path, "utf-8").WithDetail("fallback", "replacement")
}
