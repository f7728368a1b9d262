// Package session owns the on-disk state of one observed run.
//
// Layout, per job name and per run:
//
//	<root>/<job>/<YYYY_MM_DD-HH_MM_SS>/
//	  Log_Cache.log      captured output
//	  Server_Status.log  resource report
//	  Trans_Body.log     notes
//	  Trans_File.log     paths to attach, one per line
//	  Settings.log       recipient override, one per line
//	  Func_Name.log      job label
//	  Temp_Zip_File/     staged archives
//
// Delivered runs are moved to <root>/<job>/history/<timestamp>/.
package session

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"

	"github.com/lsqqqq/notifyemail/internal/core"
	"github.com/lsqqqq/notifyemail/internal/fsutil"
)

// File and directory names inside a session directory.
const (
	CaptureFile    = "Log_Cache.log"
	ReportFile     = "Server_Status.log"
	NotesFile      = "Trans_Body.log"
	ManifestFile   = "Trans_File.log"
	RecipientsFile = "Settings.log"
	LabelFile      = "Func_Name.log"
	StagingDir     = "Temp_Zip_File"
	HistoryDir     = "history"
)

// Session is one run's directory and the operations the observed process
// performs on it. Appends are serialized in-process; each append is a single
// write on an O_APPEND descriptor so external writers (the note/attach
// commands) interleave at line granularity.
type Session struct {
	Job     string
	Created time.Time
	Root    string
	Dir     string
	RunID   string

	mu sync.Mutex
}

// FolderName formats a creation time as a run folder name.
func FolderName(t time.Time) string {
	return strftime.Format(core.RunTimeFormat, t)
}

// ParseFolderName parses a run folder name back into local time.
func ParseFolderName(name string) (time.Time, error) {
	layout, err := strftime.Layout(core.RunTimeFormat)
	if err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation(layout, name, time.Local)
}

// Create makes a fresh session directory for job under root. A directory left
// behind by a run started in the same second is removed first.
func Create(root, job string, now time.Time) (*Session, error) {
	if err := validateJob(job); err != nil {
		return nil, err
	}
	if strings.TrimSpace(root) == "" {
		return nil, core.ErrConfiguration(core.CodeRootUnavailable, "log root path is empty")
	}

	jobDir := filepath.Join(root, job)
	if err := os.MkdirAll(jobDir, 0o750); err != nil {
		return nil, core.ErrConfiguration(core.CodeRootUnavailable,
			fmt.Sprintf("cannot create %s", jobDir)).WithCause(err)
	}

	created := now.Truncate(time.Second)
	s := &Session{
		Job:     job,
		Created: created,
		Root:    root,
		Dir:     filepath.Join(jobDir, FolderName(created)),
		RunID:   uuid.NewString(),
	}

	if _, err := os.Stat(s.Dir); err == nil {
		if err := os.RemoveAll(s.Dir); err != nil {
			return nil, core.ErrConfiguration(core.CodeStaleSession,
				fmt.Sprintf("cannot clear stale session %s", s.Dir)).WithCause(err)
		}
	}
	if err := os.Mkdir(s.Dir, 0o750); err != nil {
		return nil, core.ErrConfiguration(core.CodeRootUnavailable,
			fmt.Sprintf("cannot create session %s", s.Dir)).WithCause(err)
	}
	if err := os.Mkdir(s.StagingPath(), 0o750); err != nil {
		return nil, core.ErrConfiguration(core.CodeRootUnavailable,
			"cannot create staging directory").WithCause(err)
	}
	if err := fsutil.WriteFileAtomic(s.LabelPath(), []byte(job), 0o644); err != nil {
		return nil, core.ErrConfiguration(core.CodeRootUnavailable,
			"cannot record job label").WithCause(err)
	}
	return s, nil
}

// Open attaches to an existing session directory, e.g. to add notes from a
// shell script or to resend a run whose delivery failed.
func Open(dir string) (*Session, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("opening session: %s is not a directory", dir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving session dir: %w", err)
	}
	created, err := ParseFolderName(filepath.Base(abs))
	if err != nil {
		return nil, fmt.Errorf("session folder %q is not a run timestamp: %w", filepath.Base(abs), err)
	}

	jobDir := filepath.Dir(abs)
	if filepath.Base(jobDir) == HistoryDir {
		jobDir = filepath.Dir(jobDir)
	}
	s := &Session{
		Job:     filepath.Base(jobDir),
		Created: created,
		Root:    filepath.Dir(jobDir),
		Dir:     abs,
	}
	if label := s.Label(); label != "" {
		s.Job = label
	}
	return s, nil
}

func validateJob(job string) error {
	if strings.TrimSpace(job) == "" {
		return core.ErrConfiguration(core.CodeInvalidConfig, "job name is empty")
	}
	if job == HistoryDir || job == "." || job == ".." || strings.ContainsAny(job, `/\`) {
		return core.ErrConfiguration(core.CodeInvalidConfig,
			fmt.Sprintf("job name %q cannot be used as a directory name", job))
	}
	return nil
}

// CapturePath returns the captured-output log path.
func (s *Session) CapturePath() string { return filepath.Join(s.Dir, CaptureFile) }

// ReportPath returns the resource report path.
func (s *Session) ReportPath() string { return filepath.Join(s.Dir, ReportFile) }

// NotesPath returns the notes log path.
func (s *Session) NotesPath() string { return filepath.Join(s.Dir, NotesFile) }

// ManifestPath returns the attachment manifest path.
func (s *Session) ManifestPath() string { return filepath.Join(s.Dir, ManifestFile) }

// RecipientsPath returns the recipient override path.
func (s *Session) RecipientsPath() string { return filepath.Join(s.Dir, RecipientsFile) }

// LabelPath returns the job label path.
func (s *Session) LabelPath() string { return filepath.Join(s.Dir, LabelFile) }

// StagingPath returns the staged archive directory.
func (s *Session) StagingPath() string { return filepath.Join(s.Dir, StagingDir) }

// JobDir returns <root>/<job>, also for a session already in history.
func (s *Session) JobDir() string {
	dir := filepath.Dir(s.Dir)
	if s.Archived() {
		return filepath.Dir(dir)
	}
	return dir
}

// Archived reports whether the session lives in its job's history directory.
func (s *Session) Archived() bool {
	return filepath.Base(filepath.Dir(s.Dir)) == HistoryDir
}

// HistoryPath returns the directory delivered runs of this job are moved to.
func (s *Session) HistoryPath() string { return filepath.Join(s.JobDir(), HistoryDir) }

// AppendNote appends a line of text to the notification body.
func (s *Session) AppendNote(text string) error {
	return s.appendLine(s.NotesPath(), text)
}

// AppendFile records a file or folder to attach. Relative paths are resolved
// against the current working directory at call time.
func (s *Session) AppendFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("attachment path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	return s.appendLine(s.ManifestPath(), abs)
}

// SetRecipients overwrites the recipient override. The last call wins.
func (s *Session) SetRecipients(addrs ...string) error {
	clean := normalize(addrs)
	if len(clean) == 0 {
		return core.ErrConfiguration(core.CodeNoRecipients, "recipient list is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data := strings.Join(clean, "\n") + "\n"
	if err := fsutil.WriteFileAtomic(s.RecipientsPath(), []byte(data), 0o644); err != nil {
		return fmt.Errorf("writing recipients: %w", err)
	}
	return nil
}

func (s *Session) appendLine(path, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("appending to %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// Label returns the recorded job label, or an empty string when none was written.
func (s *Session) Label() string {
	data, err := fsutil.ReadFileScoped(s.LabelPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// RunLabel is the job name plus start time, used in subjects and attachment names.
func (s *Session) RunLabel() string {
	job := s.Label()
	if job == "" {
		job = core.DefaultJobName
	}
	return job + "__" + FolderName(s.Created) + "_log"
}

// Contents is everything the dispatcher needs from a session.
type Contents struct {
	Notes      []byte
	Manifest   []string
	Recipients []string
	Label      string
}

// ReadAll reads notes, manifest, recipient override and label. Missing files
// are empty, not errors.
func (s *Session) ReadAll() (*Contents, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notes, err := readOptional(s.NotesPath())
	if err != nil {
		return nil, err
	}
	manifest, err := readLines(s.ManifestPath())
	if err != nil {
		return nil, err
	}
	recipients, err := readLines(s.RecipientsPath())
	if err != nil {
		return nil, err
	}
	return &Contents{
		Notes:      notes,
		Manifest:   manifest,
		Recipients: recipients,
		Label:      s.Label(),
	}, nil
}

func readOptional(path string) ([]byte, error) {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

func readLines(path string) ([]string, error) {
	data, err := readOptional(path)
	if err != nil || data == nil {
		return nil, err
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", filepath.Base(path), err)
	}
	return lines, nil
}

// ResolveRecipients applies recipient precedence: an explicit override at send
// time, then the override recorded in the session, then the configured defaults.
func ResolveRecipients(explicit, recorded, defaults []string) []string {
	for _, list := range [][]string{explicit, recorded, defaults} {
		if clean := normalize(list); len(clean) > 0 {
			return clean
		}
	}
	return nil
}

func normalize(addrs []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range addrs {
		for _, part := range strings.FieldsFunc(a, func(r rune) bool { return r == ',' || r == ';' || r == '\n' }) {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}

// Archive moves the session directory into the job's history directory and
// updates s.Dir. The history directory is created if needed.
func (s *Session) Archive() (string, error) {
	if s.Archived() {
		return "", fmt.Errorf("session %s is already archived", filepath.Base(s.Dir))
	}
	history := s.HistoryPath()
	if err := os.MkdirAll(history, 0o750); err != nil {
		return "", fmt.Errorf("creating history dir: %w", err)
	}
	dest := filepath.Join(history, filepath.Base(s.Dir))
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("history already contains %s", filepath.Base(s.Dir))
	}
	if err := os.Rename(s.Dir, dest); err != nil {
		return "", fmt.Errorf("moving session to history: %w", err)
	}
	s.Dir = dest
	return dest, nil
}

// Entry describes a session directory found on disk.
type Entry struct {
	Job      string
	Dir      string
	Created  time.Time
	Archived bool
}

// List returns the active and archived sessions under root, optionally
// restricted to one job, oldest first. Folders that are not run timestamps are skipped.
func List(root, job string) ([]Entry, error) {
	jobs := []string{job}
	if job == "" {
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("reading root: %w", err)
		}
		jobs = jobs[:0]
		for _, e := range entries {
			if e.IsDir() {
				jobs = append(jobs, e.Name())
			}
		}
	}

	var result []Entry
	for _, j := range jobs {
		jobDir := filepath.Join(root, j)
		result = append(result, scan(jobDir, j, false)...)
		result = append(result, scan(filepath.Join(jobDir, HistoryDir), j, true)...)
	}
	sort.SliceStable(result, func(a, b int) bool {
		return result[a].Created.Before(result[b].Created)
	})
	return result, nil
}

func scan(dir, job string, archived bool) []Entry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Entry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		created, err := ParseFolderName(e.Name())
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Job:      job,
			Dir:      filepath.Join(dir, e.Name()),
			Created:  created,
			Archived: archived,
		})
	}
	return out
}
