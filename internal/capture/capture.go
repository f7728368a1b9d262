// Package capture duplicates the textual output of an observed run into the
// session's Log_Cache.log while still forwarding it to the console.
//
// A Capture is an explicit handle returned by Begin. Anything that needs to
// write into the captured log receives the handle (or one of its writers);
// there is no package-level state. RedirectStd optionally swaps os.Stdout and
// os.Stderr for the lifetime of the capture so plain fmt.Print calls from any
// goroutine are captured too. Close restores everything and is idempotent.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ncruces/go-strftime"
)

const bannerWidth = 60

// Capture tees writes to the original destinations and the capture log.
type Capture struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	stdout io.Writer
	stderr io.Writer
	closed bool

	redir *redirect
}

type redirect struct {
	origOut *os.File
	origErr *os.File
	wOut    *os.File
	wErr    *os.File
	wg      sync.WaitGroup
}

// Begin opens path in append mode and starts capturing. stdout and stderr are
// the original destinations; nil means os.Stdout / os.Stderr.
func Begin(path string, stdout, stderr io.Writer) (*Capture, error) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening capture log: %w", err)
	}

	c := &Capture{
		path:   path,
		file:   f,
		stdout: stdout,
		stderr: stderr,
	}
	if _, err := io.WriteString(c.Stdout(), Banner(time.Now())+"\n"); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("writing capture banner: %w", err)
	}
	return c, nil
}

// Banner returns the header line that opens every capture log.
func Banner(t time.Time) string {
	title := strftime.Format("LOG_Cache_%Y_%m_%d_%H_%M", t)
	if len(title) >= bannerWidth {
		return title
	}
	pad := bannerWidth - len(title)
	left := pad / 2
	return strings.Repeat("*", left) + title + strings.Repeat("*", pad-left)
}

// Path returns the capture log path.
func (c *Capture) Path() string {
	return c.path
}

// Active reports whether the capture log is still open.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Write writes to the stdout stream.
func (c *Capture) Write(p []byte) (int, error) {
	return c.write(c.stdout, p)
}

// Stdout returns a writer teeing into the original stdout and the log.
func (c *Capture) Stdout() io.Writer {
	return stream{c: c, dst: c.stdout}
}

// Stderr returns a writer teeing into the original stderr and the log.
func (c *Capture) Stderr() io.Writer {
	return stream{c: c, dst: c.stderr}
}

type stream struct {
	c   *Capture
	dst io.Writer
}

func (s stream) Write(p []byte) (int, error) {
	return s.c.write(s.dst, p)
}

// write holds the lock across both destinations so lines from concurrent
// writers appear in the same order on the console and in the log.
func (c *Capture) write(dst io.Writer, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := dst.Write(p)
	if c.file != nil {
		if _, ferr := c.file.Write(p); ferr != nil && err == nil {
			err = fmt.Errorf("writing capture log: %w", ferr)
		}
	}
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// RedirectStd replaces os.Stdout and os.Stderr with pipes drained into the
// capture. The original files are restored by Close.
func (c *Capture) RedirectStd() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("capture already closed")
	}
	if c.redir != nil {
		return nil
	}

	rOut, wOut, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	rErr, wErr, err := os.Pipe()
	if err != nil {
		_ = rOut.Close()
		_ = wOut.Close()
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	r := &redirect{
		origOut: os.Stdout,
		origErr: os.Stderr,
		wOut:    wOut,
		wErr:    wErr,
	}
	r.wg.Add(2)
	go c.drain(&r.wg, rOut, c.Stdout())
	go c.drain(&r.wg, rErr, c.Stderr())

	os.Stdout = wOut
	os.Stderr = wErr
	c.redir = r
	return nil
}

func (c *Capture) drain(wg *sync.WaitGroup, r *os.File, w io.Writer) {
	defer wg.Done()
	defer r.Close()
	_, _ = io.Copy(w, r)
}

// Close restores redirected streams, flushes and closes the capture log.
// Later writes only reach the original destinations. Calling Close again is a no-op.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	r := c.redir
	c.redir = nil
	c.mu.Unlock()

	// Drainers take c.mu, so wait for them without holding it.
	if r != nil {
		os.Stdout = r.origOut
		os.Stderr = r.origErr
		_ = r.wOut.Close()
		_ = r.wErr.Close()
		r.wg.Wait()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.file
	c.file = nil
	syncErr := f.Sync()
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing capture log: %w", err)
	}
	if syncErr != nil {
		return fmt.Errorf("syncing capture log: %w", syncErr)
	}
	return nil
}
