// Package packager compresses the files and folders a job asked to attach
// into the session's staging directory.
package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/lsqqqq/notifyemail/internal/core"
)

// Failure is one manifest entry that could not be archived.
type Failure struct {
	Path string
	Err  error
}

// Result lists what happened to each manifest entry, in manifest order.
type Result struct {
	Archives []string
	Missing  []string
	Failed   []Failure
}

// Notes renders missing and failed entries as lines for the message body.
func (r *Result) Notes() []string {
	var lines []string
	for _, p := range r.Missing {
		lines = append(lines, "attachment not found: "+p)
	}
	for _, f := range r.Failed {
		lines = append(lines, fmt.Sprintf("attachment could not be compressed: %s (%v)", f.Path, f.Err))
	}
	return lines
}

// Packager archives manifest entries concurrently.
type Packager struct {
	concurrency int
	logger      *slog.Logger
}

// New creates a packager running at most concurrency archives at once.
func New(concurrency int, logger *slog.Logger) *Packager {
	if concurrency <= 0 {
		concurrency = core.DefaultConcurrency
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Packager{concurrency: concurrency, logger: logger}
}

type outcome struct {
	archive string
	missing bool
	err     error
}

// Package writes one <name>.zip per manifest entry into stagingDir. Missing
// paths and per-entry failures are logged and reported in the Result; only a
// staging directory that cannot be created is returned as an error.
func (p *Packager) Package(ctx context.Context, manifest []string, stagingDir string) (*Result, error) {
	result := &Result{}
	if len(manifest) == 0 {
		return result, nil
	}
	if err := os.MkdirAll(stagingDir, 0o750); err != nil {
		return nil, core.ErrPackaging(stagingDir, "cannot create staging directory").WithCause(err)
	}

	names := archiveNames(manifest)
	outcomes := make([]outcome, len(manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	var mu sync.Mutex
	for i, src := range manifest {
		g.Go(func() error {
			o := p.packageOne(gctx, src, filepath.Join(stagingDir, names[i]))
			mu.Lock()
			outcomes[i] = o
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		switch {
		case o.missing:
			result.Missing = append(result.Missing, manifest[i])
		case o.err != nil:
			result.Failed = append(result.Failed, Failure{Path: manifest[i], Err: o.err})
		default:
			result.Archives = append(result.Archives, o.archive)
		}
	}
	return result, nil
}

func (p *Packager) packageOne(ctx context.Context, src, dest string) outcome {
	if err := ctx.Err(); err != nil {
		return outcome{err: err}
	}
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("attachment not found, skipping", "path", src)
			return outcome{missing: true}
		}
		p.logger.Error("cannot stat attachment", "path", src, "error", err)
		return outcome{err: core.ErrPackaging(src, "cannot stat").WithCause(err)}
	}

	if err := writeArchive(ctx, src, info, dest); err != nil {
		_ = os.Remove(dest)
		p.logger.Error("compressing attachment failed", "path", src, "error", err)
		return outcome{err: core.ErrPackaging(src, "compression failed").WithCause(err)}
	}
	p.logger.Info("attachment staged", "path", src, "archive", filepath.Base(dest))
	return outcome{archive: dest}
}

// archiveNames derives <base>.zip for each entry, suffixing repeats so two
// entries with the same base name do not overwrite each other.
func archiveNames(manifest []string) []string {
	names := make([]string, len(manifest))
	used := make(map[string]int)
	for i, src := range manifest {
		base := filepath.Base(filepath.Clean(src))
		if base == "." || base == string(filepath.Separator) || base == "" {
			base = "attachment"
		}
		used[base]++
		if n := used[base]; n > 1 {
			base = fmt.Sprintf("%s_%d", base, n)
		}
		names[i] = base + ".zip"
	}
	return names
}

func writeArchive(ctx context.Context, src string, info fs.FileInfo, dest string) (err error) {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(out)
	if info.IsDir() {
		err = addTree(ctx, zw, src)
	} else {
		err = addFile(zw, src, info, info.Name())
	}
	if err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// addTree stores every regular file under root with its path relative to root.
func addTree(ctx context.Context, zw *zip.Writer, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return addFile(zw, path, info, rel)
	})
}

func addFile(zw *zip.Writer, path string, info fs.FileInfo, name string) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
