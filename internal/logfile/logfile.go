package logfile

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	archiveTimeFormat = "20060102T150405Z"
	compressedSuffix  = ".gz"
)

// Writer owns the active measurement log. Appends are mutex-serialized so
// concurrent target probes never interleave partial lines, and rotation
// only runs at cycle boundaries so one cycle's records never straddle an
// archive split.
type Writer struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	logger *log.Logger
}

// Options allow test overrides for the clock and logging.
type Options struct {
	Now    func() time.Time
	Logger *log.Logger
}

// New prepares the active log for appending. Failure here is the one fatal
// storage condition: an engine that cannot persist records must not run.
func New(path string, opts Options) (*Writer, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %q for append: %w", path, err)
	}
	f.Close()

	return &Writer{path: path, now: now, logger: logger}, nil
}

// Path returns the active log location.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one record line to the active log, adding the trailing
// newline if the caller did not.
func (w *Writer) Append(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log %q for append: %w", w.path, err)
	}
	defer f.Close()

	if !bytes.HasSuffix(line, []byte("\n")) {
		line = append(line, '\n')
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append to log %q: %w", w.path, err)
	}
	return nil
}

// Rotate enforces the size and age ceilings. A log that is absent or under
// both ceilings is left byte-identical. Otherwise the active log is renamed
// to a UTC-timestamped archive, compressed, an empty active log is
// recreated, and old archives beyond keep are pruned (newest kept, sorted
// by name, which equals creation order). Returns whether a rotation
// happened.
func (w *Writer) Rotate(maxBytes int64, maxAge time.Duration, keep int) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat log %q: %w", w.path, err)
	}

	oversize := maxBytes > 0 && info.Size() >= maxBytes
	overage := maxAge > 0 && w.now().Sub(info.ModTime()) >= maxAge
	if !oversize && !overage {
		return false, nil
	}

	stamp := w.now().UTC().Format(archiveTimeFormat)
	base := strings.TrimSuffix(w.path, filepath.Ext(w.path))
	archive := fmt.Sprintf("%s-%s%s", base, stamp, filepath.Ext(w.path))

	if err := os.Rename(w.path, archive); err != nil {
		return false, fmt.Errorf("archive log %q: %w", w.path, err)
	}
	if err := compressFile(archive); err != nil {
		// The rename already happened; the uncompressed archive still
		// holds the data, so rotation is not rolled back.
		w.logger.WithError(err).Warn("archive compression failed")
	}
	if err := os.WriteFile(w.path, nil, 0o644); err != nil {
		return true, fmt.Errorf("recreate log %q: %w", w.path, err)
	}

	w.prune(keep)
	return true, nil
}

// prune removes all but the keep newest archives. Archive names embed the
// rotation timestamp, so lexicographic order is creation order. Archives
// whose compression failed stay uncompressed and still count against keep.
func (w *Writer) prune(keep int) {
	if keep <= 0 {
		return
	}
	base := strings.TrimSuffix(w.path, filepath.Ext(w.path))
	archives, _ := filepath.Glob(base + "-*" + filepath.Ext(w.path) + compressedSuffix)
	plain, _ := filepath.Glob(base + "-*" + filepath.Ext(w.path))
	archives = append(archives, plain...)
	if len(archives) <= keep {
		return
	}
	sort.Strings(archives)
	for _, stale := range archives[:len(archives)-keep] {
		if err := os.Remove(stale); err != nil {
			w.logger.WithError(err).WithField("archive", stale).Warn("failed to prune archive")
		}
	}
}

func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive %q: %w", path, err)
	}
	defer src.Close()

	dst, err := os.Create(path + compressedSuffix)
	if err != nil {
		return fmt.Errorf("create compressed archive: %w", err)
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		return fmt.Errorf("compress archive %q: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return fmt.Errorf("finish compressed archive: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close compressed archive: %w", err)
	}

	return os.Remove(path)
}
