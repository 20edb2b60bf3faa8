package build

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultMaxLogFiles is the number of rotated files kept on disk.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileSize is the size in MB at which the file rotates.
	DefaultMaxLogFileSize = 20

	// DefaultLogFilename is the name of the daemon log file.
	DefaultLogFilename = "draftsyncd.log"
)

// LogRotatorConfig describes the on disk log file.
type LogRotatorConfig struct {
	LogDir string

	// MaxLogFiles is the number of gzipped old files to keep. Zero keeps
	// a single ever growing file.
	MaxLogFiles int

	// MaxLogFileSize is in megabytes.
	MaxLogFileSize int

	// Filename defaults to DefaultLogFilename.
	Filename string
}

// DefaultLogRotatorConfig returns the defaults, without a directory.
func DefaultLogRotatorConfig() *LogRotatorConfig {
	return &LogRotatorConfig{
		MaxLogFiles:    DefaultMaxLogFiles,
		MaxLogFileSize: DefaultMaxLogFileSize,
		Filename:       DefaultLogFilename,
	}
}

// path returns the full path of the active log file.
func (c *LogRotatorConfig) path() string {
	name := c.Filename
	if name == "" {
		name = DefaultLogFilename
	}

	return filepath.Join(c.LogDir, name)
}

// RotatingLogWriter is an io.Writer feeding a jrick/logrotate rotator
// through a pipe. The rotator runs on its own goroutine until Close.
type RotatingLogWriter struct {
	pipe *io.PipeWriter

	// done is closed once the rotator goroutine flushed and exited; err
	// holds its result.
	done chan struct{}
	err  error
}

// NewRotatingLogWriter creates the log directory and starts the rotator.
func NewRotatingLogWriter(cfg *LogRotatorConfig) (*RotatingLogWriter,
	error) {

	logFile := cfg.path()
	if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// The rotator takes its threshold in KB.
	r, err := rotator.New(
		logFile, int64(cfg.MaxLogFileSize*1024), false, cfg.MaxLogFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("create log rotator: %w", err)
	}
	r.SetCompressor(gzip.NewWriter(nil), ".gz")

	pr, pw := io.Pipe()
	w := &RotatingLogWriter{
		pipe: pw,
		done: make(chan struct{}),
	}

	go func() {
		defer close(w.done)

		// Stderr is the only place left to report a broken log file.
		w.err = r.Run(pr)
		if w.err != nil {
			fmt.Fprintf(os.Stderr, "log rotator stopped: %v\n", w.err)
		}
	}()

	return w, nil
}

// Write implements io.Writer.
func (w *RotatingLogWriter) Write(b []byte) (int, error) {
	return w.pipe.Write(b)
}

// Close ends the pipe and waits until the rotator wrote everything out.
func (w *RotatingLogWriter) Close() error {
	if err := w.pipe.Close(); err != nil {
		return err
	}
	<-w.done

	return w.err
}
