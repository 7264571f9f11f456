// Package mover moves downloaded files from the staging directory to their
// final place on a single background goroutine, in submission order.
package mover

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("mover is closed")

// Job is a single (source, destination) move.
type Job struct {
	Src string
	Dst string
}

// Mover owns one worker goroutine draining a FIFO queue of move jobs.
type Mover struct {
	logger  *slog.Logger
	jobs    chan Job
	done    chan struct{}
	pending atomic.Int64

	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	errs  []error

	// rename is swapped in tests to force the copy fallback.
	rename func(src, dst string) error
}

// New starts a mover whose queue holds up to buffer jobs before Submit blocks.
func New(logger *slog.Logger, buffer int) *Mover {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	m := &Mover{
		logger: logger.With("component", "mover"),
		jobs:   make(chan Job, buffer),
		done:   make(chan struct{}),
		rename: os.Rename,
	}
	go m.run()
	return m
}

// Submit enqueues a move. It blocks while the queue is full.
func (m *Mover) Submit(src, dst string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	m.pending.Add(1)
	m.jobs <- Job{Src: src, Dst: dst}
	return nil
}

// Pending returns the number of submitted jobs not yet processed.
func (m *Mover) Pending() int {
	return int(m.pending.Load())
}

// Close stops accepting jobs, waits until every queued job has been
// processed and returns the failures joined together.
func (m *Mover) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.mu.Unlock()

	<-m.done

	m.errMu.Lock()
	defer m.errMu.Unlock()
	return errors.Join(m.errs...)
}

func (m *Mover) run() {
	defer close(m.done)
	for job := range m.jobs {
		if err := m.move(job); err != nil {
			m.logger.Error("Failed to move file", "src", job.Src, "dst", job.Dst, "error", err)
			m.errMu.Lock()
			m.errs = append(m.errs, err)
			m.errMu.Unlock()
		} else {
			m.logger.Debug("Moved file", "src", job.Src, "dst", job.Dst)
		}
		m.pending.Add(-1)
	}
}

func (m *Mover) move(job Job) error {
	if err := os.MkdirAll(filepath.Dir(job.Dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := m.rename(job.Src, job.Dst); err == nil {
		return nil
	}
	// Rename fails across filesystems; copy and delete instead.
	if err := copyFile(job.Src, job.Dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", job.Src, job.Dst, err)
	}
	if err := os.Remove(job.Src); err != nil {
		return fmt.Errorf("failed to remove %s after copy: %w", job.Src, err)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
