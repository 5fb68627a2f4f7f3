package printer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPrintCommand = "lp"
	DefaultCloseDelay   = 500 * time.Millisecond
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Spool hands the HTML copy to the host print command. The document is written
// to a temporary file that is removed a fixed delay after the command returns.
// A print queue slower than the delay can lose the file.
type Spool struct {
	command []string
	delay   time.Duration
	dir     string
	logger  *zap.Logger
	run     func(ctx context.Context, name string, args ...string) error

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewSpool(command string, delay time.Duration, logger *zap.Logger) *Spool {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		parts = []string{DefaultPrintCommand}
	}
	if delay <= 0 {
		delay = DefaultCloseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spool{
		command: parts,
		delay:   delay,
		dir:     os.TempDir(),
		logger:  logger,
		run:     runCommand,
		pending: make(map[string]*time.Timer),
	}
}

func (s *Spool) Print(ctx context.Context, job Job) error {
	pattern := fmt.Sprintf("receipt-%s-%s-*.html",
		unsafeFileChars.ReplaceAllString(job.InvoiceNumber, "_"),
		unsafeFileChars.ReplaceAllString(string(job.Document.Variant), "_"))
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return fmt.Errorf("printer: create spool file: %w", err)
	}
	path := f.Name()
	if _, err := f.WriteString(job.Document.HTML); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("printer: write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("printer: write spool file: %w", err)
	}

	args := append(append([]string(nil), s.command[1:]...), path)
	runErr := s.run(ctx, s.command[0], args...)
	s.scheduleRemoval(path)
	if runErr != nil {
		return fmt.Errorf("printer: %s: %w", s.command[0], runErr)
	}
	return nil
}

func (s *Spool) scheduleRemoval(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[path] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("spool file cleanup failed", zap.String("path", path), zap.Error(err))
		}
	})
}

// Close removes spool files whose delay has not elapsed yet.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, timer := range s.pending {
		if timer.Stop() {
			_ = os.Remove(path)
		}
		delete(s.pending, path)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
