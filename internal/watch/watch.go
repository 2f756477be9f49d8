// ABOUTME: Directory watch service emitting file created/modified/error events per agent
// ABOUTME: Wraps fsnotify with write-finish detection and duplicate suppression

package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/2389/coven-guardian/internal/dedupe"
)

// Kind classifies an Event.
type Kind string

// Event kinds.
const (
	KindCreated  Kind = "created"
	KindModified Kind = "modified"
	KindError    Kind = "error"
)

// Event is delivered for every file change observed in a watched directory.
type Event struct {
	SourceAgent string
	Dir         string
	FilePath    string
	Kind        Kind
	Err         error // set for KindError
}

// Options tune write-finish detection and dedupe.
type Options struct {
	// StabilityThreshold is how long a new file's size and mtime must stay
	// unchanged before it is reported as created. Negative reports at once.
	StabilityThreshold time.Duration
	// PollInterval is how often a new file is sampled while settling.
	PollInterval time.Duration
	// DedupeTTL suppresses repeated created events for the same path.
	DedupeTTL time.Duration
	// CreateDirs creates missing watch directories instead of failing.
	CreateDirs bool
	// Buffer is the capacity of the Events channel.
	Buffer int
}

// Defaults for zero-valued Options fields.
const (
	DefaultStabilityThreshold = time.Second
	DefaultPollInterval       = 100 * time.Millisecond
	DefaultDedupeTTL          = 5 * time.Second
	defaultBuffer             = 64
	dedupeCapacity            = 4096
)

// ErrClosed is returned by Watch after Close.
var ErrClosed = errors.New("watch service closed")

// Service keeps at most one directory watch per agent.
type Service struct {
	mu      sync.Mutex
	watches map[string]*agentWatch
	closed  bool

	events chan Event
	seen   *dedupe.Cache
	opts   Options
	wg     sync.WaitGroup
	logger *slog.Logger
}

type agentWatch struct {
	id      string
	agentID string
	dir     string
	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a watch service. Events must be drained by the caller.
func New(opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StabilityThreshold == 0 {
		opts.StabilityThreshold = DefaultStabilityThreshold
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = DefaultDedupeTTL
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	return &Service{
		watches: make(map[string]*agentWatch),
		events:  make(chan Event, opts.Buffer),
		seen:    dedupe.New(opts.DedupeTTL, dedupeCapacity),
		opts:    opts,
		logger:  logger.With("component", "watch"),
	}
}

// Events returns the channel all watches deliver to. It is closed by Close.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Watch starts watching dir for agentID, replacing any previous watch for
// that agent. Files already present are not reported.
func (s *Service) Watch(agentID, dir string) error {
	if s.opts.CreateDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating watch directory: %w", err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &agentWatch{
		id:      uuid.New().String(),
		agentID: agentID,
		dir:     dir,
		fsw:     fsw,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = fsw.Close()
		return ErrClosed
	}
	prev := s.watches[agentID]
	s.watches[agentID] = w
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		s.stop(prev)
		s.seen.Forget(agentID)
		s.logger.Info("replaced watch", "agent_id", agentID, "old_dir", prev.dir, "dir", dir, "watch_id", w.id)
	} else {
		s.logger.Info("watching outputs", "agent_id", agentID, "dir", dir, "watch_id", w.id)
	}

	go s.run(ctx, w)
	return nil
}

// Unwatch stops the watch for agentID. It reports whether one existed.
func (s *Service) Unwatch(agentID string) bool {
	s.mu.Lock()
	w, ok := s.watches[agentID]
	if ok {
		delete(s.watches, agentID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.stop(w)
	s.seen.Forget(agentID)
	s.logger.Info("stopped watching", "agent_id", agentID, "dir", w.dir)
	return true
}

// Dir returns the directory watched for agentID.
func (s *Service) Dir(agentID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[agentID]
	if !ok {
		return "", false
	}
	return w.dir, true
}

// Close stops every watch and closes the Events channel.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watches := s.watches
	s.watches = make(map[string]*agentWatch)
	s.mu.Unlock()

	for _, w := range watches {
		s.stop(w)
	}
	s.wg.Wait()
	s.seen.Close()
	close(s.events)
	return nil
}

func (s *Service) stop(w *agentWatch) {
	w.cancel()
	_ = w.fsw.Close()
	<-w.done
}

// run pumps fsnotify events for one agent until its context ends.
func (s *Service) run(ctx context.Context, w *agentWatch) {
	defer s.wg.Done()
	defer close(w.done)

	var settling sync.WaitGroup
	defer settling.Wait()

	pending := make(map[string]bool)
	var pendingMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			switch {
			case ev.Op&fsnotify.Create == fsnotify.Create:
				if info, err := os.Stat(ev.Name); err != nil || info.IsDir() {
					continue
				}
				pendingMu.Lock()
				if pending[ev.Name] {
					pendingMu.Unlock()
					continue
				}
				pending[ev.Name] = true
				pendingMu.Unlock()

				settling.Add(1)
				go func(path string) {
					defer settling.Done()
					defer func() {
						pendingMu.Lock()
						delete(pending, path)
						pendingMu.Unlock()
					}()
					if !s.awaitStable(ctx, path) {
						return
					}
					if s.seen.CheckAndMark(dedupe.Key{AgentID: w.agentID, Path: path}) {
						s.logger.Debug("duplicate create suppressed", "agent_id", w.agentID, "path", path)
						return
					}
					s.emit(ctx, Event{SourceAgent: w.agentID, Dir: w.dir, FilePath: path, Kind: KindCreated})
				}(ev.Name)

			case ev.Op&fsnotify.Write == fsnotify.Write:
				pendingMu.Lock()
				settlingNow := pending[ev.Name]
				pendingMu.Unlock()
				if settlingNow {
					continue
				}
				s.emit(ctx, Event{SourceAgent: w.agentID, Dir: w.dir, FilePath: ev.Name, Kind: KindModified})
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			s.emit(ctx, Event{SourceAgent: w.agentID, Dir: w.dir, Kind: KindError, Err: err})
		}
	}
}

// awaitStable samples path until its size and mtime hold still for the
// stability threshold. It returns false if the file vanished or ctx ended.
func (s *Service) awaitStable(ctx context.Context, path string) bool {
	if s.opts.StabilityThreshold < 0 {
		return true
	}

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	lastSize, lastMod := info.Size(), info.ModTime()
	stableSince := time.Now()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				return false
			}
			if info.Size() != lastSize || !info.ModTime().Equal(lastMod) {
				lastSize, lastMod = info.Size(), info.ModTime()
				stableSince = time.Now()
				continue
			}
			if time.Since(stableSince) >= s.opts.StabilityThreshold {
				return true
			}
		}
	}
}

func (s *Service) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
