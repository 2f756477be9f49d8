// ABOUTME: Notification bridge turning file-created events into output announcements
// ABOUTME: Modified events and watcher errors are logged as diagnostics only

package bridge

import (
	"context"
	"log/slog"

	"github.com/2389/coven-guardian/internal/store"
	"github.com/2389/coven-guardian/internal/watch"
)

// Announcer records an output and fans out both notification channels.
type Announcer interface {
	AnnounceOutput(ctx context.Context, agentID, filePath string, metadata map[string]any) (*store.Output, error)
}

// Bridge consumes watch events.
type Bridge struct {
	announcer Announcer
	logger    *slog.Logger
}

// New creates a bridge. Pass nil logger for default.
func New(announcer Announcer, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		announcer: announcer,
		logger:    logger.With("component", "bridge"),
	}
}

// Run handles events until the channel closes or ctx is done.
func (b *Bridge) Run(ctx context.Context, events <-chan watch.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.Handle(ctx, ev)
		}
	}
}

// Handle processes a single event. It never fails: announce errors are
// logged and left for the agents' own retries.
func (b *Bridge) Handle(ctx context.Context, ev watch.Event) {
	switch ev.Kind {
	case watch.KindCreated:
		b.logger.Info("new file detected", "agent_id", ev.SourceAgent, "path", ev.FilePath)
		out, err := b.announcer.AnnounceOutput(ctx, ev.SourceAgent, ev.FilePath, map[string]any{})
		if err != nil {
			if out != nil {
				b.logger.Warn("output recorded but broadcast incomplete",
					"agent_id", ev.SourceAgent, "path", ev.FilePath, "error", err)
				return
			}
			b.logger.Error("announcing detected file failed",
				"agent_id", ev.SourceAgent, "path", ev.FilePath, "error", err)
		}

	case watch.KindModified:
		b.logger.Debug("file updated", "agent_id", ev.SourceAgent, "path", ev.FilePath)

	case watch.KindError:
		b.logger.Warn("watcher error", "agent_id", ev.SourceAgent, "dir", ev.Dir, "error", ev.Err)

	default:
		b.logger.Debug("ignoring unknown event kind", "kind", ev.Kind, "agent_id", ev.SourceAgent)
	}
}
