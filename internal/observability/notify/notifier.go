package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/ports"
)

var (
	_ ports.Notifier = Fanout(nil)
	_ ports.Notifier = (*LogNotifier)(nil)
	_ ports.Notifier = (*SinkNotifier)(nil)
)

// Fanout delivers each notification to every notifier in order.
type Fanout []ports.Notifier

func (f Fanout) Notify(ctx context.Context, n domainauth.Notification) {
	for _, target := range f {
		if target != nil {
			target.Notify(ctx, n)
		}
	}
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier; logger defaults to slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (l *LogNotifier) Notify(ctx context.Context, n domainauth.Notification) {
	l.logger.Log(ctx, levelOf(n.Level), "session notification",
		"kind", n.Kind,
		"title", n.Title,
		"message", n.Message,
	)
}

func levelOf(l domainauth.Level) slog.Level {
	switch l {
	case domainauth.LevelError:
		return slog.LevelError
	case domainauth.LevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// SinkNotifier forwards selected notification kinds to a Sink in the background.
// Delivery never blocks the caller; failures are logged.
type SinkNotifier struct {
	sink     Sink
	kinds    map[domainauth.NotificationKind]bool
	timeout  time.Duration
	metadata map[string]string
	logger   *slog.Logger

	wg sync.WaitGroup
}

// SinkOptions configures a SinkNotifier.
type SinkOptions struct {
	Kinds    []domainauth.NotificationKind // all kinds when empty
	Timeout  time.Duration                 // 5s when zero
	Metadata map[string]string             // attached to every notice
	Logger   *slog.Logger
}

// NewSinkNotifier wraps sink.
func NewSinkNotifier(sink Sink, opts SinkOptions) *SinkNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var kinds map[domainauth.NotificationKind]bool
	if len(opts.Kinds) > 0 {
		kinds = make(map[domainauth.NotificationKind]bool, len(opts.Kinds))
		for _, k := range opts.Kinds {
			kinds[k] = true
		}
	}
	return &SinkNotifier{
		sink:     sink,
		kinds:    kinds,
		timeout:  opts.Timeout,
		metadata: opts.Metadata,
		logger:   opts.Logger.With("component", "notify_sink"),
	}
}

func (s *SinkNotifier) Notify(ctx context.Context, n domainauth.Notification) {
	if s.kinds != nil && !s.kinds[n.Kind] {
		return
	}
	notice := NoticeFrom(n, s.metadata)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		if err := s.sink.SendSecurityNotice(sendCtx, notice); err != nil {
			s.logger.WarnContext(sendCtx, "deliver security notice", "kind", n.Kind, "error", err)
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (s *SinkNotifier) Wait() { s.wg.Wait() }
