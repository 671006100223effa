package bootstrap

import (
	"log/slog"
	"os"

	"github.com/driptech/admin-session/config"
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/observability/metrics"
	"github.com/driptech/admin-session/internal/observability/notify"
	"github.com/driptech/admin-session/internal/observability/notify/slack"
	"github.com/driptech/admin-session/internal/observability/statsd"
	"github.com/driptech/admin-session/internal/ports"
)

// securityKinds are the notifications copied to external sinks.
var securityKinds = []domainauth.NotificationKind{
	domainauth.NotifyAccessDenied,
	domainauth.NotifySessionExpired,
}

// ObservabilityContainer holds metric and notification sinks shared by the controller and HTTP layer.
type ObservabilityContainer struct {
	Counters *metrics.Counters
	Statsd   *statsd.Client
	Metrics  statsd.Sink

	Hub      *notify.Hub
	Notifier ports.Notifier
	sinks    []*notify.SinkNotifier
}

// Close flushes pending notices and releases the statsd socket.
func (o *ObservabilityContainer) Close() error {
	for _, s := range o.sinks {
		s.Wait()
	}
	if o.Hub != nil {
		o.Hub.Close()
	}
	if o.Statsd != nil {
		return o.Statsd.Close()
	}
	return nil
}

func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	counters := metrics.NewCounters()
	out := ObservabilityContainer{
		Counters: counters,
		Metrics:  counters,
		Hub:      notify.NewHub(),
	}

	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  logger,
			GlobalTags: map[string]string{
				"service": "driptech-admin",
			},
		})
		if err != nil {
			logger.Warn("statsd client disabled", "error", err)
		} else {
			out.Statsd = client
			out.Metrics = metrics.Fanout{counters, client}
			logger.Info("statsd metrics enabled", "address", cfg.Metrics.StatsdAddress, "prefix", cfg.Metrics.Prefix)
		}
	}

	fanout := notify.Fanout{notify.NewLogNotifier(logger), out.Hub}
	if sink := buildSlackSink(logger, cfg.Notifications); sink != nil {
		out.sinks = append(out.sinks, sink)
		fanout = append(fanout, sink)
	}
	out.Notifier = fanout

	return out
}

func buildSlackSink(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *notify.SinkNotifier {
	if !cfg.Enabled || !cfg.Slack.Enabled {
		return nil
	}

	client, err := slack.NewClient(slack.Config{
		WebhookURL: cfg.Slack.WebhookURL,
		Channel:    cfg.Slack.Channel,
		Username:   cfg.Slack.Username,
		Timeout:    cfg.Timeout,
		RetryLimit: cfg.RetryLimit,
	})
	if err != nil {
		logger.Warn("slack notifications disabled", "error", err)
		return nil
	}

	host, _ := os.Hostname()
	logger.Info("slack security notices enabled", "channel", cfg.Slack.Channel)
	return notify.NewSinkNotifier(client, notify.SinkOptions{
		Kinds:    securityKinds,
		Timeout:  cfg.Timeout,
		Metadata: map[string]string{"host": host},
		Logger:   logger,
	})
}
