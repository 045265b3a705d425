package bootstrap

import (
	"strings"
	"sync"

	"collab-editing-be/internal/comments"
	"collab-editing-be/internal/config"
	"collab-editing-be/internal/pkg/logger"
	"collab-editing-be/internal/pkg/mailer"
	"collab-editing-be/internal/presence"
	"collab-editing-be/internal/session"
	"collab-editing-be/pkg/events"
	"collab-editing-be/pkg/transport"
)

// Container assembles the collaboration components from configuration.
// Every engine and store built from one container shares the same logger
// and event bus; the channel transport backend additionally shares one
// in-process hub, so channel-mode engines rendezvous with each other.
type Container struct {
	Logger logger.ILogger
	Bus    *events.Bus

	cfg *config.Config

	hubOnce sync.Once
	hub     *transport.ChannelHub
}

func NewContainer(cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus
	bus := events.NewBus()

	return &Container{
		Logger: sysLogger,
		Bus:    bus,
		cfg:    cfg,
	}
}

// NewEngine builds a session engine on the configured transport backend
// and durable cache path.
func (c *Container) NewEngine() *session.Engine {
	return session.NewEngine(session.Options{
		Logger:       c.Logger,
		Bus:          c.Bus,
		NewTransport: c.newTransport,
		CachePath:    c.cfg.Collab.CachePath,
	})
}

// NewPresenceStore builds a presence store with the configured idle and
// offline thresholds.
func (c *Container) NewPresenceStore() *presence.Store {
	opts := presence.Options{
		Logger:           c.Logger,
		Bus:              c.Bus,
		IdleThreshold:    c.cfg.Collab.IdleThreshold,
		OfflineThreshold: c.cfg.Collab.OfflineThreshold,
	}
	// Sweep resolution follows the configured threshold, so demotions
	// land close to the boundary instead of on a fixed coarse tick.
	if opts.IdleThreshold > 0 {
		opts.SweepInterval = opts.IdleThreshold / 4
	}
	return presence.NewStore(opts)
}

// NewCommentStore builds a comment store; with SMTP configured, mentions
// additionally go out as mail, resolved through the given lookup.
func (c *Container) NewCommentStore(lookup comments.ParticipantLookup) *comments.Store {
	var notifier comments.Notifier
	if c.cfg.SMTP.Host != "" && lookup != nil {
		mail := mailer.NewEmailService(
			c.cfg.SMTP.Host,
			c.cfg.SMTP.Port,
			c.cfg.SMTP.Email,
			c.cfg.SMTP.Password,
			c.cfg.SMTP.Email,
		)
		notifier = comments.NewEmailNotifier(mail, lookup, c.Logger)
	}
	return comments.NewStore(comments.Options{
		Logger:   c.Logger,
		Bus:      c.Bus,
		Notifier: notifier,
	})
}

// newTransport dispatches on COLLAB_TRANSPORT. Session-level signaling
// endpoints, when given, override the configured broker address.
func (c *Container) newTransport(endpoints []string) (transport.Transport, error) {
	switch c.cfg.Collab.Transport {
	case "nats":
		url := c.cfg.Collab.NatsURL
		if len(endpoints) > 0 {
			url = strings.Join(endpoints, ",")
		}
		return transport.NewNatsTransport(url), nil
	case "channel":
		c.hubOnce.Do(func() {
			c.hub = transport.NewChannelHub()
		})
		return c.hub.Transport(), nil
	default:
		url := c.cfg.Collab.RedisURL
		if len(endpoints) > 0 {
			url = endpoints[0]
		}
		return transport.NewRedisTransport(url)
	}
}

// Close releases the shared bus and, in channel mode, the shared hub.
// Engines and stores built from the container are torn down by their
// own Leave/Dispose calls.
func (c *Container) Close() {
	if c.hub != nil {
		c.hub.Close()
	}
	c.Bus.Close()
}
