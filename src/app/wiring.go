package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"calsync/src/clients/gcal"
	"calsync/src/clients/meetup"
	"calsync/src/clients/nostrcal"
	"calsync/src/clients/webflow"
	"calsync/src/feeds"
	"calsync/src/lib"
	"calsync/src/models"
	"calsync/src/services"
	"calsync/src/sinks"
)

// clients holds the remote clients enabled by configuration. Disabled ones
// stay nil.
type clients struct {
	gcal    *gcal.Factory
	meetup  *meetup.Client
	webflow *webflow.Client
	nostr   *nostrcal.Client
	http    *http.Client
}

func newClients(cfg lib.Config) (clients, error) {
	c := clients{http: &http.Client{Timeout: 30 * time.Second}}
	if cfg.GoogleEnabled() {
		c.gcal = gcal.NewFactory(gcal.ServiceAccount{
			ClientEmail: cfg.GoogleClientEmail,
			PrivateKey:  cfg.GooglePrivateKey,
		}, gcal.NewCredentialCache(cfg.CredentialTTL))
	}
	if cfg.Meetup.Enabled() {
		client, err := meetup.NewClient(meetup.Config{
			PrivateKey:         cfg.Meetup.PrivateKey,
			ConsumerKey:        cfg.Meetup.ConsumerKey,
			AuthorizedMemberID: cfg.Meetup.AuthorizedMemberID,
			SigningKeyID:       cfg.Meetup.SigningKeyID,
		})
		if err != nil {
			return clients{}, fmt.Errorf("meetup client: %w", err)
		}
		c.meetup = client
	}
	if cfg.WebflowToken != "" {
		client, err := webflow.NewClient(cfg.WebflowToken, cfg.WebflowCollectionID, "", c.http)
		if err != nil {
			return clients{}, fmt.Errorf("webflow client: %w", err)
		}
		c.webflow = client
	}
	if cfg.NostrRelayURL != "" {
		client, err := nostrcal.NewClient(cfg.NostrRelayURL, cfg.NostrPrivKey)
		if err != nil {
			return clients{}, fmt.Errorf("nostr client: %w", err)
		}
		c.nostr = client
	}
	return c, nil
}

func (c clients) feedDeps(logger *slog.Logger, metrics *lib.Metrics) feeds.Deps {
	deps := feeds.Deps{HTTPClient: c.http, Logger: logger, Metrics: metrics}
	if c.gcal != nil {
		deps.OpenCalendar = feeds.GCalOpener(c.gcal)
	}
	if c.meetup != nil {
		deps.Meetup = c.meetup
	}
	return deps
}

func (c clients) sinkDependencies(cfg lib.Config, xrefs sinks.XrefStore, logger *slog.Logger, metrics *lib.Metrics) sinkDeps {
	deps := sinkDeps{
		xrefs:       xrefs,
		mirrorPacer: lib.NewPacer(cfg.MirrorCallDelay),
		cmsPacer:    lib.NewPacer(cfg.CMSCallDelay),
		logger:      logger,
		metrics:     metrics,
	}
	if c.gcal != nil {
		deps.openCalendar = sinks.GCalOpener(c.gcal)
	}
	if c.nostr != nil {
		deps.nostr = c.nostr
	}
	if c.webflow != nil {
		deps.cms = c.webflow
	}
	return deps
}

func feedBuilder(deps feeds.Deps) services.FeedBuilder {
	return func(c models.Community) ([]services.EventFeed, error) {
		sources, err := feeds.ForCommunity(c, deps)
		out := make([]services.EventFeed, 0, len(sources))
		for _, s := range sources {
			out = append(out, s)
		}
		return out, err
	}
}

type sinkDeps struct {
	openCalendar sinks.CalendarOpener
	nostr        sinks.NostrCalendar
	cms          sinks.CMSCollection
	xrefs        sinks.XrefStore
	mirrorPacer  *lib.Pacer
	cmsPacer     *lib.Pacer
	logger       *slog.Logger
	metrics      *lib.Metrics
}

// sinkBuilder returns the hub calendar, nostr and CMS sinks in that order,
// each only when configured.
func sinkBuilder(d sinkDeps) services.SinkBuilder {
	return func(hub models.Hub) ([]services.EventSink, error) {
		var (
			out  []services.EventSink
			errs []error
		)
		if hub.GoogleCalendarID != "" {
			sink, err := sinks.NewCalendarSink(hub, d.openCalendar, d.xrefs, d.mirrorPacer, d.logger, d.metrics)
			if err != nil {
				errs = append(errs, err)
			} else {
				out = append(out, sink)
			}
		}
		if d.nostr != nil {
			sink, err := sinks.NewNostrSink(hub, d.nostr, d.xrefs, d.mirrorPacer, d.logger, d.metrics)
			if err != nil {
				errs = append(errs, err)
			} else {
				out = append(out, sink)
			}
		}
		if d.cms != nil {
			sink, err := sinks.NewCMSSink(d.cms, d.cmsPacer, d.logger, d.metrics)
			if err != nil {
				errs = append(errs, err)
			} else {
				out = append(out, sink)
			}
		}
		return out, errors.Join(errs...)
	}
}
