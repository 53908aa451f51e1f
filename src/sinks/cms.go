package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"calsync/src/clients/webflow"
	"calsync/src/lib"
	"calsync/src/models"
)

const MirrorCMS = "cms"

// CMSCollection is the subset of *webflow.Client the CMS sink uses.
type CMSCollection interface {
	ListItems(ctx context.Context) ([]webflow.Item, error)
	CreateItem(ctx context.Context, fields webflow.EventFields) (webflow.Item, error)
	PublishItems(ctx context.Context, itemIDs []string) error
}

// CMSSink creates collection items for events whose name is not yet present
// and publishes them. It never updates or deletes items.
type CMSSink struct {
	client  CMSCollection
	pacer   *lib.Pacer
	logger  *slog.Logger
	metrics *lib.Metrics
}

func NewCMSSink(client CMSCollection, pacer *lib.Pacer, logger *slog.Logger, metrics *lib.Metrics) (*CMSSink, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: no cms collection configured", ErrSinkNotConfigured)
	}
	if logger == nil {
		logger = lib.DiscardLogger()
	}
	return &CMSSink{client: client, pacer: pacer, logger: logger, metrics: metrics}, nil
}

func (s *CMSSink) Name() string {
	return MirrorCMS
}

// ProcessEvents ignores the window; the collection is matched by name only.
func (s *CMSSink) ProcessEvents(ctx context.Context, events []models.CommunityEvent, _, _ time.Time) (models.MirrorSummary, error) {
	summary := models.MirrorSummary{Sink: s.Name()}

	existing, err := s.client.ListItems(ctx)
	if err != nil {
		return summary, fmt.Errorf("list cms items: %w", err)
	}
	names := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		names[item.FieldData.Name] = struct{}{}
	}

	created := make([]string, 0)
	for _, event := range events {
		if _, ok := names[event.Name]; ok {
			continue
		}
		if err := s.pacer.Wait(ctx); err != nil {
			return summary, fmt.Errorf("pace cms call: %w", err)
		}
		item, err := s.client.CreateItem(ctx, cmsFields(event))
		if err != nil {
			s.logger.Error("create cms item", "event_id", event.ID, "name", event.Name, "error", err)
			s.metrics.Inc("cms_errors_total")
			summary.Failures++
			continue
		}
		names[event.Name] = struct{}{}
		s.metrics.Inc("cms_items_created_total")
		s.logger.Info("created cms item", "item_id", item.ID, "name", event.Name)
		created = append(created, item.ID)
	}
	summary.Created = created

	if len(created) == 0 {
		return summary, nil
	}
	if err := s.pacer.Wait(ctx); err != nil {
		return summary, fmt.Errorf("pace cms call: %w", err)
	}
	if err := s.client.PublishItems(ctx, created); err != nil {
		s.metrics.Inc("cms_errors_total")
		return summary, fmt.Errorf("publish cms items: %w", err)
	}
	return summary, nil
}

func cmsFields(event models.CommunityEvent) webflow.EventFields {
	return webflow.EventFields{
		Name:         event.Name,
		Slug:         webflow.Slug(event.Name),
		Start:        event.StartDate.UTC().Format(time.RFC3339),
		End:          event.EndDate.UTC().Format(time.RFC3339),
		Summary:      event.Description,
		Description:  event.Description,
		SignupLink:   event.Link,
		Organizer:    event.CommunityName,
		FeatureColor: event.CommunityColor,
	}
}
