package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"calsync/src/models"
)

const eventColumns = `
	e.id, e.community_id, e.external_id, e.external_recurring_id, e.name, e.location,
	e.description, e.link, e.start_date, e.end_date, c.name, c.primary_color
`

type EventsRepo struct {
	pool *pgxpool.Pool
}

func NewEventsRepo(pool *pgxpool.Pool) *EventsRepo {
	return &EventsRepo{pool: pool}
}

// ListByCommunity returns the stored events of one community that overlap
// the window (see lib.Overlaps).
func (r *EventsRepo) ListByCommunity(ctx context.Context, communityID string, minDate, maxDate time.Time) ([]models.CommunityEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM community_events e
		JOIN communities c ON c.id = e.community_id
		WHERE e.community_id = $1
		  AND e.start_date < $3
		  AND (e.end_date > $2 OR e.start_date >= $2)
		ORDER BY e.start_date ASC, e.id ASC
	`, communityID, minDate, maxDate)
	if err != nil {
		return nil, fmt.Errorf("query community events: %w", err)
	}
	return collectEvents(rows)
}

// ListByHub returns every event of the hub's communities overlapping the
// window, hydrated with community name and colour.
func (r *EventsRepo) ListByHub(ctx context.Context, hubID string, minDate, maxDate time.Time) ([]models.CommunityEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM community_events e
		JOIN communities c ON c.id = e.community_id
		JOIN hub_communities hc ON hc.community_id = e.community_id
		WHERE hc.hub_id = $1
		  AND e.start_date < $3
		  AND (e.end_date > $2 OR e.start_date >= $2)
		ORDER BY e.start_date ASC, e.id ASC
	`, hubID, minDate, maxDate)
	if err != nil {
		return nil, fmt.Errorf("query hub events: %w", err)
	}
	return collectEvents(rows)
}

// ApplyActions deletes deleteIDs and upserts save in one transaction. Events
// without an ID get a fresh one. The saved events are returned with their ids.
func (r *EventsRepo) ApplyActions(ctx context.Context, deleteIDs []string, save []models.CommunityEvent) ([]models.CommunityEvent, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(deleteIDs) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM community_events WHERE id = ANY($1::uuid[])`, deleteIDs); err != nil {
			return nil, fmt.Errorf("delete community events: %w", err)
		}
	}

	saved := make([]models.CommunityEvent, 0, len(save))
	for _, event := range save {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		// A row outside the consolidation window may already hold this
		// external id; it is refreshed in place and keeps its id.
		row := tx.QueryRow(ctx, `
			INSERT INTO community_events (
				id, community_id, external_id, external_recurring_id, name, location,
				description, link, start_date, end_date
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (community_id, external_id) DO UPDATE
			SET external_recurring_id = EXCLUDED.external_recurring_id,
				name = EXCLUDED.name,
				location = EXCLUDED.location,
				description = EXCLUDED.description,
				link = EXCLUDED.link,
				start_date = EXCLUDED.start_date,
				end_date = EXCLUDED.end_date
			RETURNING id
		`,
			event.ID, event.CommunityID, event.ExternalID, event.ExternalRecurringID, event.Name,
			event.Location, event.Description, event.Link, event.StartDate.UTC(), event.EndDate.UTC(),
		)
		if err := row.Scan(&event.ID); err != nil {
			return nil, fmt.Errorf("upsert community event %s: %w", event.ExternalID, err)
		}
		saved = append(saved, event)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return saved, nil
}

// ValidateSearch rejects searches naming both a hub and a community, or
// carrying ids that are not uuids.
func ValidateSearch(search models.EventsSearch) error {
	if search.HubID != "" && search.CommunityID != "" {
		return fmt.Errorf("%w: only one of hub id and community id can be specified", ErrInvalidSearch)
	}
	if search.HubID != "" {
		if _, err := uuid.Parse(search.HubID); err != nil {
			return fmt.Errorf("%w: hub id %q is not a uuid", ErrInvalidSearch, search.HubID)
		}
	}
	if search.CommunityID != "" {
		if _, err := uuid.Parse(search.CommunityID); err != nil {
			return fmt.Errorf("%w: community id %q is not a uuid", ErrInvalidSearch, search.CommunityID)
		}
	}
	if search.MinDate != nil && search.MaxDate != nil && search.MaxDate.Before(*search.MinDate) {
		return fmt.Errorf("%w: max date before min date", ErrInvalidSearch)
	}
	return nil
}

func (r *EventsRepo) Search(ctx context.Context, search models.EventsSearch) ([]models.CommunityEvent, error) {
	if err := ValidateSearch(search); err != nil {
		return nil, err
	}

	var b strings.Builder
	args := make([]any, 0, 4)
	argIdx := 1

	b.WriteString(`SELECT ` + eventColumns + `
		FROM community_events e
		JOIN communities c ON c.id = e.community_id
	`)
	if search.HubID != "" {
		b.WriteString(fmt.Sprintf("JOIN hub_communities hc ON hc.community_id = e.community_id AND hc.hub_id = $%d\n", argIdx))
		args = append(args, search.HubID)
		argIdx++
	}
	b.WriteString("WHERE 1=1\n")

	if search.CommunityID != "" {
		b.WriteString(fmt.Sprintf("AND e.community_id = $%d\n", argIdx))
		args = append(args, search.CommunityID)
		argIdx++
	}
	if search.MinDate != nil {
		b.WriteString(fmt.Sprintf("AND e.start_date >= $%d\n", argIdx))
		args = append(args, search.MinDate.UTC())
		argIdx++
	}
	if search.MaxDate != nil {
		b.WriteString(fmt.Sprintf("AND e.start_date <= $%d\n", argIdx))
		args = append(args, search.MaxDate.UTC())
	}
	b.WriteString("ORDER BY e.start_date ASC, e.id ASC")

	rows, err := r.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search community events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]models.CommunityEvent, error) {
	defer rows.Close()

	events := make([]models.CommunityEvent, 0)
	for rows.Next() {
		var event models.CommunityEvent
		if err := rows.Scan(&event.ID, &event.CommunityID, &event.ExternalID, &event.ExternalRecurringID,
			&event.Name, &event.Location, &event.Description, &event.Link, &event.StartDate, &event.EndDate,
			&event.CommunityName, &event.CommunityColor); err != nil {
			return nil, fmt.Errorf("scan community event row: %w", err)
		}
		event.StartDate = event.StartDate.UTC()
		event.EndDate = event.EndDate.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate community event rows: %w", err)
	}
	return events, nil
}
