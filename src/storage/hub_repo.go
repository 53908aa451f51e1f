package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"calsync/src/models"
)

var (
	// ErrHubNotFound is returned when a hub lookup matches no row.
	ErrHubNotFound       = errors.New("hub not found")
	ErrCommunityNotFound = errors.New("community not found")
)

type HubRepo struct {
	pool *pgxpool.Pool
}

func NewHubRepo(pool *pgxpool.Pool) *HubRepo {
	return &HubRepo{pool: pool}
}

func (r *HubRepo) GetHub(ctx context.Context, hubID string) (models.Hub, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, google_calendar_id, mirror_behaviour
		FROM hubs
		WHERE id = $1
	`, hubID)
	return scanHub(row)
}

func (r *HubRepo) GetHubByName(ctx context.Context, name string) (models.Hub, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, google_calendar_id, mirror_behaviour
		FROM hubs
		WHERE name = $1
	`, name)
	return scanHub(row)
}

func scanHub(row pgx.Row) (models.Hub, error) {
	var hub models.Hub
	var behaviour string
	if err := row.Scan(&hub.ID, &hub.Name, &hub.GoogleCalendarID, &behaviour); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Hub{}, ErrHubNotFound
		}
		return models.Hub{}, fmt.Errorf("scan hub: %w", err)
	}
	hub.MirrorBehaviour = models.ParseSyncBehaviour(behaviour)
	return hub, nil
}

func (r *HubRepo) ListHubs(ctx context.Context) ([]models.Hub, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, google_calendar_id, mirror_behaviour
		FROM hubs
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query hubs: %w", err)
	}
	defer rows.Close()

	hubs := make([]models.Hub, 0)
	for rows.Next() {
		hub, err := scanHub(rows)
		if err != nil {
			return nil, err
		}
		hubs = append(hubs, hub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hub rows: %w", err)
	}
	return hubs, nil
}

func (r *HubRepo) GetCommunity(ctx context.Context, communityID string) (models.Community, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, google_calendar_id, meetup_url_name, ics_url, primary_color, sync_behaviour
		FROM communities
		WHERE id = $1
	`, communityID)
	c, err := scanCommunity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Community{}, ErrCommunityNotFound
	}
	return c, err
}

func scanCommunity(row pgx.Row) (models.Community, error) {
	var c models.Community
	var behaviour string
	if err := row.Scan(&c.ID, &c.Name, &c.GoogleCalendarID, &c.MeetupURLName, &c.ICSURL,
		&c.PrimaryColor, &behaviour); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Community{}, err
		}
		return models.Community{}, fmt.Errorf("scan community row: %w", err)
	}
	c.SyncBehaviour = models.ParseSyncBehaviour(behaviour)
	return c, nil
}

func (r *HubRepo) ListCommunities(ctx context.Context, hubID string) ([]models.Community, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.name, c.google_calendar_id, c.meetup_url_name, c.ics_url,
			c.primary_color, c.sync_behaviour
		FROM communities c
		JOIN hub_communities hc ON hc.community_id = c.id
		WHERE hc.hub_id = $1
		ORDER BY c.name ASC
	`, hubID)
	if err != nil {
		return nil, fmt.Errorf("query hub communities: %w", err)
	}
	defer rows.Close()

	communities := make([]models.Community, 0)
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, err
		}
		communities = append(communities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate community rows: %w", err)
	}
	return communities, nil
}

// UpsertHub inserts or updates the hub keyed by name and returns its id.
func (r *HubRepo) UpsertHub(ctx context.Context, hub models.Hub) (string, error) {
	if hub.ID == "" {
		hub.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO hubs (id, name, google_calendar_id, mirror_behaviour)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET google_calendar_id = EXCLUDED.google_calendar_id,
			mirror_behaviour = EXCLUDED.mirror_behaviour
		RETURNING id
	`, hub.ID, hub.Name, hub.GoogleCalendarID, string(models.ParseSyncBehaviour(string(hub.MirrorBehaviour))))

	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("upsert hub: %w", err)
	}
	return id, nil
}

// UpsertCommunity inserts or updates the community keyed by name and returns its id.
func (r *HubRepo) UpsertCommunity(ctx context.Context, c models.Community) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO communities (
			id, name, google_calendar_id, meetup_url_name, ics_url, primary_color, sync_behaviour
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE
		SET google_calendar_id = EXCLUDED.google_calendar_id,
			meetup_url_name = EXCLUDED.meetup_url_name,
			ics_url = EXCLUDED.ics_url,
			primary_color = EXCLUDED.primary_color,
			sync_behaviour = EXCLUDED.sync_behaviour
		RETURNING id
	`, c.ID, c.Name, c.GoogleCalendarID, c.MeetupURLName, c.ICSURL, c.PrimaryColor,
		string(models.ParseSyncBehaviour(string(c.SyncBehaviour))))

	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("upsert community: %w", err)
	}
	return id, nil
}

func (r *HubRepo) LinkCommunity(ctx context.Context, hubID, communityID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO hub_communities (hub_id, community_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, hubID, communityID)
	if err != nil {
		return fmt.Errorf("link community to hub: %w", err)
	}
	return nil
}
