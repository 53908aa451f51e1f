package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"calsync/src/models"
)

type XrefRepo struct {
	pool *pgxpool.Pool
}

func NewXrefRepo(pool *pgxpool.Pool) *XrefRepo {
	return &XrefRepo{pool: pool}
}

// ListByHub returns the hub's xrefs for one mirror. When eventIDs is
// non-empty only xrefs pointing at those events are returned.
func (r *XrefRepo) ListByHub(ctx context.Context, hubID, mirror string, eventIDs []string) ([]models.HubEventXref, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(eventIDs) == 0 {
		rows, err = r.pool.Query(ctx, `
			SELECT id, hub_id, mirror, community_event_id, community_event_external_id, mirror_event_id
			FROM hub_event_xrefs
			WHERE hub_id = $1 AND mirror = $2
			ORDER BY id ASC
		`, hubID, mirror)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT id, hub_id, mirror, community_event_id, community_event_external_id, mirror_event_id
			FROM hub_event_xrefs
			WHERE hub_id = $1 AND mirror = $2
			  AND community_event_id = ANY($3::uuid[])
			ORDER BY id ASC
		`, hubID, mirror, eventIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("query hub event xrefs: %w", err)
	}
	defer rows.Close()

	xrefs := make([]models.HubEventXref, 0)
	for rows.Next() {
		var xref models.HubEventXref
		if err := rows.Scan(&xref.ID, &xref.HubID, &xref.Mirror, &xref.CommunityEventID,
			&xref.CommunityEventExternalID, &xref.MirrorEventID); err != nil {
			return nil, fmt.Errorf("scan hub event xref row: %w", err)
		}
		xrefs = append(xrefs, xref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hub event xrefs: %w", err)
	}
	return xrefs, nil
}

// Add inserts xref, assigning an id when it has none, and returns the stored row.
func (r *XrefRepo) Add(ctx context.Context, xref models.HubEventXref) (models.HubEventXref, error) {
	if xref.ID == "" {
		xref.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO hub_event_xrefs (
			id, hub_id, mirror, community_event_id, community_event_external_id, mirror_event_id
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, xref.ID, xref.HubID, xref.Mirror, xref.CommunityEventID, xref.CommunityEventExternalID, xref.MirrorEventID)
	if err != nil {
		return models.HubEventXref{}, fmt.Errorf("insert hub event xref: %w", err)
	}
	return xref, nil
}

func (r *XrefRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM hub_event_xrefs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete hub event xref: %w", err)
	}
	return nil
}

// DeleteByMirrorEventID drops every xref of the hub mirror that targets mirrorEventID.
func (r *XrefRepo) DeleteByMirrorEventID(ctx context.Context, hubID, mirror, mirrorEventID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM hub_event_xrefs
		WHERE hub_id = $1 AND mirror = $2 AND mirror_event_id = $3
	`, hubID, mirror, mirrorEventID)
	if err != nil {
		return fmt.Errorf("delete hub event xrefs by mirror event: %w", err)
	}
	return nil
}
