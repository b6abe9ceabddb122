package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// ListJunctionIDs returns the user's junction allowlist in ascending order.
func (r *SQLiteUserDirectory) ListJunctionIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT junction_id FROM user_junctions WHERE user_id = ? ORDER BY junction_id", userID)
	if err != nil {
		return nil, fmt.Errorf("listing junction ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning junction id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating junction ids: %w", err)
	}
	return ids, nil
}

// ListGrants returns the user's grants ordered by junction id.
func (r *SQLiteUserDirectory) ListGrants(ctx context.Context, userID int64) ([]Grant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, junction_id, access_level, granted_by, granted_at
		 FROM user_junctions WHERE user_id = ? ORDER BY junction_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	defer rows.Close()

	grants := []Grant{}
	for rows.Next() {
		var (
			g         Grant
			level     string
			grantedBy sql.NullInt64
			grantedAt string
		)
		if err := rows.Scan(&g.UserID, &g.JunctionID, &level, &grantedBy, &grantedAt); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		if g.Level, err = ParseRole(level); err != nil {
			return nil, fmt.Errorf("grant %d/%d: %w", g.UserID, g.JunctionID, err)
		}
		g.GrantedBy = grantedBy.Int64
		g.GrantedAt = parseTime(grantedAt)
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grants: %w", err)
	}
	return grants, nil
}

// UpsertGrant relies on the (user_id, junction_id) primary key: a repeat
// grant overwrites the level and grantor in one statement.
func (r *SQLiteUserDirectory) UpsertGrant(ctx context.Context, g Grant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_junctions (user_id, junction_id, access_level, granted_by, granted_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, junction_id) DO UPDATE SET
		     access_level = excluded.access_level,
		     granted_by   = excluded.granted_by,
		     granted_at   = excluded.granted_at`,
		g.UserID, g.JunctionID, g.Level.String(), nullInt64(g.GrantedBy), formatTime(g.GrantedAt))
	if err != nil {
		return fmt.Errorf("upserting grant: %w", err)
	}
	return nil
}

// DeleteGrant removes one grant, or returns ErrGrantNotFound.
func (r *SQLiteUserDirectory) DeleteGrant(ctx context.Context, userID, junctionID int64) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM user_junctions WHERE user_id = ? AND junction_id = ?", userID, junctionID)
	if err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}
	if n == 0 {
		return ErrGrantNotFound
	}
	return nil
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
