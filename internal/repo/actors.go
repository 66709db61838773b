package repo

import (
	"context"
	"database/sql"
	"errors"

	"caseline/internal/domain"
)

// UpsertActor creates an actor or updates its role and display name.
func (r Repo) UpsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	if a.ID == "" {
		return errors.New("actor id required")
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO actors(id, display_name, role, created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET role=excluded.role, display_name=COALESCE(excluded.display_name, actors.display_name)`,
		a.ID, nullable(a.DisplayName), a.Role, a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	err := r.DB.QueryRowContext(ctx, `SELECT id, COALESCE(display_name,''), role, created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &a.DisplayName, &a.Role, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, COALESCE(display_name,''), role, created_at FROM actors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.Role, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
