package repo

import (
	"context"
	"database/sql"
)

// NextCorrelativeSeq increments and returns the counter for year.
func (r Repo) NextCorrelativeSeq(ctx context.Context, tx *sql.Tx, year int) (int64, error) {
	var seq int64
	err := r.q(tx).QueryRowContext(ctx, `INSERT INTO correlative_counters(year, seq) VALUES (?, 1)
ON CONFLICT(year) DO UPDATE SET seq = seq + 1
RETURNING seq`, year).Scan(&seq)
	return seq, err
}

// RaiseCorrelativeSeq moves a year's counter up to seq. It never moves it back.
func (r Repo) RaiseCorrelativeSeq(ctx context.Context, tx *sql.Tx, year int, seq int64) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO correlative_counters(year, seq) VALUES (?, ?)
ON CONFLICT(year) DO UPDATE SET seq = MAX(seq, excluded.seq)`, year, seq)
	return err
}
