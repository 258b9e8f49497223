package pgstore

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// RetentionDays returns the singleton override row when present.
func (st *Store) RetentionDays(ctx context.Context) (int, bool, error) {
	var days int
	err := st.db.QueryRow(ctx, `SELECT location_retention_days FROM retention_config WHERE id`).Scan(&days)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return days, true, nil
}
