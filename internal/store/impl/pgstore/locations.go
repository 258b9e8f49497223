package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"safehome.dev/backend/internal/model"
)

const pingColumns = `id,user_id,lat,lng,accuracy,speed,heading,ts,server_time`

func (st *Store) AppendPing(ctx context.Context, p *model.Ping) error {
	sqlStmt := `INSERT INTO location_ping (user_id,lat,lng,accuracy,speed,heading,ts,server_time)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`
	err := st.db.QueryRow(ctx, sqlStmt, p.UserId, p.Latitude, p.Longitude,
		p.Accuracy, p.Speed, p.Heading, p.Ts, p.ServerTime).Scan(&p.Id)
	if err != nil {
		return err
	}
	// History row is durable at this point. The compacted row is a
	// cache: an upsert failure is logged and the next ping heals it.
	// The ts guard keeps an out-of-order completion from regressing
	// the cached position.
	sqlStmt = `INSERT INTO latest_location (user_id,lat,lng,accuracy,ts,updated_at)
	VALUES ($1,$2,$3,$4,$5,now())
	ON CONFLICT (user_id)
	DO UPDATE SET lat = EXCLUDED.lat, lng = EXCLUDED.lng, accuracy = EXCLUDED.accuracy,
	ts = EXCLUDED.ts, updated_at = now()
	WHERE latest_location.ts <= EXCLUDED.ts`
	_, err = st.db.Exec(ctx, sqlStmt, p.UserId, p.Latitude, p.Longitude, p.Accuracy, p.Ts)
	if err != nil {
		st.log.Error().Err(err).Str("user_id", p.UserId).Msg("latest location upsert failed")
	}
	return nil
}

func (st *Store) History(ctx context.Context, childId string, from, to time.Time, limit int) ([]model.Ping, error) {
	sqlStmt := `SELECT ` + pingColumns + ` FROM location_ping
	WHERE user_id = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts DESC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = st.db.Query(ctx, sqlStmt+` LIMIT $4`, childId, from, to, limit)
	} else {
		rows, err = st.db.Query(ctx, sqlStmt, childId, from, to)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	pings := make([]model.Ping, 0)
	for rows.Next() {
		p := model.Ping{}
		err := rows.Scan(&p.Id, &p.UserId, &p.Latitude, &p.Longitude,
			&p.Accuracy, &p.Speed, &p.Heading, &p.Ts, &p.ServerTime)
		if err != nil {
			return nil, err
		}
		pings = append(pings, p)
	}
	return pings, rows.Err()
}

func (st *Store) Latest(ctx context.Context, childId string) (*model.LatestLocation, error) {
	sqlStmt := `SELECT user_id,lat,lng,accuracy,ts,updated_at FROM latest_location WHERE user_id = $1`
	loc := &model.LatestLocation{}
	err := st.db.QueryRow(ctx, sqlStmt, childId).
		Scan(&loc.UserId, &loc.Latitude, &loc.Longitude, &loc.Accuracy, &loc.Ts, &loc.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return loc, nil
}

func (st *Store) LatestFor(ctx context.Context, childIds []string) (map[string]*model.LatestLocation, error) {
	sqlStmt := `SELECT user_id,lat,lng,accuracy,ts,updated_at FROM latest_location WHERE user_id = ANY($1)`
	rows, err := st.db.Query(ctx, sqlStmt, childIds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]*model.LatestLocation, len(childIds))
	for rows.Next() {
		loc := &model.LatestLocation{}
		err := rows.Scan(&loc.UserId, &loc.Latitude, &loc.Longitude, &loc.Accuracy, &loc.Ts, &loc.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out[loc.UserId] = loc
	}
	return out, rows.Err()
}

func (st *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := st.db.Exec(ctx, `DELETE FROM location_ping WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (st *Store) DeleteLocationsFor(ctx context.Context, childId string) error {
	_, err := st.db.Exec(ctx, `DELETE FROM location_ping WHERE user_id = $1`, childId)
	if err != nil {
		return err
	}
	_, err = st.db.Exec(ctx, `DELETE FROM latest_location WHERE user_id = $1`, childId)
	return err
}
