package pgstore

import (
	"context"
	"encoding/json"

	"safehome.dev/backend/internal/model"
)

func (st *Store) Append(ctx context.Context, e *model.AuditEntry) error {
	var meta []byte
	if len(e.Meta) > 0 {
		meta, _ = json.Marshal(e.Meta)
	}
	sqlStmt := `INSERT INTO audit_log (actor_id,actor_role,child_id,action,meta,ts)
	VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`
	return st.db.QueryRow(ctx, sqlStmt, e.ActorId, e.ActorRole, e.ChildId, e.Action, meta, e.Ts).Scan(&e.Id)
}

func (st *Store) Page(ctx context.Context, page, size int) ([]model.AuditEntry, int64, error) {
	var total int64
	err := st.db.QueryRow(ctx, `SELECT count(*) FROM audit_log`).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	sqlStmt := `SELECT id,actor_id,actor_role,child_id,action,meta,ts FROM audit_log
	ORDER BY ts DESC OFFSET $1 LIMIT $2`
	entries, err := st.queryAudit(ctx, sqlStmt, (page-1)*size, size)
	return entries, total, err
}

func (st *Store) RecentForChildren(ctx context.Context, childIds []string, limit int) ([]model.AuditEntry, error) {
	sqlStmt := `SELECT id,actor_id,actor_role,child_id,action,meta,ts FROM audit_log
	WHERE child_id = ANY($1) ORDER BY ts DESC LIMIT $2`
	return st.queryAudit(ctx, sqlStmt, childIds, limit)
}

func (st *Store) queryAudit(ctx context.Context, sqlStmt string, args ...interface{}) ([]model.AuditEntry, error) {
	rows, err := st.db.Query(ctx, sqlStmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		e := model.AuditEntry{}
		var meta []byte
		err := rows.Scan(&e.Id, &e.ActorId, &e.ActorRole, &e.ChildId, &e.Action, &meta, &e.Ts)
		if err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				st.log.Warn().Err(err).Int64("id", e.Id).Msg("bad audit meta json")
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (st *Store) DeleteAuditFor(ctx context.Context, userId string) error {
	_, err := st.db.Exec(ctx, `DELETE FROM audit_log WHERE actor_id = $1 OR child_id = $1`, userId)
	return err
}
