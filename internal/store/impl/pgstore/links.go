package pgstore

import (
	"context"

	"github.com/jackc/pgx/v4"
	"safehome.dev/backend/internal/model"
	"safehome.dev/backend/internal/util"
)

const linkColumns = `id,parent_id,child_id,status,created_at,updated_at`

func scanLink(row pgx.Row) (*model.Link, error) {
	l := &model.Link{}
	err := row.Scan(&l.Id, &l.ParentId, &l.ChildId, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

func (st *Store) UpsertPending(ctx context.Context, parentId, childId string) (*model.Link, error) {
	sqlStmt := `INSERT INTO parent_child_link (id,parent_id,child_id,status,created_at,updated_at)
	VALUES ($1,$2,$3,'PENDING',now(),now())
	ON CONFLICT (parent_id,child_id)
	DO UPDATE SET status = 'PENDING', updated_at = now()
	RETURNING ` + linkColumns
	return scanLink(st.db.QueryRow(ctx, sqlStmt, util.GenUUID(), parentId, childId))
}

func (st *Store) UpdateStatus(ctx context.Context, linkId, childId, from, to string) (*model.Link, error) {
	sqlStmt := `UPDATE parent_child_link SET status = $1, updated_at = now()
	WHERE id = $2 AND child_id = $3 AND status = $4
	RETURNING ` + linkColumns
	return scanLink(st.db.QueryRow(ctx, sqlStmt, to, linkId, childId, from))
}

func (st *Store) UpdateStatusByPair(ctx context.Context, parentId, childId, from, to string) (bool, error) {
	sqlStmt := `UPDATE parent_child_link SET status = $1, updated_at = now()
	WHERE parent_id = $2 AND child_id = $3 AND status = $4`
	ct, err := st.db.Exec(ctx, sqlStmt, to, parentId, childId, from)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (st *Store) ForParent(ctx context.Context, parentId, status string) ([]model.Link, error) {
	if status != "" {
		sqlStmt := `SELECT ` + linkColumns + ` FROM parent_child_link WHERE parent_id = $1 AND status = $2 ORDER BY updated_at DESC`
		return st.queryLinks(ctx, sqlStmt, parentId, status)
	}
	sqlStmt := `SELECT ` + linkColumns + ` FROM parent_child_link WHERE parent_id = $1 ORDER BY updated_at DESC`
	return st.queryLinks(ctx, sqlStmt, parentId)
}

func (st *Store) ForChild(ctx context.Context, childId, status string) ([]model.Link, error) {
	if status != "" {
		sqlStmt := `SELECT ` + linkColumns + ` FROM parent_child_link WHERE child_id = $1 AND status = $2 ORDER BY updated_at DESC`
		return st.queryLinks(ctx, sqlStmt, childId, status)
	}
	sqlStmt := `SELECT ` + linkColumns + ` FROM parent_child_link WHERE child_id = $1 ORDER BY updated_at DESC`
	return st.queryLinks(ctx, sqlStmt, childId)
}

func (st *Store) queryLinks(ctx context.Context, sqlStmt string, args ...interface{}) ([]model.Link, error) {
	rows, err := st.db.Query(ctx, sqlStmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	links := make([]model.Link, 0)
	for rows.Next() {
		l := model.Link{}
		err := rows.Scan(&l.Id, &l.ParentId, &l.ChildId, &l.Status, &l.CreatedAt, &l.UpdatedAt)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (st *Store) HasStatus(ctx context.Context, parentId, childId, status string) (bool, error) {
	sqlStmt := `SELECT EXISTS (SELECT 1 FROM parent_child_link WHERE parent_id = $1 AND child_id = $2 AND status = $3)`
	var ok bool
	err := st.db.QueryRow(ctx, sqlStmt, parentId, childId, status).Scan(&ok)
	return ok, err
}

func (st *Store) DeleteLinksFor(ctx context.Context, userId string) error {
	_, err := st.db.Exec(ctx, `DELETE FROM parent_child_link WHERE parent_id = $1 OR child_id = $1`, userId)
	return err
}
