package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"safehome.dev/backend/internal/apperr"
	"safehome.dev/backend/internal/model"
)

const userColumns = `id,name,email,password_hash,role,consent_given,consent_text_version,consent_at,created_at,updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.Id, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
		&u.ConsentGiven, &u.ConsentTextVersion, &u.ConsentAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (st *Store) CreateUser(ctx context.Context, u *model.User) error {
	sqlStmt := `INSERT INTO "user" (id,name,email,password_hash,role,consent_given,created_at)
	VALUES ($1,$2,$3,$4,$5,false,now()) RETURNING consent_given,created_at`
	err := st.db.QueryRow(ctx, sqlStmt, u.Id, u.Name, u.Email, u.PasswordHash, u.Role).
		Scan(&u.ConsentGiven, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return apperr.Conflict("email already registered")
		}
		return err
	}
	return nil
}

func (st *Store) UserById(ctx context.Context, id string) (*model.User, error) {
	sqlStmt := `SELECT ` + userColumns + ` FROM "user" WHERE id = $1`
	return scanUser(st.db.QueryRow(ctx, sqlStmt, id))
}

func (st *Store) UserByEmail(ctx context.Context, email string, role string) (*model.User, error) {
	if role != "" {
		sqlStmt := `SELECT ` + userColumns + ` FROM "user" WHERE lower(email) = lower($1) AND role = $2`
		return scanUser(st.db.QueryRow(ctx, sqlStmt, email, role))
	}
	sqlStmt := `SELECT ` + userColumns + ` FROM "user" WHERE lower(email) = lower($1)`
	return scanUser(st.db.QueryRow(ctx, sqlStmt, email))
}

func (st *Store) UsersByIds(ctx context.Context, ids []string) ([]model.User, error) {
	sqlStmt := `SELECT ` + userColumns + ` FROM "user" WHERE id = ANY($1)`
	rows, err := st.db.Query(ctx, sqlStmt, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := make([]model.User, 0, len(ids))
	for rows.Next() {
		u := model.User{}
		err := rows.Scan(&u.Id, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
			&u.ConsentGiven, &u.ConsentTextVersion, &u.ConsentAt, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (st *Store) SetConsent(ctx context.Context, childId string, given bool, textVersion *string, at *time.Time) error {
	sqlStmt := `UPDATE "user" SET consent_given = $1, consent_text_version = $2, consent_at = $3, updated_at = now()
	WHERE id = $4 AND role = 'child'`
	ct, err := st.db.Exec(ctx, sqlStmt, given, textVersion, at, childId)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("child account not found")
	}
	return nil
}

func (st *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := st.db.Exec(ctx, `DELETE FROM "user" WHERE id = $1`, id)
	return err
}
