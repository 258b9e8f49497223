// Package pgstore implements the store interfaces on Postgres via pgx.
package pgstore

import (
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
)

type Store struct {
	db  *pgxpool.Pool
	log log.Logger
}

func New(db *pgxpool.Pool) *Store {
	st := &Store{}
	st.db = db
	st.log = log.DefaultLogger
	st.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	return st
}
