package database

import (
	"context"
	"database/sql"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

// Querier is the statement surface shared by DB and Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	Rebind(query string) string
}

type DB interface {
	Querier
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	Close() error
	DriverName() string
	PingContext(ctx context.Context) error
	SetMaxOpenConns(n int)
	SetMaxIdleConns(n int)
	Stats() sql.DBStats
	Unwrap() *sqlx.DB

	// Flavor is the SQL dialect repositories must build statements for.
	Flavor() sqlbuilder.Flavor
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
}

type DatabaseInstance struct {
	*sqlx.DB
	logger ectologger.Logger
	flavor sqlbuilder.Flavor
}

func NewDatabaseInstance(db *sqlx.DB, logger ectologger.Logger) DB {
	return &DatabaseInstance{
		DB:     db,
		logger: logger,
		flavor: FlavorFor(db.DriverName()),
	}
}

func (db *DatabaseInstance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return GetTx(ctx, db.logger, db, opts)
}

func (db *DatabaseInstance) Flavor() sqlbuilder.Flavor {
	return db.flavor
}

func (db *DatabaseInstance) Unwrap() *sqlx.DB {
	return db.DB
}

// FlavorFor maps a database/sql driver name to a go-sqlbuilder flavor.
func FlavorFor(driverName string) sqlbuilder.Flavor {
	switch driverName {
	case DriverSQLite:
		return sqlbuilder.SQLite
	default:
		return sqlbuilder.PostgreSQL
	}
}

// Conn returns the transaction carried by ctx, or db when there is none.
// Repositories run every statement through it so callers can group writes.
func Conn(ctx context.Context, db DB) Querier {
	if tx, ok := ctx.Value(txKey).(Tx); ok && tx != nil && tx.IsOpen() {
		return tx
	}
	return db
}
