package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Bafix001/zibridge/pkg/database"
)

// Repository carries the store handle shared by the metadata repositories.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the database instance
func (r *Repository) DB() database.DB {
	return r.db
}

// conn joins the transaction carried by ctx when there is one.
func (r *Repository) conn(ctx context.Context) database.Querier {
	return database.Conn(ctx, r.db)
}

// chunk splits n rows into [start, end) windows of at most size rows.
func chunk(n, size int, fn func(start, end int) error) error {
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}
