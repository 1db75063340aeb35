// Package repositories holds the Postgres implementations of the import store.
package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
)

// Repository carries the handle and logger shared by every repository.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the transaction or scoped connection on ctx, falling back to the pool.
func (r *Repository) DB(ctx context.Context) database.Querier {
	return database.Executor(ctx, r.db)
}

// Store bundles every repository over one database handle.
type Store struct {
	database.Scoper
	Jobs     JobRepo
	Batches  BatchRepo
	Staging  StagingRepo
	Temporal TemporalRepo
}

func NewStore(db database.DB, logger ectologger.Logger) *Store {
	return &Store{
		Scoper:   db,
		Jobs:     NewJobRepository(db, logger),
		Batches:  NewBatchRepository(db, logger),
		Staging:  NewStagingRepository(db, logger),
		Temporal: NewTemporalRepository(db, logger),
	}
}
