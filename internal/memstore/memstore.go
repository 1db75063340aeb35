// Package memstore is an in-memory implementation of the import store. Transactions are serialized
// and a failed transaction restores the state it started from.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/registry"
)

type txKey struct{}

type stagedRow struct {
	JobID     uuid.UUID
	Processed bool
	Row       registry.StagedRow
}

// Version is one physical row of a versioned table.
type Version struct {
	Identity         string
	EntityType       models.EntityType
	Record           registry.Record
	SnapshotDate     string
	ExtractNumber    int
	IsCurrent        bool
	DeletedAtExtract *int
	PrimaryName      string
	NameLanguage     *string
}

type state struct {
	jobs     map[uuid.UUID]models.ImportJob
	batches  map[models.BatchRef]models.Batch
	staging  map[string][]stagedRow
	temporal map[string][]Version
}

func newState() *state {
	return &state{
		jobs:     map[uuid.UUID]models.ImportJob{},
		batches:  map[models.BatchRef]models.Batch{},
		staging:  map[string][]stagedRow{},
		temporal: map[string][]Version{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.staging {
		c.staging[k] = append([]stagedRow(nil), v...)
	}
	for k, v := range s.temporal {
		c.temporal[k] = append([]Version(nil), v...)
	}
	return c
}

// Store holds every table in memory.
type Store struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	state *state

	faults map[string]error

	scopeMu    sync.Mutex
	scopes     int
	openScopes int

	// Now is the clock used for timestamps.
	Now func() time.Time
}

func New() *Store {
	return &Store{
		state:  newState(),
		faults: map[string]error{},
		Now:    time.Now,
	}
}

// Repositories returns a repository bundle backed by the store.
func (s *Store) Repositories() *repositories.Store {
	return &repositories.Store{
		Scoper:   s,
		Jobs:     &Jobs{s: s},
		Batches:  &Batches{s: s},
		Staging:  &Staging{s: s},
		Temporal: &Temporal{s: s},
	}
}

func (s *Store) Scope(ctx context.Context, fn func(ctx context.Context) error) error {
	s.scopeMu.Lock()
	s.scopes++
	s.openScopes++
	s.scopeMu.Unlock()

	defer func() {
		s.scopeMu.Lock()
		s.openScopes--
		s.scopeMu.Unlock()
	}()
	return fn(ctx)
}

// Scopes reports how many scopes were acquired and how many are still open.
func (s *Store) Scopes() (acquired, open int) {
	s.scopeMu.Lock()
	defer s.scopeMu.Unlock()
	return s.scopes, s.openScopes
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// FailOn makes the named operation ("temporal.insert", "batches.complete", ...) return err until
// ClearFaults is called.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = map[string]error{}
}

// do runs fn under the state lock. Outside a transaction it also waits for running transactions.
func (s *Store) do(ctx context.Context, op string, fn func(st *state) error) error {
	if ctx.Value(txKey{}) == nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.faults[op]; err != nil {
		return err
	}
	return fn(s.state)
}

// Versions returns a copy of every physical row of a store table.
func (s *Store) Versions(table string) []Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Version(nil), s.state.temporal[table]...)
}

// Current returns the current rows of a store table for an identity.
func (s *Store) Current(table, identity string) []Version {
	var out []Version
	for _, v := range s.Versions(table) {
		if v.Identity == identity && v.IsCurrent {
			out = append(out, v)
		}
	}
	return out
}

// StagedCount returns how many staged rows a job has in a store table.
func (s *Store) StagedCount(table string, jobID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.state.staging[table] {
		if r.JobID == jobID {
			n++
		}
	}
	return n
}
