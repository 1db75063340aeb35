package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Querier is the statement capability shared by the pool, a scoped connection and a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Scoper runs a unit of work against a scoped store handle.
type Scoper interface {
	// Scope acquires a dedicated connection for fn and releases it on every exit path.
	Scope(ctx context.Context, fn func(ctx context.Context) error) error
	// InTx runs fn inside a transaction. Nested calls join the outer transaction.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type DB interface {
	Querier
	Scoper
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	Connx(ctx context.Context) (*sqlx.Conn, error)
	PingContext(ctx context.Context) error
	Close() error
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
	Unwrap() *sqlx.DB
}

type ConnectionConfig struct {
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c ConnectionConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type DatabaseInstance struct {
	*sqlx.DB
	logger ectologger.Logger
}

func NewDatabaseInstance(db *sqlx.DB, logger ectologger.Logger) DB {
	return &DatabaseInstance{
		DB:     db,
		logger: logger,
	}
}

// Connect opens and pings a pooled connection.
func Connect(ctx context.Context, cfg ConnectionConfig, logger ectologger.Logger) (DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sqlx.ConnectContext(ctx, driver, cfg.DSN())
	if err != nil {
		logger.WithError(err).WithFields(map[string]any{
			"host": cfg.Host,
			"name": cfg.Name,
		}).Error("failed to connect to database")
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Infof("Connected to database %s at %s:%s", cfg.Name, cfg.Host, cfg.Port)
	return NewDatabaseInstance(db, logger), nil
}

func (db *DatabaseInstance) Unwrap() *sqlx.DB {
	return db.DB
}

func (db *DatabaseInstance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return GetTx(ctx, db.logger, db, opts)
}

func (db *DatabaseInstance) Scope(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(connKey).(*sqlx.Conn); ok {
		return fn(ctx)
	}

	conn, err := db.Connx(ctx)
	if err != nil {
		db.logger.WithContext(ctx).WithError(err).Error("error while acquiring connection")
		return fmt.Errorf("error while acquiring connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			db.logger.WithContext(ctx).WithError(cerr).Warn("error while releasing connection")
		}
	}()

	return fn(context.WithValue(ctx, connKey, conn))
}

func (db *DatabaseInstance) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(txKey).(Tx); ok && tx.IsOpen() {
		return fn(ctx)
	}

	ctx, tx, err := db.GetTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			db.logger.WithContext(ctx).WithError(rbErr).Warn("rollback after failed unit of work")
		}
		return err
	}

	return tx.Commit(ctx)
}

// Executor returns the transaction or scoped connection carried by ctx, falling back to q.
func Executor(ctx context.Context, q Querier) Querier {
	if tx, ok := ctx.Value(txKey).(Tx); ok && tx.IsOpen() {
		return tx
	}
	if conn, ok := ctx.Value(connKey).(*sqlx.Conn); ok && conn != nil {
		return conn
	}
	return q
}
