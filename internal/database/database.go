package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Niiaks/Patron/internal/config"
	loggerPkg "github.com/Niiaks/Patron/internal/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

// Querier is the subset of pgxpool.Pool used by repositories. pgx.Tx satisfies it as well,
// so repository methods can run inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Database struct {
	Pool *pgxpool.Pool
	log  *zerolog.Logger
}

func New(cfg *config.Config, logger *zerolog.Logger, ls *loggerPkg.LoggerService) (*Database, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	poolCfg.MaxConnLifetime = time.Duration(cfg.Database.ConnMaxLifetime) * time.Second
	poolCfg.MaxConnIdleTime = time.Duration(cfg.Database.ConnMaxIdleTime) * time.Second

	level := loggerPkg.ParseLevel(cfg.Observability.GetLogLevel())
	poolCfg.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   &queryLogger{log: logger.With().Str("component", "database").Logger(), slow: cfg.Observability.Logging.SlowQueryThreshold},
		LogLevel: TraceLogLevel(level),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.Name).Msg("Connected to Postgres successfully")

	return &Database{Pool: pool, log: logger}, nil
}

func (d *Database) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

func (d *Database) Close() {
	d.log.Info().Msg("Closing database connection pool")
	d.Pool.Close()
}

// WithTx runs fn inside a transaction, committing on success and rolling back otherwise.
func WithTx(ctx context.Context, db Querier, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TraceLogLevel converts a zerolog level to a pgx tracelog level
func TraceLogLevel(level zerolog.Level) tracelog.LogLevel {
	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return tracelog.LogLevelDebug
	case zerolog.InfoLevel:
		return tracelog.LogLevelInfo
	case zerolog.WarnLevel:
		return tracelog.LogLevelWarn
	case zerolog.ErrorLevel:
		return tracelog.LogLevelError
	default:
		return tracelog.LogLevelNone
	}
}

// queryLogger adapts zerolog to pgx's tracelog.Logger and promotes slow queries to warnings.
type queryLogger struct {
	log  zerolog.Logger
	slow time.Duration
}

func (l *queryLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	event := l.log.Debug()
	switch level {
	case tracelog.LogLevelError:
		event = l.log.Error()
	case tracelog.LogLevelWarn:
		event = l.log.Warn()
	case tracelog.LogLevelInfo:
		event = l.log.Info()
	}

	if d, ok := data["time"].(time.Duration); ok && l.slow > 0 && d >= l.slow {
		event = l.log.Warn().Bool("slow", true)
	}

	for k, v := range data {
		if s, ok := v.(string); ok && k == "sql" && len(s) > 200 {
			v = s[:200] + "..."
		}
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
