package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLExecutor is the query surface used by stores. Every query must start
// with a `--sql <uuid>` marker line so log lines can be traced back to it.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

// pool is the subset of *pgxpool.Pool the runner needs.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

	ErrSQLMarker = errors.New("sql marker missing or invalid")
)

type SQLRunner struct {
	pool   pool
	logger Logger
}

func NewSQLRunner(p pool, logger Logger) *SQLRunner {
	return &SQLRunner{pool: p, logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.pool.Exec(ctx, body, args...)
	event := r.logger.Debug()
	if err != nil {
		event = r.logger.Error().Err(err)
	}
	event.Str("sql", marker).
		Dur("took", time.Since(start)).
		Int64("rows", tag.RowsAffected()).
		Msg("sql: exec")
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return loggingRow{
		row:    r.pool.QueryRow(ctx, body, args...),
		logger: r.logger,
		marker: marker,
		start:  time.Now(),
	}
}

type loggingRow struct {
	row    pgx.Row
	logger Logger
	marker string
	start  time.Time
}

func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	event := l.logger.Debug()
	if err != nil && !IsNoRows(err) {
		event = l.logger.Error().Err(err)
	}
	event.Str("sql", l.marker).
		Dur("took", time.Since(l.start)).
		Bool("found", err == nil).
		Msg("sql: query row")
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func extractMarker(query string) (string, string, error) {
	first, rest, _ := strings.Cut(strings.TrimSpace(query), "\n")
	first = strings.TrimSpace(first)
	if !markerRegexp.MatchString(first) {
		return "", "", ErrSQLMarker
	}
	return strings.TrimPrefix(first, "--sql "), rest, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
