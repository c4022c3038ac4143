package buffer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/logasync/eventlog/internal/constants"
	"github.com/logasync/eventlog/internal/logstats"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS event (
		event_id        INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		event_text      TEXT NOT NULL,
		pending_delete  INTEGER NOT NULL,
		entry_date      TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_pending_delete ON event (pending_delete);`,
	`CREATE INDEX IF NOT EXISTS idx_entry_date ON event (entry_date);`,
}

// DatabaseCache is the durable buffer variant: events persist to a SQLite
// file via the pure-Go modernc.org/sqlite driver, surviving process
// restarts. Grounded on original_source/log_async/database.py, with one
// deliberate behavior change the source lacks: on Open, any row left
// in-flight (pending_delete=1) by an unclean shutdown is reverted to
// buffered.
type DatabaseCache struct {
	path     string
	db       *sql.DB
	eventTTL time.Duration
	maxSize  int
	overflow OverflowFunc
	logger   *slog.Logger

	stats      *logstats.Bundle
	fileBytes  *logstats.Value
	lockErrors *logstats.Value
}

// DatabaseCacheOption configures a DatabaseCache at construction.
type DatabaseCacheOption func(*DatabaseCache)

// WithDatabaseTTL sets the event expiry duration. Zero disables expiry.
func WithDatabaseTTL(ttl time.Duration) DatabaseCacheOption {
	return func(d *DatabaseCache) { d.eventTTL = ttl }
}

// WithDatabaseMaxSize sets the overflow threshold. Zero disables it.
func WithDatabaseMaxSize(n int, overflow OverflowFunc) DatabaseCacheOption {
	return func(d *DatabaseCache) {
		d.maxSize = n
		d.overflow = overflow
	}
}

// WithDatabaseLogger sets the logger used for warnings and diagnostics.
func WithDatabaseLogger(logger *slog.Logger) DatabaseCacheOption {
	return func(d *DatabaseCache) { d.logger = logger }
}

// OpenDatabaseCache opens (creating if necessary) the SQLite file at path,
// applies the schema, reverts any in-flight events left over from an
// unclean shutdown back to buffered, and returns a ready Cache.
func OpenDatabaseCache(ctx context.Context, path string, opts ...DatabaseCacheOption) (*DatabaseCache, error) {
	d := &DatabaseCache{
		path:   path,
		logger: slog.Default(),
		stats:  logstats.NewBundle(constants.DatabaseStatsPrefix),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.fileBytes = logstats.NewValue(constants.DatabaseStatsPrefix + "file_bytes")
	d.lockErrors = logstats.NewValue(constants.DatabaseStatsPrefix + "lock_errors_total")
	d.stats.Extend(d.fileBytes, d.lockErrors)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("buffer: open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // EXCLUSIVE isolation, matching the source's single-connection model

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", constants.DatabaseTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("buffer: set busy_timeout: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("buffer: apply schema: %w", err)
		}
	}

	d.db = db

	if _, err := db.ExecContext(ctx, "UPDATE event SET pending_delete = 0 WHERE pending_delete = 1;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("buffer: revert in-flight events on open: %w", err)
	}

	return d, nil
}

func (d *DatabaseCache) AddEvent(ctx context.Context, payload []byte) error {
	d.stats.Event(1)

	if d.maxSize > 0 {
		var buffered int64
		row := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event WHERE pending_delete = 0;")
		if err := row.Scan(&buffered); err != nil {
			return d.classify(err)
		}
		if buffered >= int64(d.maxSize) {
			d.stats.Discard(1)
			safeOverflow(d.overflow, payload)
			return nil
		}
	}

	_, err := d.db.ExecContext(ctx,
		"INSERT INTO event (event_text, pending_delete, entry_date) VALUES (?, 0, datetime('now'));",
		string(payload))
	if err != nil {
		return d.classify(err)
	}
	d.stats.Buffer(1)
	return nil
}

// GetQueuedEvents reads every buffered row and flips it to in-flight in a
// single transaction, matching the source's "with self._connect() as
// connection:" single-connection, single-transaction read+update and this
// package's own Cache contract ("atomically reads every buffered event,
// flips each to in-flight"). A failure partway through the chunked UPDATE
// rolls the whole transaction back instead of leaving earlier chunks
// stuck at pending_delete=1 with no buffered or in-flight read path back
// to them.
func (d *DatabaseCache) GetQueuedEvents(ctx context.Context) ([]Event, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, d.classify(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT event_id, event_text, entry_date FROM event WHERE pending_delete = 0 ORDER BY event_id;")
	if err != nil {
		return nil, d.classify(err)
	}

	var events []Event
	var ids []int64
	for rows.Next() {
		var id int64
		var text, entryDate string
		if err := rows.Scan(&id, &text, &entryDate); err != nil {
			rows.Close()
			return nil, d.classify(err)
		}
		ts, _ := time.Parse("2006-01-02 15:04:05", entryDate)
		events = append(events, Event{ID: strconv.FormatInt(id, 10), Payload: []byte(text), EntryDate: ts})
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, d.classify(err)
	}
	rows.Close()

	if _, err := d.bulkSetPendingDeleteIn(ctx, tx, ids, true); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, d.classify(err)
	}

	d.stats.Unbuffer(int64(len(events)))
	return events, nil
}

func (d *DatabaseCache) RequeueQueuedEvents(ctx context.Context, events []Event) error {
	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		id, err := strconv.ParseInt(ev.ID, 10, 64)
		if err != nil {
			d.logger.Warn("buffer: requeue given a non-integer event id, skipping", "event_id", ev.ID)
			continue
		}
		ids = append(ids, id)
	}

	n, err := d.bulkSetPendingDelete(ctx, ids, false)
	if err != nil {
		return err
	}
	if n < int64(len(ids)) {
		d.logger.Warn("buffer: could not requeue some events, not in cache", "requested", len(ids), "requeued", n)
	}
	if n > 0 {
		d.stats.Buffer(n)
	}
	return nil
}

func (d *DatabaseCache) DeleteQueuedEvents(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM event WHERE pending_delete = 1;")
	if err != nil {
		return d.classify(err)
	}
	return nil
}

func (d *DatabaseCache) ExpireEvents(ctx context.Context) error {
	if d.eventTTL <= 0 {
		return nil
	}
	seconds := int(d.eventTTL.Seconds())
	query := fmt.Sprintf("DELETE FROM event WHERE entry_date < datetime('now', '-%d seconds');", seconds)

	result, err := d.db.ExecContext(ctx, query)
	if err != nil {
		return d.classify(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return d.classify(err)
	}
	if n > 0 {
		d.stats.Discard(n)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting
// bulkSetPendingDeleteIn run its chunked UPDATEs either standalone or as
// part of a caller-managed transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// bulkSetPendingDelete sets pending_delete for the given event IDs, chunked
// to stay under SQLite's per-statement variable limit, matching the source's
// ichunked-based _bulk_update_events. All chunks commit as one transaction:
// a failure partway through rolls every chunk back rather than leaving
// earlier chunks applied and later ones not.
func (d *DatabaseCache) bulkSetPendingDelete(ctx context.Context, ids []int64, value bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, d.classify(err)
	}
	defer tx.Rollback()

	total, err := d.bulkSetPendingDeleteIn(ctx, tx, ids, value)
	if err != nil {
		return total, err
	}
	if err := tx.Commit(); err != nil {
		return total, d.classify(err)
	}
	return total, nil
}

// bulkSetPendingDeleteIn is bulkSetPendingDelete's chunked-UPDATE core,
// taking an execer so callers that already hold a transaction (such as
// GetQueuedEvents) can run it inside that transaction instead of opening
// their own.
func (d *DatabaseCache) bulkSetPendingDeleteIn(ctx context.Context, q execer, ids []int64, value bool) (int64, error) {
	flag := 0
	if value {
		flag = 1
	}

	var total int64
	for _, chunk := range chunkIDs(ids, constants.DatabaseEventChunkSize) {
		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)+1)
		args = append(args, flag)
		for i, id := range chunk {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query := fmt.Sprintf("UPDATE event SET pending_delete = ? WHERE event_id IN (%s);",
			strings.Join(placeholders, ","))

		result, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return total, d.classify(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, d.classify(err)
		}
		total += n
	}
	return total, nil
}

// chunkIDs splits ids into slices of at most size elements each.
func chunkIDs(ids []int64, size int) [][]int64 {
	if size <= 0 {
		return [][]int64{ids}
	}
	var chunks [][]int64
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

// classify detects SQLite "database is locked" errors and maps them to
// ErrBufferLocked, counting a lock_errors_total occurrence the way the
// source's _handle_sqlite_error re-raises DatabaseLockedError.
func (d *DatabaseCache) classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
		d.lockErrors.Inc(1)
		return fmt.Errorf("%w: %v", ErrBufferLocked, err)
	}
	return fmt.Errorf("buffer: %w", err)
}

func (d *DatabaseCache) GetStats() []logstats.Snapshot {
	if info, err := os.Stat(d.path); err == nil {
		d.fileBytes.Set(info.Size())
	}
	return d.stats.GetStats()
}

func (d *DatabaseCache) Close() error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

var _ Cache = (*DatabaseCache)(nil)
