// Package storage provides DuckDB-backed durable persistence for
// captured signals. Every signal is written before any export attempt;
// batch state lives in the same database so crash recovery needs no
// separate journal.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
	"github.com/pulsekit/pulsekit/pkg/util"
)

func isoFromMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(util.ISO8601Format)
}

// Store provides persistent storage for events, spans, sessions,
// attachments, and batches using DuckDB.
type Store struct {
	db   *sql.DB
	path string
	log  *zap.Logger
}

// StoreConfig configures the store.
type StoreConfig struct {
	// Path is the database file path (":memory:" for in-memory)
	Path string

	// ReadOnly opens the database in read-only mode
	ReadOnly bool
}

// NewStore creates a store at the given path.
func NewStore(path string, log *zap.Logger) (*Store, error) {
	return NewStoreWithConfig(StoreConfig{Path: path}, log)
}

// NewStoreWithConfig creates a store with custom configuration.
func NewStoreWithConfig(cfg StoreConfig, log *zap.Logger) (*Store, error) {
	// go-duckdb treats an empty DSN as in-memory; ":memory:" would be
	// url-parsed and rejected.
	dsn := cfg.Path
	if dsn == ":memory:" {
		dsn = ""
	}
	if cfg.ReadOnly {
		dsn += "?access_mode=read_only"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageInit, "failed to open database").
			WithContext("path", cfg.Path)
	}

	store := &Store{db: db, path: cfg.Path, log: log}

	if !cfg.ReadOnly {
		if err := store.initSchema(); err != nil {
			db.Close()
			return nil, pkerrors.Wrap(err, pkerrors.CodeStorageInit, "failed to initialize schema")
		}
	}

	return store, nil
}

// initSchema creates the signal tables.
func (s *Store) initSchema() error {
	schema := `
		CREATE SEQUENCE IF NOT EXISTS event_seq;
		CREATE SEQUENCE IF NOT EXISTS span_seq;

		-- Captured events. seq preserves insertion order for batching.
		-- Rows are insert-only; batch membership lives in batch_members.
		CREATE TABLE IF NOT EXISTS events (
			id              VARCHAR PRIMARY KEY,
			seq             BIGINT DEFAULT nextval('event_seq'),
			session_id      VARCHAR NOT NULL,
			type            VARCHAR NOT NULL,
			timestamp       VARCHAR NOT NULL,
			timestamp_ms    BIGINT NOT NULL,
			user_triggered  BOOLEAN NOT NULL DEFAULT FALSE,
			thread_name     VARCHAR,
			data            VARCHAR,
			data_file_path  VARCHAR,
			attributes      VARCHAR,
			user_attributes VARCHAR
		);

		-- Ended spans awaiting export. Insert-only, like events.
		CREATE TABLE IF NOT EXISTS spans (
			span_id      VARCHAR PRIMARY KEY,
			seq          BIGINT DEFAULT nextval('span_seq'),
			trace_id     VARCHAR NOT NULL,
			parent_id    VARCHAR,
			session_id   VARCHAR NOT NULL,
			name         VARCHAR NOT NULL,
			status       INTEGER NOT NULL,
			start_time   BIGINT NOT NULL,
			end_time     BIGINT NOT NULL,
			duration     BIGINT NOT NULL,
			checkpoints  VARCHAR,
			attributes   VARCHAR,
			user_attributes VARCHAR
		);

		-- Sessions survive restarts for process-exit correlation. No
		-- unique index: activity and crash updates rewrite rows, and a
		-- DuckDB UPDATE on an indexed row re-checks the old key and
		-- fails with a spurious duplicate-key error. Ids are UUIDs.
		CREATE TABLE IF NOT EXISTS sessions (
			id              VARCHAR NOT NULL,
			created_at      BIGINT NOT NULL,
			last_event_time BIGINT NOT NULL DEFAULT 0,
			pid             INTEGER NOT NULL,
			app_version     VARCHAR,
			app_build       VARCHAR,
			crashed         BOOLEAN NOT NULL DEFAULT FALSE
		);

		-- Attachment metadata; blob bytes live in the file store.
		CREATE TABLE IF NOT EXISTS attachments (
			id        VARCHAR PRIMARY KEY,
			event_id  VARCHAR NOT NULL,
			name      VARCHAR NOT NULL,
			type      VARCHAR NOT NULL,
			file_path VARCHAR NOT NULL,
			size      BIGINT NOT NULL
		);

		-- Batches group signals for export; membership is immutable.
		CREATE TABLE IF NOT EXISTS batches (
			id         VARCHAR PRIMARY KEY,
			created_at BIGINT NOT NULL
		);

		-- Batch membership, insert-only. signal_id is an event id or a
		-- span id; the primary key makes a signal claimable exactly once.
		CREATE TABLE IF NOT EXISTS batch_members (
			signal_id VARCHAR PRIMARY KEY,
			batch_id  VARCHAR NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
		CREATE INDEX IF NOT EXISTS idx_members_batch ON batch_members(batch_id);
		CREATE INDEX IF NOT EXISTS idx_attachments_event ON attachments(event_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Write operations ---

// PutEvent persists an event and its attachment metadata in a single
// transaction. dataFilePath is non-empty when the payload was spilled to
// the file store instead of being inlined.
func (s *Store) PutEvent(ctx context.Context, ev *model.Event, dataFilePath string) error {
	attrs, err := json.Marshal(ev.Attributes)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeStorageWrite, "failed to encode attributes")
	}
	userAttrs, err := json.Marshal(ev.UserDefinedAttributes)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeStorageWrite, "failed to encode user attributes")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeStorageWrite, "failed to begin transaction")
	}
	defer tx.Rollback()

	data := ""
	if dataFilePath == "" {
		data = string(ev.Data)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, session_id, type, timestamp, timestamp_ms,
			user_triggered, thread_name, data, data_file_path, attributes, user_attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, string(ev.Type), ev.Timestamp, ev.TimestampMillis,
		ev.UserTriggered, ev.ThreadName, data, dataFilePath, string(attrs), string(userAttrs),
	)
	if err != nil {
		return pkerrors.StorageWrite("events", err).WithContext("event_id", ev.ID)
	}

	for _, att := range ev.Attachments {
		size := int64(len(att.Bytes))
		if att.Path != "" {
			if stat, err := os.Stat(att.Path); err == nil {
				size = stat.Size()
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attachments (id, event_id, name, type, file_path, size)
			VALUES (?, ?, ?, ?, ?, ?)`,
			att.ID, ev.ID, att.Name, att.Type, att.Path, size,
		)
		if err != nil {
			return pkerrors.StorageWrite("attachments", err).WithContext("attachment_id", att.ID)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET last_event_time = ? WHERE id = ? AND last_event_time < ?`,
		ev.TimestampMillis, ev.SessionID, ev.TimestampMillis,
	)
	if err != nil {
		return pkerrors.StorageWrite("sessions", err)
	}

	if err := tx.Commit(); err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeStorageWrite, "failed to commit event")
	}
	return nil
}

// PutSpan persists an ended span.
func (s *Store) PutSpan(ctx context.Context, sp *model.SpanData) error {
	attrs, err := json.Marshal(sp.Attributes)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeStorageWrite, "failed to encode span attributes")
	}
	userAttrs, err := json.Marshal(sp.UserDefinedAttrs)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeStorageWrite, "failed to encode span user attributes")
	}
	checkpoints, err := json.Marshal(sp.Checkpoints)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeStorageWrite, "failed to encode checkpoints")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO spans (span_id, trace_id, parent_id, session_id, name, status,
			start_time, end_time, duration, checkpoints, attributes, user_attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.SpanID, sp.TraceID, sp.ParentID, sp.SessionID, sp.Name, int(sp.Status),
		sp.StartTime, sp.EndTime, sp.Duration, string(checkpoints), string(attrs), string(userAttrs),
	)
	if err != nil {
		return pkerrors.StorageWrite("spans", err).WithContext("span_id", sp.SpanID)
	}
	return nil
}

// PutSession persists a new session.
func (s *Store) PutSession(ctx context.Context, sess *model.SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, last_event_time, pid, app_version, app_build, crashed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CreatedAt, sess.LastEventTime, sess.PID,
		sess.AppVersion, sess.AppBuild, sess.Crashed,
	)
	if err != nil {
		return pkerrors.StorageWrite("sessions", err).WithContext("session_id", sess.ID)
	}
	return nil
}

// MarkSessionCrashed flags a session as crashed.
func (s *Store) MarkSessionCrashed(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET crashed = TRUE WHERE id = ?`, sessionID)
	if err != nil {
		return pkerrors.StorageWrite("sessions", err).WithContext("session_id", sessionID)
	}
	return nil
}

// --- Batching operations ---

// UnbatchedSignals returns up to maxEvents un-batched events in insertion
// order, plus all un-batched spans, stopping event selection once the
// accumulated attachment size would exceed maxAttachmentBytes.
func (s *Store) UnbatchedSignals(ctx context.Context, maxEvents int, maxAttachmentBytes int64) (eventIDs []string, spanIDs []string, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, COALESCE(SUM(a.size), 0) AS attachment_size
		FROM events e
		LEFT JOIN attachments a ON a.event_id = e.id
		WHERE NOT EXISTS (SELECT 1 FROM batch_members m WHERE m.signal_id = e.id)
		GROUP BY e.id, e.seq
		ORDER BY e.seq
		LIMIT ?`, maxEvents)
	if err != nil {
		return nil, nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to query unbatched events")
	}
	defer rows.Close()

	var attachmentTotal int64
	for rows.Next() {
		var id string
		var attachmentSize int64
		if err := rows.Scan(&id, &attachmentSize); err != nil {
			return nil, nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to scan unbatched event")
		}
		if attachmentTotal+attachmentSize > maxAttachmentBytes && attachmentSize > 0 {
			break
		}
		attachmentTotal += attachmentSize
		eventIDs = append(eventIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to iterate unbatched events")
	}

	spanRows, err := s.db.QueryContext(ctx, `
		SELECT s.span_id FROM spans s
		WHERE NOT EXISTS (SELECT 1 FROM batch_members m WHERE m.signal_id = s.span_id)
		ORDER BY s.seq`)
	if err != nil {
		return nil, nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to query unbatched spans")
	}
	defer spanRows.Close()

	for spanRows.Next() {
		var id string
		if err := spanRows.Scan(&id); err != nil {
			return nil, nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to scan unbatched span")
		}
		spanIDs = append(spanIDs, id)
	}
	if err := spanRows.Err(); err != nil {
		return nil, nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to iterate unbatched spans")
	}

	return eventIDs, spanIDs, nil
}

// UnbatchedSessionEvents returns every un-batched event belonging to one
// session, in insertion order. Used on the crash path where all pending
// session signals ship in one batch.
func (s *Store) UnbatchedSessionEvents(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id FROM events e
		WHERE e.session_id = ?
		  AND NOT EXISTS (SELECT 1 FROM batch_members m WHERE m.signal_id = e.id)
		ORDER BY e.seq`,
		sessionID)
	if err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to query session events")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to scan session event")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertBatch atomically records a batch and assigns its members. Either
// the batch row and every membership row land, or none do. Signals
// already claimed by another batch cause the whole insert to fail.
// Assignment never rewrites a signal row: membership is an insert into
// batch_members, so the primary keys on events and spans stay out of
// the write path.
func (s *Store) InsertBatch(ctx context.Context, batch *model.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeBatchCreation, "failed to begin batch transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (id, created_at) VALUES (?, ?)`,
		batch.ID, batch.CreatedAt); err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeBatchCreation, "failed to insert batch").
			WithContext("batch_id", batch.ID)
	}

	for _, id := range batch.EventIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO batch_members (signal_id, batch_id)
			SELECT e.id, ? FROM events e
			WHERE e.id = ?
			  AND NOT EXISTS (SELECT 1 FROM batch_members m WHERE m.signal_id = e.id)`,
			batch.ID, id)
		if err != nil {
			return pkerrors.Wrap(err, pkerrors.CodeBatchCreation, "failed to assign event").
				WithContext("event_id", id)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return pkerrors.New(pkerrors.CodeBatchCreation, "event already batched or missing").
				WithContext("event_id", id)
		}
	}

	for _, id := range batch.SpanIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO batch_members (signal_id, batch_id)
			SELECT s.span_id, ? FROM spans s
			WHERE s.span_id = ?
			  AND NOT EXISTS (SELECT 1 FROM batch_members m WHERE m.signal_id = s.span_id)`,
			batch.ID, id)
		if err != nil {
			return pkerrors.Wrap(err, pkerrors.CodeBatchCreation, "failed to assign span").
				WithContext("span_id", id)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return pkerrors.New(pkerrors.CodeBatchCreation, "span already batched or missing").
				WithContext("span_id", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeBatchCreation, "failed to commit batch")
	}
	return nil
}

// ExistingBatches returns all batches in creation order, oldest first.
func (s *Store) ExistingBatches(ctx context.Context) ([]*model.Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at FROM batches ORDER BY created_at, id`)
	if err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to query batches")
	}
	defer rows.Close()

	var batches []*model.Batch
	for rows.Next() {
		var b model.Batch
		if err := rows.Scan(&b.ID, &b.CreatedAt); err != nil {
			return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to scan batch")
		}
		batches = append(batches, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to iterate batches")
	}

	for _, b := range batches {
		if err := s.fillBatchMembers(ctx, b); err != nil {
			return nil, err
		}
	}
	return batches, nil
}

func (s *Store) fillBatchMembers(ctx context.Context, b *model.Batch) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id FROM events e
		JOIN batch_members m ON m.signal_id = e.id
		WHERE m.batch_id = ? ORDER BY e.seq`, b.ID)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to query batch events")
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to scan batch event")
		}
		b.EventIDs = append(b.EventIDs, id)
	}
	if err := rows.Err(); err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to iterate batch events")
	}

	spanRows, err := s.db.QueryContext(ctx, `
		SELECT s.span_id FROM spans s
		JOIN batch_members m ON m.signal_id = s.span_id
		WHERE m.batch_id = ? ORDER BY s.seq`, b.ID)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to query batch spans")
	}
	defer spanRows.Close()
	for spanRows.Next() {
		var id string
		if err := spanRows.Scan(&id); err != nil {
			return pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to scan batch span")
		}
		b.SpanIDs = append(b.SpanIDs, id)
	}
	return spanRows.Err()
}

// --- Read operations for export ---

// EventPackets loads export-ready projections for the given event ids.
func (s *Store) EventPackets(ctx context.Context, eventIDs []string) ([]*model.EventPacket, error) {
	packets := make([]*model.EventPacket, 0, len(eventIDs))
	for _, id := range eventIDs {
		var p model.EventPacket
		var typ string
		err := s.db.QueryRowContext(ctx, `
			SELECT id, session_id, type, timestamp, user_triggered,
				data, data_file_path, attributes, user_attributes
			FROM events WHERE id = ?`, id).Scan(
			&p.EventID, &p.SessionID, &typ, &p.Timestamp, &p.UserTriggered,
			&p.SerializedData, &p.SerializedDataFilePath,
			&p.SerializedAttributes, &p.SerializedUserAttrs,
		)
		if err != nil {
			return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to load event packet").
				WithContext("event_id", id)
		}
		p.Type = model.EventType(typ)

		atts, err := s.AttachmentPackets(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(atts) > 0 {
			meta, err := json.Marshal(atts)
			if err != nil {
				return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to encode attachment metadata")
			}
			p.SerializedAttachments = string(meta)
		}
		packets = append(packets, &p)
	}
	return packets, nil
}

// SpanPackets loads export-ready projections for the given span ids.
func (s *Store) SpanPackets(ctx context.Context, spanIDs []string) ([]*model.SpanPacket, error) {
	packets := make([]*model.SpanPacket, 0, len(spanIDs))
	for _, id := range spanIDs {
		var p model.SpanPacket
		var checkpoints, attrs, userAttrs string
		var startMs, endMs int64
		err := s.db.QueryRowContext(ctx, `
			SELECT span_id, trace_id, COALESCE(parent_id, ''), session_id, name, status,
				start_time, end_time, duration, checkpoints, attributes, user_attributes
			FROM spans WHERE span_id = ?`, id).Scan(
			&p.SpanID, &p.TraceID, &p.ParentID, &p.SessionID, &p.Name, &p.Status,
			&startMs, &endMs, &p.Duration, &checkpoints, &attrs, &userAttrs,
		)
		if err != nil {
			return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to load span packet").
				WithContext("span_id", id)
		}

		p.StartTime = isoFromMillis(startMs)
		p.EndTime = isoFromMillis(endMs)
		if checkpoints != "" {
			if err := json.Unmarshal([]byte(checkpoints), &p.Checkpoints); err != nil {
				return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to decode checkpoints")
			}
		}
		if attrs != "" {
			if err := json.Unmarshal([]byte(attrs), &p.Attributes); err != nil {
				return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to decode span attributes")
			}
		}
		if userAttrs != "" {
			if err := json.Unmarshal([]byte(userAttrs), &p.UserDefinedAttrs); err != nil {
				return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to decode span user attributes")
			}
		}
		packets = append(packets, &p)
	}
	return packets, nil
}

// AttachmentPackets loads attachment projections for one event.
func (s *Store) AttachmentPackets(ctx context.Context, eventID string) ([]*model.AttachmentPacket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, name, type, file_path, size
		FROM attachments WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to query attachments")
	}
	defer rows.Close()

	var packets []*model.AttachmentPacket
	for rows.Next() {
		var p model.AttachmentPacket
		if err := rows.Scan(&p.ID, &p.EventID, &p.Name, &p.Type, &p.FilePath, &p.Size); err != nil {
			return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to scan attachment")
		}
		packets = append(packets, &p)
	}
	return packets, rows.Err()
}

// --- Delete operations ---

// DeleteBatch removes a batch and every signal it contains, including
// attachment metadata. Returns the file paths of deleted attachments and
// spilled payloads so the caller can remove the blobs.
func (s *Store) DeleteBatch(ctx context.Context, batchID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageDelete, "failed to begin delete transaction")
	}
	defer tx.Rollback()

	var filePaths []string
	rows, err := tx.QueryContext(ctx, `
		SELECT a.file_path FROM attachments a
		JOIN batch_members m ON m.signal_id = a.event_id
		WHERE m.batch_id = ? AND a.file_path != ''`, batchID)
	if err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageDelete, "failed to collect attachment paths")
	}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return nil, pkerrors.Wrap(err, pkerrors.CodeStorageDelete, "failed to scan attachment path")
		}
		filePaths = append(filePaths, path)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageDelete, "failed to iterate attachment paths")
	}

	spillRows, err := tx.QueryContext(ctx, `
		SELECT e.data_file_path FROM events e
		JOIN batch_members m ON m.signal_id = e.id
		WHERE m.batch_id = ? AND e.data_file_path != ''`, batchID)
	if err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageDelete, "failed to collect payload paths")
	}
	for spillRows.Next() {
		var path string
		if err := spillRows.Scan(&path); err != nil {
			spillRows.Close()
			return nil, pkerrors.Wrap(err, pkerrors.CodeStorageDelete, "failed to scan payload path")
		}
		filePaths = append(filePaths, path)
	}
	spillRows.Close()
	if err := spillRows.Err(); err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageDelete, "failed to iterate payload paths")
	}

	stmts := []string{
		`DELETE FROM attachments WHERE event_id IN (SELECT signal_id FROM batch_members WHERE batch_id = ?)`,
		`DELETE FROM events WHERE id IN (SELECT signal_id FROM batch_members WHERE batch_id = ?)`,
		`DELETE FROM spans WHERE span_id IN (SELECT signal_id FROM batch_members WHERE batch_id = ?)`,
		`DELETE FROM batch_members WHERE batch_id = ?`,
		`DELETE FROM batches WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, batchID); err != nil {
			return nil, pkerrors.Wrap(err, pkerrors.CodeStorageDelete, "failed to delete batch rows").
				WithContext("batch_id", batchID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageDelete, "failed to commit batch delete")
	}
	return filePaths, nil
}

// PurgeAll removes every stored signal and batch. Used by the purge
// maintenance command.
func (s *Store) PurgeAll(ctx context.Context) error {
	for _, table := range []string{"attachments", "events", "spans", "batch_members", "batches", "sessions"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return pkerrors.Wrap(err, pkerrors.CodeStorageDelete, "failed to purge table").
				WithContext("table", table)
		}
	}
	return nil
}

// --- Stats ---

// Stats summarizes stored state for the stats maintenance command.
type Stats struct {
	Events          int64
	UnbatchedEvents int64
	Spans           int64
	UnbatchedSpans  int64
	Sessions        int64
	Batches         int64
	Attachments     int64
	AttachmentBytes int64
}

// Stats returns storage counters.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	queries := []struct {
		dest  *int64
		query string
	}{
		{&st.Events, `SELECT COUNT(*) FROM events`},
		{&st.UnbatchedEvents, `SELECT COUNT(*) FROM events e
			WHERE NOT EXISTS (SELECT 1 FROM batch_members m WHERE m.signal_id = e.id)`},
		{&st.Spans, `SELECT COUNT(*) FROM spans`},
		{&st.UnbatchedSpans, `SELECT COUNT(*) FROM spans s
			WHERE NOT EXISTS (SELECT 1 FROM batch_members m WHERE m.signal_id = s.span_id)`},
		{&st.Sessions, `SELECT COUNT(*) FROM sessions`},
		{&st.Batches, `SELECT COUNT(*) FROM batches`},
		{&st.Attachments, `SELECT COUNT(*) FROM attachments`},
		{&st.AttachmentBytes, `SELECT COALESCE(SUM(size), 0) FROM attachments`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to read stats")
		}
	}
	return &st, nil
}
