package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
)

// DumpResult lists the files a dump produced.
type DumpResult struct {
	Events   string
	Spans    string
	Sessions string
	Rows     int64
}

// DumpParquet writes the stored signals to parquet files under
// outputDir, one file per table. DuckDB does the encoding, so the dump
// never loads a table into process memory.
func (s *Store) DumpParquet(ctx context.Context, outputDir, compression string) (*DumpResult, error) {
	if compression == "" {
		compression = "ZSTD"
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to create dump dir")
	}

	result := &DumpResult{
		Events:   filepath.Join(outputDir, "events.parquet"),
		Spans:    filepath.Join(outputDir, "spans.parquet"),
		Sessions: filepath.Join(outputDir, "sessions.parquet"),
	}

	dumps := []struct {
		query string
		dest  string
	}{
		{`SELECT e.id, e.seq, e.session_id, e.type, e.timestamp, e.timestamp_ms,
			e.user_triggered, e.thread_name, e.data, e.attributes, e.user_attributes,
			m.batch_id
		  FROM events e
		  LEFT JOIN batch_members m ON m.signal_id = e.id
		  ORDER BY e.seq`, result.Events},
		{`SELECT s.span_id, s.trace_id, s.parent_id, s.session_id, s.name, s.status,
			s.start_time, s.end_time, s.duration, s.checkpoints, s.attributes,
			s.user_attributes, m.batch_id
		  FROM spans s
		  LEFT JOIN batch_members m ON m.signal_id = s.span_id
		  ORDER BY s.seq`, result.Spans},
		{`SELECT id, created_at, last_event_time, pid, app_version, app_build, crashed
		  FROM sessions ORDER BY created_at`, result.Sessions},
	}
	for _, d := range dumps {
		query := fmt.Sprintf(`COPY (%s) TO '%s' (FORMAT PARQUET, COMPRESSION '%s')`,
			d.query, d.dest, compression)
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return nil, pkerrors.Wrap(err, pkerrors.CodeStorageQuery, "failed to dump table").
				WithContext("dest", d.dest)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	result.Rows = stats.Events + stats.Spans + stats.Sessions
	return result, nil
}
