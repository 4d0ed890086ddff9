package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// maxListEvents caps unbounded event listings.
const maxListEvents = 1000

// eventColumns is the column list used for SELECT statements on the events table.
const eventColumns = `id, topic, channel, subject_id, actor, payload, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryRecordEvent(ctx context.Context, db executor, e *model.Event) error {
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	return db.QueryRowContext(ctx, `
		INSERT INTO events (topic, channel, subject_id, actor, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		e.Topic, e.Channel, optionalText(e.SubjectID), optionalText(e.Actor), payload,
	).Scan(&e.ID, &e.CreatedAt)
}

func queryListEvents(ctx context.Context, db executor, f model.EventFilter) ([]*model.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Channel != "" {
		add("channel = $%d", f.Channel)
	}
	if f.Topic != "" {
		add("topic LIKE $%d || '%%'", f.Topic)
	}
	if f.SubjectID != "" {
		add("subject_id = $%d", f.SubjectID)
	}
	if f.AfterID > 0 {
		add("id > $%d", f.AfterID)
	}

	limit := f.Limit
	if limit <= 0 || limit > maxListEvents {
		limit = maxListEvents
	}
	args = append(args, limit)

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY id ASC LIMIT $%d`, len(args))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return readEvents(rows)
}

// readEvents decodes rows selected with eventColumns.
func readEvents(rows *sql.Rows) ([]*model.Event, error) {
	var out []*model.Event
	for rows.Next() {
		var (
			e              model.Event
			subject, actor sql.NullString
			payload        []byte
		)
		if err := rows.Scan(&e.ID, &e.Topic, &e.Channel, &subject, &actor, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.SubjectID, e.Actor = subject.String, actor.String
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// optionalText stores an empty string as NULL.
func optionalText(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
