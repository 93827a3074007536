package ch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"listings-hub/internal/model"
)

// Client wraps a ClickHouse connection holding the listing event log.
type Client struct {
	db *sql.DB
}

// New creates a ClickHouse client from a DSN.
func New(ctx context.Context, dsn string) (*Client, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Client{db: db}, nil
}

// Close releases database resources.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// EnsureSchema creates the listing_events table if it does not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS listing_events
(
  occurred_at      DateTime64(3, 'UTC'),
  event_date       Date,
  listing_id       String,
  event_type       LowCardinality(String),
  experience_id    LowCardinality(String),
  session_id       String,
  user_id          String,
  device_type      LowCardinality(String),
  ip_hash          String,
  context          String,
  _ingested_at     DateTime64(3, 'UTC')
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(event_date)
ORDER BY (event_date, listing_id, event_type, occurred_at)`
	_, err := c.db.ExecContext(ctx, ddl)
	return err
}

// InsertEvents appends a batch of events with a single prepared statement.
func (c *Client) InsertEvents(ctx context.Context, events []model.ListingEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO listing_events (
	occurred_at, event_date, listing_id, event_type, experience_id,
	session_id, user_id, device_type, ip_hash, context, _ingested_at
) VALUES (
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, evt := range events {
		eventCtx := evt.Context
		if eventCtx == nil {
			eventCtx = map[string]any{}
		}
		encoded, err := json.Marshal(eventCtx)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		occurred := evt.OccurredAt.UTC()
		if _, err := stmt.ExecContext(
			ctx,
			occurred,
			time.Date(occurred.Year(), occurred.Month(), occurred.Day(), 0, 0, 0, 0, time.UTC),
			evt.ListingID,
			string(evt.EventType),
			evt.ExperienceID,
			evt.SessionID,
			evt.UserID,
			evt.DeviceType,
			evt.IPHash,
			string(encoded),
			evt.IngestedAt.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// EventsBetween returns events with from <= occurred_at < to.
func (c *Client) EventsBetween(ctx context.Context, from, to time.Time) ([]model.ListingEvent, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT listing_id, event_type, occurred_at, experience_id, session_id, user_id,
       device_type, ip_hash, context, _ingested_at
FROM listing_events
WHERE occurred_at >= ? AND occurred_at < ?
ORDER BY occurred_at ASC`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ListingEvent
	for rows.Next() {
		var (
			evt       model.ListingEvent
			eventType string
			encoded   string
		)
		if err := rows.Scan(&evt.ListingID, &eventType, &evt.OccurredAt, &evt.ExperienceID, &evt.SessionID,
			&evt.UserID, &evt.DeviceType, &evt.IPHash, &encoded, &evt.IngestedAt); err != nil {
			return nil, err
		}
		evt.EventType = model.EventType(eventType)
		if encoded != "" {
			if err := json.Unmarshal([]byte(encoded), &evt.Context); err != nil {
				return nil, fmt.Errorf("decode event context: %w", err)
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// CountEvents returns the total rows, useful for tests.
func (c *Client) CountEvents(ctx context.Context) (int64, error) {
	row := c.db.QueryRowContext(ctx, `SELECT count() FROM listing_events`)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Ping ensures the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}
	return nil
}
