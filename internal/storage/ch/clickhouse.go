package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"schoollibrary/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const createRemindersTable = `
	CREATE TABLE IF NOT EXISTS reminders (
		id UUID,
		date Date,
		entry_count UInt32,
		entries String,
		created_at DateTime
	) ENGINE = MergeTree()
	ORDER BY (date, created_at)
`

// Journal is an append-only history of due-date reminders kept in ClickHouse.
// It implements notify.Sink.
type Journal struct {
	conn clickhouse.Conn
	now  func() time.Time
}

// NewJournal creates a new ClickHouse connection
func NewJournal(host string, port int, database, user, password string, useTLS bool) (*Journal, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Journal{conn: conn, now: time.Now}, nil
}

// Initialize creates the reminders table if it does not exist
func (j *Journal) Initialize(ctx context.Context) error {
	if err := j.conn.Exec(ctx, createRemindersTable); err != nil {
		return fmt.Errorf("failed to create reminders table: %w", err)
	}
	return nil
}

// Notify appends a reminder to the journal
func (j *Journal) Notify(ctx context.Context, n models.Notification) error {
	entries, err := json.Marshal(n.Entries)
	if err != nil {
		return fmt.Errorf("failed to encode reminder entries: %w", err)
	}

	err = j.conn.Exec(ctx, `INSERT INTO reminders (id, date, entry_count, entries, created_at) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Date, uint32(len(n.Entries)), string(entries), j.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record reminder: %w", err)
	}
	return nil
}

// Recent returns the last N reminders, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]models.Notification, error) {
	rows, err := j.conn.Query(ctx, `SELECT id, date, entries FROM reminders ORDER BY date DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.Notification
	for rows.Next() {
		var (
			id      uuid.UUID
			date    time.Time
			payload string
		)
		if err := rows.Scan(&id, &date, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}

		n := models.Notification{ID: id, Date: date}
		if err := json.Unmarshal([]byte(payload), &n.Entries); err != nil {
			return nil, fmt.Errorf("failed to decode reminder %s: %w", id, err)
		}
		reminders = append(reminders, n)
	}
	return reminders, rows.Err()
}

// Close closes the database connection
func (j *Journal) Close() error {
	if j.conn != nil {
		return j.conn.Close()
	}
	return nil
}
