package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stellarlinkco/sentiencex/internal/bus"
)

// JournalFile is the sqlite archive inside the data directory.
const JournalFile = "journal.db"

const journalSchemaVersion = 1

// Fixed width so stored timestamps sort lexically.
const journalTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Journal archives drained live events and feedback records in sqlite.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

type FeedbackRecord struct {
	ID         int64          `json:"id"`
	Kind       string         `json:"kind"`
	TemplateID string         `json:"template_id"`
	Tone       string         `json:"tone"`
	Rating     int            `json:"rating"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type JournalCounts struct {
	Events   int64            `json:"events"`
	Feedback int64            `json:"feedback"`
	ByName   map[string]int64 `json:"by_name"`
}

func OpenJournal(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	j := &Journal{db: db}
	if err := j.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := j.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			ts TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_name ON events(name, ts)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL DEFAULT 'explicit',
			template_id TEXT NOT NULL DEFAULT '',
			tone TEXT NOT NULL DEFAULT '',
			rating INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_template ON feedback(template_id)`,
		fmt.Sprintf(`PRAGMA user_version = %d`, journalSchemaVersion),
	}

	for _, stmt := range stmts {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// AppendEvents stores events in one transaction. Ids already present are
// ignored.
func (j *Journal) AppendEvents(events []bus.Event) error {
	if len(events) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO events (id, name, ts, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.Name, err)
		}
		if _, err := stmt.Exec(ev.ID, strings.TrimSpace(ev.Name), ev.Time.UTC().Format(journalTimeLayout), string(data)); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first. An empty name
// matches every event.
func (j *Journal) RecentEvents(name string, limit int) ([]bus.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`
		SELECT id, name, ts, data FROM events
		WHERE (? = '' OR name = ?)
		ORDER BY ts DESC, rowid DESC
		LIMIT ?
	`, name, name, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	result := make([]bus.Event, 0)
	for rows.Next() {
		var (
			ev       bus.Event
			ts, data string
		)
		if err := rows.Scan(&ev.ID, &ev.Name, &ts, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Time, err = time.Parse(journalTimeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
			return nil, fmt.Errorf("parse event data: %w", err)
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

func (j *Journal) RecordFeedback(rec FeedbackRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	kind := strings.TrimSpace(rec.Kind)
	if kind == "" {
		kind = "explicit"
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}
	_, err = j.db.Exec(`
		INSERT INTO feedback (kind, template_id, tone, rating, payload)
		VALUES (?, ?, ?, ?, ?)
	`, kind, strings.TrimSpace(rec.TemplateID), strings.TrimSpace(rec.Tone), rec.Rating, string(payload))
	if err != nil {
		return fmt.Errorf("write feedback: %w", err)
	}
	return nil
}

// FeedbackFor lists feedback recorded against a template, oldest first.
func (j *Journal) FeedbackFor(templateID string) ([]FeedbackRecord, error) {
	rows, err := j.db.Query(`
		SELECT id, kind, template_id, tone, rating, payload, created_at
		FROM feedback
		WHERE template_id = ?
		ORDER BY id ASC
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	result := make([]FeedbackRecord, 0)
	for rows.Next() {
		var (
			rec              FeedbackRecord
			payload, created string
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.TemplateID, &rec.Tone, &rec.Rating, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("parse feedback payload: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return result, nil
}

func (j *Journal) Counts() (JournalCounts, error) {
	c := JournalCounts{ByName: make(map[string]int64)}
	if err := j.db.QueryRow(`SELECT COUNT(1) FROM feedback`).Scan(&c.Feedback); err != nil {
		return c, fmt.Errorf("count feedback: %w", err)
	}
	rows, err := j.db.Query(`SELECT name, COUNT(1) FROM events GROUP BY name`)
	if err != nil {
		return c, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name string
			n    int64
		)
		if err := rows.Scan(&name, &n); err != nil {
			return c, fmt.Errorf("scan event count: %w", err)
		}
		c.ByName[name] = n
		c.Events += n
	}
	if err := rows.Err(); err != nil {
		return c, fmt.Errorf("iterate event counts: %w", err)
	}
	return c, nil
}
