package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tvbot/internal/model"
	logx "tvbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultSQLitePath
	}
	if !filepath.IsAbs(path) && strings.TrimSpace(cfg.Dir) != "" {
		path = filepath.Join(cfg.Dir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadRecipients(ctx context.Context) (model.RecipientDoc, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, numeric, name, active FROM recipients ORDER BY position`)
	if err != nil {
		return model.RecipientDoc{}, err
	}
	defer rows.Close()

	doc := model.RecipientDoc{Users: []model.Recipient{}}
	for rows.Next() {
		var (
			id      string
			numeric bool
			r       model.Recipient
		)
		if err := rows.Scan(&id, &numeric, &r.Name, &r.Active); err != nil {
			return model.RecipientDoc{}, fmt.Errorf("%w: recipients: %v", ErrCorrupt, err)
		}
		if numeric {
			r.ID, err = model.ParseRecipientID(id)
			if err != nil || !r.ID.Numeric() {
				return model.RecipientDoc{}, fmt.Errorf("%w: recipient id %q marked numeric", ErrCorrupt, id)
			}
		} else {
			r.ID = model.StringID(id)
		}
		doc.Users = append(doc.Users, r)
	}
	return doc, rows.Err()
}

func (s *sqliteStore) SaveRecipients(ctx context.Context, doc model.RecipientDoc) error {
	return s.replace(ctx, "recipients", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO recipients(id, numeric, position, name, active) VALUES(?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, r := range doc.Users {
			if _, err := stmt.ExecContext(ctx, r.ID.String(), r.ID.Numeric(), i, r.Name, r.Active); err != nil {
				return fmt.Errorf("recipient %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadSchedules(ctx context.Context) (model.ScheduleDoc, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, date, hour, minute, time, channel, program_name, message,
		active, sent, created_at, sent_at, empty_retries FROM schedules ORDER BY position`)
	if err != nil {
		return model.ScheduleDoc{}, err
	}
	defer rows.Close()

	doc := model.ScheduleDoc{Schedules: []model.ScheduleEntry{}}
	for rows.Next() {
		var e model.ScheduleEntry
		if err := rows.Scan(&e.ID, &e.Date, &e.Hour, &e.Minute, &e.Time, &e.Channel, &e.ProgramName, &e.Message,
			&e.Active, &e.Sent, &e.CreatedAt, &e.SentAt, &e.EmptyRetries); err != nil {
			return model.ScheduleDoc{}, fmt.Errorf("%w: schedules: %v", ErrCorrupt, err)
		}
		doc.Schedules = append(doc.Schedules, e)
	}
	return doc, rows.Err()
}

func (s *sqliteStore) SaveSchedules(ctx context.Context, doc model.ScheduleDoc) error {
	return s.replace(ctx, "schedules", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO schedules(id, position, date, hour, minute, time, channel,
			program_name, message, active, sent, created_at, sent_at, empty_retries)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, e := range doc.Schedules {
			if _, err := stmt.ExecContext(ctx, e.ID, i, e.Date, e.Hour, e.Minute, e.Time, e.Channel,
				e.ProgramName, e.Message, e.Active, e.Sent, e.CreatedAt, e.SentAt, e.EmptyRetries); err != nil {
				return fmt.Errorf("schedule %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// replace empties table and refills it in one transaction; a failure leaves
// the previous rows intact.
func (s *sqliteStore) replace(ctx context.Context, table string, fill func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fill(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor, action, target, ok, fail, err, ref) VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.Actor), e.Action, nullStr(e.Target),
		e.OK, e.Fail, nullStr(e.Error), nullStr(e.Ref),
	)
	return err
}

// CountAudit returns the number of audit rows; used by checks and tests.
func (s *sqliteStore) CountAudit(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
