package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tvbot/internal/model"
	logx "tvbot/pkg/logx"
)

// fileStore keeps each document in its own JSON file.
//
// Files:
//   - <dir>/users.json          {"users": [...]}
//   - <dir>/tv_schedules.json   {"schedules": [...]}
//   - <dir>/tvbot.audit.jsonl   (append-only JSON Lines)
//
// Saves rewrite the whole file through a temp file + rename so a crash never
// leaves a half-written document behind.
type fileStore struct {
	log logx.Logger

	usersPath     string
	schedulesPath string
	tolerate      bool

	mu        sync.Mutex
	auditFile *os.File
	closed    bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	users := strings.TrimSpace(cfg.UsersFile)
	if users == "" {
		users = DefaultUsersFile
	}
	schedules := strings.TrimSpace(cfg.SchedulesFile)
	if schedules == "" {
		schedules = DefaultSchedulesFile
	}

	af, err := os.OpenFile(filepath.Join(dir, "tvbot.audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		log:           log,
		usersPath:     joinIfRelative(dir, users),
		schedulesPath: joinIfRelative(dir, schedules),
		tolerate:      cfg.TolerateCorrupt,
		auditFile:     af,
	}, nil
}

func joinIfRelative(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func (s *fileStore) LoadRecipients(ctx context.Context) (model.RecipientDoc, error) {
	var doc model.RecipientDoc
	ok, err := s.load(ctx, s.usersPath, &doc)
	if err != nil {
		return model.RecipientDoc{}, err
	}
	if !ok || doc.Users == nil {
		doc.Users = []model.Recipient{}
	}
	return doc, nil
}

func (s *fileStore) SaveRecipients(ctx context.Context, doc model.RecipientDoc) error {
	if doc.Users == nil {
		doc.Users = []model.Recipient{}
	}
	return s.save(ctx, s.usersPath, doc)
}

func (s *fileStore) LoadSchedules(ctx context.Context) (model.ScheduleDoc, error) {
	var doc model.ScheduleDoc
	ok, err := s.load(ctx, s.schedulesPath, &doc)
	if err != nil {
		return model.ScheduleDoc{}, err
	}
	if !ok || doc.Schedules == nil {
		doc.Schedules = []model.ScheduleEntry{}
	}
	return doc, nil
}

func (s *fileStore) SaveSchedules(ctx context.Context, doc model.ScheduleDoc) error {
	if doc.Schedules == nil {
		doc.Schedules = []model.ScheduleEntry{}
	}
	return s.save(ctx, s.schedulesPath, doc)
}

// load decodes path into out and reports whether out holds decoded data.
// A missing or blank file is an empty store.
func (s *fileStore) load(ctx context.Context, path string, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return false, nil
	}
	derr := json.Unmarshal(b, out)
	if derr == nil {
		return true, nil
	}
	if !s.tolerate {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, derr)
	}
	aside := fmt.Sprintf("%s.corrupt-%s", path, time.Now().Format("20060102-150405"))
	if rerr := os.Rename(path, aside); rerr != nil {
		s.log.Warn("corrupt store could not be moved aside", logx.String("path", path), logx.Err(rerr))
		aside = ""
	}
	s.log.Warn("corrupt store loaded as empty", logx.String("path", path), logx.String("moved_to", aside), logx.Err(derr))
	return false, nil
}

func (s *fileStore) save(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encodeJSON(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := writeFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// encodeJSON renders v with two-space indent, leaving '<', '>' and '&' unescaped.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON atomically writes v as indented JSON to path.
func WriteJSON(path string, v any) error {
	b, err := encodeJSON(v)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b, 0o644)
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}
