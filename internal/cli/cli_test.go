package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, token string) (cfgPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	body := fmt.Sprintf(`{
  "telegram": {"token": %q, "owner_user_ids": [42]},
  "logging": {"level": "info"},
  "storage": {"driver": "file", "dir": %q},
  "dispatch": {"interval": "60s", "tolerance": "60s", "timezone": "UTC"},
  "delivery": {"rate_per_sec": 10, "retry_max": 1, "workers": 1},
  "admin": {"backup_dir": %q},
  "housekeeping": {"enabled": false},
  "notify": {"enabled": false}
}`, token, dataDir, filepath.Join(dir, "backups"))
	cfgPath = filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	users := `{"users": [{"id": 1, "name": "a", "active": true}, {"id": "@chan", "name": "b", "active": false}]}`
	scheds := `{"schedules": [
  {"id": "s1", "date": "2024-03-10", "hour": 20, "minute": 0, "time": "20:00", "message": "m", "active": true, "sent": false},
  {"id": "s2", "date": "2024-03-09", "hour": 20, "minute": 0, "time": "20:00", "message": "m", "active": true, "sent": true},
  {"id": "bad", "date": "someday", "hour": 0, "minute": 0, "time": "xx", "message": "m", "active": true, "sent": false}
]}`
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "users.json"), []byte(users), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "tv_schedules.json"), []byte(scheds), 0o600))
	return cfgPath, dataDir
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("test")
	for _, name := range []string{"run", "check", "backup", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand("test")
	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)
	assert.Equal(t, "config.json", cfg.DefValue)
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestInvalidFormatRejected(t *testing.T) {
	cmd := NewRootCommand("test")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"version", "--format", "xml", "--env-file", ""})
	assert.Error(t, cmd.Execute())
}

func TestVersion(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand("1.2.3")
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version", "--env-file", ""})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "tvbot 1.2.3")
}

func TestCheckReport(t *testing.T) {
	cfgPath, _ := writeConfig(t, "1:abc")
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	rep, err := runCheck(context.Background(), cfgPath, true, now)
	require.NoError(t, err)
	assert.Equal(t, "file", rep.Driver)
	assert.Equal(t, "UTC", rep.Timezone)
	assert.Equal(t, 2, rep.Recipients)
	assert.Equal(t, 1, rep.ActiveRecipients)
	assert.Equal(t, 3, rep.Schedules)
	assert.Equal(t, 2, rep.Pending)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, []string{"bad"}, rep.Malformed)
	require.Len(t, rep.NextUp, 1)
	assert.Contains(t, rep.NextUp[0], "s1")
}

func TestCheckCommandJSON(t *testing.T) {
	cfgPath, _ := writeConfig(t, "1:abc")
	buf := &bytes.Buffer{}
	cmd := NewRootCommand("test")
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"check", "--config", cfgPath, "--format", "json", "--env-file", ""})
	require.NoError(t, cmd.Execute())

	var rep CheckReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rep))
	assert.Equal(t, 3, rep.Schedules)
}

func TestCheckRequiresToken(t *testing.T) {
	t.Setenv("TVBOT_TELEGRAM_TOKEN", "")
	cfgPath, _ := writeConfig(t, "")

	_, err := runCheck(context.Background(), cfgPath, true, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token")

	_, err = runCheck(context.Background(), cfgPath, false, time.Now())
	assert.NoError(t, err)
}

func TestCheckMissingConfig(t *testing.T) {
	_, err := runCheck(context.Background(), filepath.Join(t.TempDir(), "nope.json"), false, time.Now())
	assert.Error(t, err)
}

func TestBackupCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	out := filepath.Join(t.TempDir(), "bk")

	path, err := runBackup(context.Background(), cfgPath, out)
	require.NoError(t, err)
	assert.Equal(t, out, filepath.Dir(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Schedules  []json.RawMessage `json:"schedules"`
		Users      []json.RawMessage `json:"users"`
		BackupTime string            `json:"backup_time"`
	}
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Len(t, doc.Schedules, 3)
	assert.Len(t, doc.Users, 2)
	assert.NotEmpty(t, doc.BackupTime)
}
