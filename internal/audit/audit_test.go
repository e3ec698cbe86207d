package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFormatLine(t *testing.T) {
	cst := time.FixedZone("CST", 8*3600)
	rec := KickRecord{
		GroupID: "10001",
		UserID:  "42",
		Reason:  "message-filter: keyword[加微信]",
		At:      time.Date(2026, 3, 1, 16, 30, 5, 0, time.UTC),
	}

	got := FormatLine(rec, cst)
	want := "[2026-03-02 00:30:05] user 42 kicked from group 10001, reason: message-filter: keyword[加微信]"
	if got != want {
		t.Errorf("FormatLine =\n  %s\nwant\n  %s", got, want)
	}
}

func TestFileLog_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kick.log")
	log := NewFileLog(path, time.UTC)
	ctx := context.Background()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, user := range []string{"u1", "u2"} {
		if err := log.RecordKick(ctx, KickRecord{GroupID: "g", UserID: user, ContentType: "text", Reason: "spam", At: at}); err != nil {
			t.Fatalf("RecordKick(%s): %v", user, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[1], "user u2 kicked from group g") {
		t.Errorf("second line = %q", lines[1])
	}
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) RecordKick(context.Context, KickRecord) error {
	f.calls++
	return errors.New("unavailable")
}

func TestMulti_TriesEveryRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kick.log")
	bad := &failingRecorder{}
	m := Multi{bad, NewFileLog(path, time.UTC)}

	err := m.RecordKick(context.Background(), KickRecord{GroupID: "g", UserID: "u", Reason: "r", At: time.Now()})
	if err == nil {
		t.Fatal("expected the failing recorder's error")
	}
	if bad.calls != 1 {
		t.Errorf("failing recorder called %d times", bad.calls)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file recorder skipped after an earlier failure: %v", err)
	}
}

// postgresDSN returns the test database or skips the test.
func postgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("GUARDBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GUARDBOT_TEST_POSTGRES_DSN not set, skipping postgres audit tests")
	}
	return dsn
}

func TestPostgresLog(t *testing.T) {
	dsn := postgresDSN(t)
	ctx := context.Background()

	if err := RunMigrations(dsn); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	db, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer db.Close()
	t.Cleanup(func() {
		db.Exec(`DELETE FROM kick_audit WHERE group_id LIKE 'test_%'`)
	})

	p := NewPostgresLog(db)
	rec := KickRecord{GroupID: "test_g1", UserID: "u1", ContentType: "image", Reason: "image-filter: keyword[x]", At: time.Now()}
	if err := p.RecordKick(ctx, rec); err != nil {
		t.Fatalf("RecordKick: %v", err)
	}

	n, err := p.CountRecent(ctx, "test_g1", "u1", time.Hour)
	if err != nil || n != 1 {
		t.Errorf("CountRecent = %d, %v; want 1", n, err)
	}

	rec.ContentType = "video"
	if err := p.RecordKick(ctx, rec); err == nil {
		t.Error("RecordKick accepted an invalid content type")
	}
}
