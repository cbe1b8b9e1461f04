package quarantine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sendbot/internal/provider"
	"sendbot/internal/store"
	"sendbot/pkg/logx"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.UpsertUser(context.Background(), store.User{ID: 1}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return New(st, logx.Nop()), st
}

func TestAddReplacesExistingEntry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Add(ctx, 1, "-100", store.QuarantineTemporary, "first", time.Minute); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := svc.Add(ctx, 1, "-100", store.QuarantinePermanent, "second", 0); err != nil {
		t.Fatalf("second add: %v", err)
	}

	entries, err := svc.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry per key, got %d", len(entries))
	}
	if entries[0].Kind != store.QuarantinePermanent {
		t.Fatalf("kind = %q, replacement did not win", entries[0].Kind)
	}
	if entries[0].ExpiresAt != nil {
		t.Fatalf("permanent entry carries expiry %v", entries[0].ExpiresAt)
	}
}

func TestAddTemporaryRequiresDuration(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Add(context.Background(), 1, "-100", store.QuarantineTemporary, "r", 0)
	if !errors.Is(err, ErrDurationRequired) {
		t.Fatalf("err = %v, want ErrDurationRequired", err)
	}
}

func TestIsQuarantinedHonorsExpiry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Now()
	svc.now = func() time.Time { return base }
	if _, err := svc.Add(ctx, 1, "-100", store.QuarantineTemporary, "slow mode", 10*time.Minute); err != nil {
		t.Fatalf("add: %v", err)
	}

	if q, _ := svc.IsQuarantined(ctx, 1, "-100"); !q {
		t.Fatalf("entry should be active immediately after add")
	}

	svc.now = func() time.Time { return base.Add(11 * time.Minute) }
	if q, _ := svc.IsQuarantined(ctx, 1, "-100"); q {
		t.Fatalf("entry should lapse after expiry without cleanup")
	}
}

func TestCleanupKeepsPermanentAndActive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Now()
	svc.now = func() time.Time { return base }
	if _, err := svc.Add(ctx, 1, "expired", store.QuarantineTemporary, "r", time.Minute); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add(ctx, 1, "active", store.QuarantineTemporary, "r", time.Hour); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add(ctx, 1, "forever", store.QuarantinePermanent, "r", 0); err != nil {
		t.Fatalf("add: %v", err)
	}

	svc.now = func() time.Time { return base.Add(2 * time.Minute) }
	n, err := svc.CleanupExpired(ctx, 1)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("cleanup removed %d entries, want 1", n)
	}

	entries, _ := svc.List(ctx, 1)
	if len(entries) != 2 {
		t.Fatalf("surviving entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.ChatID == "expired" {
			t.Fatalf("expired entry survived cleanup")
		}
	}
}

func TestAddForErrorStoresDecision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	entry, d, err := svc.AddForError(ctx, 1, "-200", provider.NewError(provider.KindSlowMode, 5000, "SLOWMODE_WAIT_5000", nil))
	if err != nil {
		t.Fatalf("add for error: %v", err)
	}
	if !d.Throttled {
		t.Fatalf("slow mode decision not throttled")
	}
	if entry.Kind != store.QuarantineTemporary || entry.ExpiresAt == nil {
		t.Fatalf("entry = %+v, want temporary with expiry", entry)
	}
	window := entry.ExpiresAt.Sub(entry.CreatedAt)
	if window != time.Hour {
		t.Fatalf("slow mode window = %v, want capped 1h", window)
	}

	if q, _ := svc.IsQuarantined(ctx, 1, "-200"); !q {
		t.Fatalf("target not suppressed after AddForError")
	}
}

func TestRemoveByIDChecksOwnership(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	if err := st.UpsertUser(ctx, store.User{ID: 2}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	entry, err := svc.Add(ctx, 1, "-100", store.QuarantinePermanent, "r", 0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := svc.RemoveByID(ctx, 2, entry.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-user removal: err = %v, want ErrNotFound", err)
	}
	if err := svc.RemoveByID(ctx, 1, entry.ID); err != nil {
		t.Fatalf("owner removal: %v", err)
	}
	if q, _ := svc.IsQuarantined(ctx, 1, "-100"); q {
		t.Fatalf("entry still active after removal")
	}
}

func TestStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base := time.Now()
	svc.now = func() time.Time { return base }
	mustAdd := func(chat string, kind store.QuarantineKind, d time.Duration) {
		t.Helper()
		if _, err := svc.Add(ctx, 1, chat, kind, "r", d); err != nil {
			t.Fatalf("add %s: %v", chat, err)
		}
	}
	mustAdd("a", store.QuarantinePermanent, 0)
	mustAdd("b", store.QuarantineTemporary, time.Minute)
	mustAdd("c", store.QuarantineTemporary, time.Hour)

	svc.now = func() time.Time { return base.Add(10 * time.Minute) }
	stats, err := svc.Stats(ctx, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{Total: 3, Permanent: 1, TemporaryActive: 1, TemporaryExpired: 1, Active: 2}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}
