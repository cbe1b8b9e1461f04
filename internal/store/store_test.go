package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sendbot/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedUser(t *testing.T, st *Store, id int64) {
	t.Helper()
	if err := st.UpsertUser(context.Background(), User{ID: id, BotToken: "tok"}); err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
}

func TestSettingsForCreatesDefaults(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedUser(t, st, 1)

	set, err := st.SettingsFor(context.Background(), 1)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if set.MinInterval != DefaultMinInterval || set.MaxInterval != DefaultMaxInterval {
		t.Fatalf("intervals = %d..%d, want %d..%d", set.MinInterval, set.MaxInterval, DefaultMinInterval, DefaultMaxInterval)
	}
	if set.MinDelay != DefaultMinDelay || set.MaxDelay != DefaultMaxDelay {
		t.Fatalf("delays = %d..%d, want %d..%d", set.MinDelay, set.MaxDelay, DefaultMinDelay, DefaultMaxDelay)
	}

	// Second read hits the persisted row, not a fresh insert.
	again, err := st.SettingsFor(context.Background(), 1)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if again.UserID != 1 {
		t.Fatalf("user id = %d", again.UserID)
	}
}

func TestUpdateSettingsRejectsInvertedBounds(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedUser(t, st, 1)

	err := st.UpdateSettings(context.Background(), Settings{UserID: 1, MinInterval: 600, MaxInterval: 300, MinDelay: 1, MaxDelay: 2})
	if err == nil {
		t.Fatalf("inverted interval bounds accepted")
	}
	err = st.UpdateSettings(context.Background(), Settings{UserID: 1, MinInterval: 300, MaxInterval: 600, MinDelay: 9, MaxDelay: 2})
	if err == nil {
		t.Fatalf("inverted delay bounds accepted")
	}
}

func TestActiveFilters(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedUser(t, st, 1)
	ctx := context.Background()

	if _, err := st.InsertTemplate(ctx, MessageTemplate{UserID: 1, Content: "on", Active: true}); err != nil {
		t.Fatalf("insert template: %v", err)
	}
	if _, err := st.InsertTemplate(ctx, MessageTemplate{UserID: 1, Content: "off", Active: false}); err != nil {
		t.Fatalf("insert template: %v", err)
	}
	if _, err := st.InsertTarget(ctx, Target{UserID: 1, ChatID: "-1", Active: true}); err != nil {
		t.Fatalf("insert target: %v", err)
	}
	if _, err := st.InsertTarget(ctx, Target{UserID: 1, ChatID: "-2", Active: false}); err != nil {
		t.Fatalf("insert target: %v", err)
	}

	tpls, err := st.ActiveTemplates(ctx, 1)
	if err != nil {
		t.Fatalf("active templates: %v", err)
	}
	if len(tpls) != 1 || tpls[0].Content != "on" {
		t.Fatalf("active templates = %+v", tpls)
	}
	tgts, err := st.ActiveTargets(ctx, 1)
	if err != nil {
		t.Fatalf("active targets: %v", err)
	}
	if len(tgts) != 1 || tgts[0].ChatID != "-1" {
		t.Fatalf("active targets = %+v", tgts)
	}
}

func TestEligibleUserIDs(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	// user 1: template + target, user 2: template only, user 3: target only
	for id := int64(1); id <= 3; id++ {
		seedUser(t, st, id)
	}
	if _, err := st.InsertTemplate(ctx, MessageTemplate{UserID: 1, Content: "x", Active: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.InsertTarget(ctx, Target{UserID: 1, ChatID: "-1", Active: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.InsertTemplate(ctx, MessageTemplate{UserID: 2, Content: "x", Active: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.InsertTarget(ctx, Target{UserID: 3, ChatID: "-3", Active: true}); err != nil {
		t.Fatal(err)
	}

	ids, err := st.EligibleUserIDs(ctx)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("eligible = %v, want [1]", ids)
	}
}

func TestBotTokenNotFound(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	if _, err := st.BotToken(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestQuarantineReplaceKeepsSingleRow(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedUser(t, st, 1)
	ctx := context.Background()
	now := time.Now()

	exp := now.Add(time.Minute)
	first, err := st.ReplaceQuarantine(ctx, QuarantineEntry{
		UserID: 1, ChatID: "-1", Kind: QuarantineTemporary, Reason: "a", ExpiresAt: &exp, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	second, err := st.ReplaceQuarantine(ctx, QuarantineEntry{
		UserID: 1, ChatID: "-1", Kind: QuarantinePermanent, Reason: "b", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("replace again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replace allocated a new row: %d -> %d", first.ID, second.ID)
	}

	entries, err := st.ListQuarantine(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != QuarantinePermanent || entries[0].ExpiresAt != nil {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestDeleteExpiredQuarantineScope(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedUser(t, st, 1)
	seedUser(t, st, 2)
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)

	for _, e := range []QuarantineEntry{
		{UserID: 1, ChatID: "a", Kind: QuarantineTemporary, ExpiresAt: &past, CreatedAt: now},
		{UserID: 2, ChatID: "b", Kind: QuarantineTemporary, ExpiresAt: &past, CreatedAt: now},
		{UserID: 2, ChatID: "c", Kind: QuarantinePermanent, CreatedAt: now},
	} {
		if _, err := st.ReplaceQuarantine(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	n, err := st.DeleteExpiredQuarantine(ctx, 1, now)
	if err != nil {
		t.Fatalf("scoped delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("scoped delete removed %d, want 1", n)
	}

	n, err = st.DeleteExpiredQuarantine(ctx, 0, now)
	if err != nil {
		t.Fatalf("global delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("global delete removed %d, want 1", n)
	}

	left, _ := st.ListQuarantine(ctx, 2)
	if len(left) != 1 || left[0].Kind != QuarantinePermanent {
		t.Fatalf("permanent entry did not survive sweep: %+v", left)
	}
}

func TestRecentDispatchesNewestFirst(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedUser(t, st, 1)
	ctx := context.Background()

	for i, status := range []DispatchStatus{DispatchSent, DispatchFailed, DispatchQuarantined} {
		if err := st.AppendDispatch(ctx, DispatchRecord{
			CycleID: "c", UserID: 1, ChatID: "-1", TemplateID: int64(i + 1), Status: status,
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recs, err := st.RecentDispatches(ctx, 1, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want limit 2", len(recs))
	}
	if recs[0].Status != DispatchQuarantined || recs[1].Status != DispatchFailed {
		t.Fatalf("order wrong: %q then %q", recs[0].Status, recs[1].Status)
	}
}
