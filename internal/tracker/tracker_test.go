package tracker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"bosstracker/internal/storage"
	"bosstracker/pkg/logx"
)

const testChannel = "chan-1"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type edit struct {
	id, text string
}

type fakeMessenger struct {
	mu      sync.Mutex
	seq     int
	sent    []string
	edits   []edit
	pins    []string
	unpins  []string
	byID    []string
	sendErr error
	editErr error
	pinErr  error
}

func (m *fakeMessenger) Send(_ context.Context, text string) (MessageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return MessageHandle{}, m.sendErr
	}
	m.seq++
	m.sent = append(m.sent, text)
	return MessageHandle{ID: fmt.Sprintf("m%d", m.seq)}, nil
}

func (m *fakeMessenger) Edit(_ context.Context, h MessageHandle, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	m.edits = append(m.edits, edit{h.ID, text})
	return nil
}

func (m *fakeMessenger) Pin(_ context.Context, h MessageHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pinErr != nil {
		return m.pinErr
	}
	m.pins = append(m.pins, h.ID)
	return nil
}

func (m *fakeMessenger) Unpin(_ context.Context, h MessageHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unpins = append(m.unpins, h.ID)
	return nil
}

func (m *fakeMessenger) UnpinByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = append(m.byID, id)
	return nil
}

// reset forgets recorded traffic but keeps the id sequence.
func (m *fakeMessenger) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent, m.edits, m.pins, m.unpins, m.byID = nil, nil, nil, nil, nil
}

func (m *fakeMessenger) takeSent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sent
	m.sent = nil
	return out
}

func (m *fakeMessenger) takeEdits() []edit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.edits
	m.edits = nil
	return out
}

type harness struct {
	tr    *Tracker
	msg   *fakeMessenger
	clock *fakeClock
	store storage.Store
}

func newHarness(t *testing.T, cfg Config, store storage.Store) *harness {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	h := &harness{msg: &fakeMessenger{}, clock: &fakeClock{t: t0}, store: store}
	h.tr = New(cfg, testChannel, store, h.msg, logx.Nop(), WithClock(h.clock.Now))
	if err := h.tr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	h.msg.reset()
	return h
}

func (h *harness) kills(t *testing.T) []storage.KillRecord {
	t.Helper()
	recs, err := h.store.LastKills(context.Background(), testChannel, 100)
	if err != nil {
		t.Fatalf("LastKills: %v", err)
	}
	return recs
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func wantSent(t *testing.T, m *fakeMessenger, want ...string) {
	t.Helper()
	got := m.takeSent()
	if len(want) == 0 && len(got) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("sent=%q want %q", got, want)
	}
}

func killedAt(recs []storage.KillRecord) []time.Time {
	out := make([]time.Time, len(recs))
	for i, r := range recs {
		out[i] = r.KilledAt
	}
	return out
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	if _, err := store.FetchOrCreateClan(ctx, testChannel); err != nil {
		t.Fatal(err)
	}
	lvl := 7
	next := t0.Add(time.Hour)
	mustNil(t, store.UpdateClan(ctx, storage.Clan{ChannelID: testChannel, Level: &lvl, NextEncounterAt: &next, StatusMessageID: "42"}))

	msg := &fakeMessenger{}
	tr := New(DefaultConfig(), testChannel, store, msg, logx.Nop(), WithClock(func() time.Time { return t0 }))
	mustNil(t, tr.Initialize(ctx))

	if !reflect.DeepEqual(msg.byID, []string{"42"}) {
		t.Fatalf("stale status not unpinned: %v", msg.byID)
	}
	wantSent(t, msg, "I'm alive")

	clan, err := store.FetchOrCreateClan(ctx, testChannel)
	mustNil(t, err)
	if clan.StatusMessageID != "" {
		t.Fatalf("stale status id kept: %q", clan.StatusMessageID)
	}
	s := tr.Snapshot()
	if s.State != StateArmed || s.Level == nil || *s.Level != 7 || !s.NextEncounterAt.Equal(next) {
		t.Fatalf("state not restored: %+v", s)
	}
}

func TestLevel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)

	mustNil(t, h.tr.QueryLevel(ctx))
	wantSent(t, h.msg, "Clan level is unknown")

	mustNil(t, h.tr.SetLevel(ctx, 50))
	wantSent(t, h.msg, "Clan level is 50 with a bonus of 11.64K%")

	mustNil(t, h.tr.SetLevel(ctx, 230))
	mustNil(t, h.tr.QueryLevel(ctx))
	wantSent(t, h.msg, "Clan level is 230 with a bonus of 82.08B%", "Clan level is 230 with a bonus of 82.08B%")
}

func TestKillIncrementsLevel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetLevel(ctx, 5))
	h.msg.reset()

	mustNil(t, h.tr.Kill(ctx))
	wantSent(t, h.msg, "Clan level is 6 with a bonus of 77.16%")

	s := h.tr.Snapshot()
	if s.Level == nil || *s.Level != 6 {
		t.Fatalf("level=%v want 6", s.Level)
	}
	if !s.NextEncounterAt.Equal(t0.Add(6 * time.Hour)) {
		t.Fatalf("next=%v", s.NextEncounterAt)
	}
	recs := h.kills(t)
	if len(recs) != 1 || !recs[0].KilledAt.Equal(t0) || recs[0].Level == nil || *recs[0].Level != 5 {
		t.Fatalf("history=%+v", recs)
	}
}

func TestKillWithoutLevel(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.Kill(context.Background()))
	if lv := h.tr.Snapshot().Level; lv != nil {
		t.Fatalf("level=%d want unset", *lv)
	}
	wantSent(t, h.msg)
}

func TestKillWhileArmed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetLevel(ctx, 150))
	mustNil(t, h.tr.SetNextEncounter(ctx, 12*time.Second))
	h.msg.reset()

	err := h.tr.Kill(ctx)
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("err=%v want ErrStateConflict", err)
	}
	wantSent(t, h.msg, "You're not fighting a boss yet")

	recs := h.kills(t)
	if want := []time.Time{t0.Add(12*time.Second - 6*time.Hour)}; !reflect.DeepEqual(killedAt(recs), want) {
		t.Fatalf("history=%v want %v", killedAt(recs), want)
	}
	if lv := h.tr.Snapshot().Level; lv == nil || *lv != 150 {
		t.Fatalf("level changed: %v", lv)
	}
}

func TestSetNextAmendsWhileNotExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)

	d1 := 3*time.Hour + 15*time.Minute + 12*time.Second
	mustNil(t, h.tr.SetNextEncounter(ctx, d1))
	if got, want := killedAt(h.kills(t)), []time.Time{t0.Add(d1 - 6*time.Hour)}; !reflect.DeepEqual(got, want) {
		t.Fatalf("history=%v want %v", got, want)
	}
	if s := h.tr.Snapshot(); !s.NextEncounterAt.Equal(t0.Add(d1)) || s.State != StateArmed {
		t.Fatalf("snapshot=%+v", s)
	}

	d2 := 2*time.Hour + 45*time.Minute + 32*time.Second
	mustNil(t, h.tr.SetNextEncounter(ctx, d2))
	if got, want := killedAt(h.kills(t)), []time.Time{t0.Add(d2 - 6*time.Hour)}; !reflect.DeepEqual(got, want) {
		t.Fatalf("history=%v want %v", got, want)
	}
	if s := h.tr.Snapshot(); !s.NextEncounterAt.Equal(t0.Add(d2)) {
		t.Fatalf("next=%v", s.NextEncounterAt)
	}
	wantSent(t, h.msg)
}

func TestSetNextWhileExpiredIsAKill(t *testing.T) {
	lv := func(v int) *int { return &v }
	tests := []struct {
		name      string
		level     *int
		wantSent  []string
		wantLevel *int
	}{
		{"level unknown", nil, []string{"Boss killed in 1m 28s."}, nil},
		{"level known", lv(10), []string{"Boss killed in 1m 28s.", "Clan level is 11 with a bonus of 185.31%"}, lv(11)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, DefaultConfig(), nil)
			if tc.level != nil {
				mustNil(t, h.tr.SetLevel(ctx, *tc.level))
			}
			mustNil(t, h.tr.SetNextEncounter(ctx, 12*time.Second))
			h.msg.reset()

			h.clock.Advance(2 * time.Minute)
			if s := h.tr.Snapshot(); s.State != StateExpired {
				t.Fatalf("state=%v want expired", s.State)
			}
			mustNil(t, h.tr.SetNextEncounter(ctx, 6*time.Hour-20*time.Second))
			wantSent(t, h.msg, tc.wantSent...)

			now := h.clock.Now()
			want := []time.Time{now.Add(-20 * time.Second), t0.Add(12*time.Second - 6*time.Hour)}
			if got := killedAt(h.kills(t)); !reflect.DeepEqual(got, want) {
				t.Fatalf("history=%v want %v", got, want)
			}
			got := h.tr.Snapshot().Level
			if (got == nil) != (tc.wantLevel == nil) || (got != nil && *got != *tc.wantLevel) {
				t.Fatalf("level=%v want %v", got, tc.wantLevel)
			}
		})
	}
}

func TestKillAnnouncesFightDuration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, 12*time.Second))

	h.clock.Advance(2 * time.Minute)
	mustNil(t, h.tr.Kill(ctx))
	wantSent(t, h.msg, "Boss killed in 1m 48s.")

	want := []time.Time{t0.Add(2 * time.Minute), t0.Add(12*time.Second - 6*time.Hour)}
	if got := killedAt(h.kills(t)); !reflect.DeepEqual(got, want) {
		t.Fatalf("history=%v want %v", got, want)
	}
}

func TestQueryHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)

	mustNil(t, h.tr.QueryHistory(ctx))
	wantSent(t, h.msg, "No history recorded")
	mustNil(t, h.tr.SetLevel(ctx, 150))
	mustNil(t, h.tr.SetNextEncounter(ctx, 10*time.Second))
	h.msg.reset()
	mustNil(t, h.tr.QueryHistory(ctx))
	wantSent(t, h.msg, "No history recorded")

	h.clock.Advance(2*time.Minute + 30*time.Second)
	mustNil(t, h.tr.Kill(ctx))
	h.clock.Advance(6*time.Hour + time.Hour + 3*time.Minute + 50*time.Second)
	mustNil(t, h.tr.Kill(ctx))
	h.clock.Advance(6*time.Hour + 15*time.Second)
	mustNil(t, h.tr.Kill(ctx))
	h.msg.reset()

	mustNil(t, h.tr.QueryHistory(ctx))
	want := strings.Join([]string{
		"```",
		"Boss 150 - 2m 20s",
		"Boss 151 - 1h 3m 50s",
		"Boss 152 - 15s",
		"```",
	}, "\n")
	wantSent(t, h.msg, want)
}

func TestQueryHistoryWindow(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.HistorySize = 2
	h := newHarness(t, cfg, nil)
	for i := 0; i < 5; i++ {
		mustNil(t, h.tr.Kill(ctx))
		h.clock.Advance(6*time.Hour + time.Duration(i+1)*time.Second)
	}
	text, err := h.tr.HistoryText(ctx)
	mustNil(t, err)
	want := "```\nBoss   1 - 3s\nBoss   2 - 4s\n```"
	if text != want {
		t.Fatalf("history=%q want %q", text, want)
	}
	if n := len(h.kills(t)); n != 5 {
		t.Fatalf("storage pruned: %d records", n)
	}
}

func TestQueryTimer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)

	mustNil(t, h.tr.QueryTimer(ctx))
	wantSent(t, h.msg, "Next boss time is unknown.")

	mustNil(t, h.tr.SetNextEncounter(ctx, 10*time.Second))
	mustNil(t, h.tr.QueryTimer(ctx))
	wantSent(t, h.msg, "Next boss in 10s")
	first := h.tr.Snapshot().StatusMessageID
	if !reflect.DeepEqual(h.msg.pins, []string{first}) {
		t.Fatalf("pins=%v", h.msg.pins)
	}

	h.clock.Advance(5 * time.Second)
	mustNil(t, h.tr.QueryTimer(ctx))
	wantSent(t, h.msg, "Next boss in 5s")
	if !reflect.DeepEqual(h.msg.unpins, []string{first}) {
		t.Fatalf("previous status not unpinned: %v", h.msg.unpins)
	}

	h.clock.Advance(20 * time.Second)
	mustNil(t, h.tr.QueryTimer(ctx))
	wantSent(t, h.msg, "Boss fight in progress")
}

func TestTickIdle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)

	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg)

	mustNil(t, h.tr.SetNextEncounter(ctx, 10*time.Second))
	h.clock.Advance(20 * time.Second)
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg)
}

func TestTickCreatesStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, 10*time.Second))

	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg, "Next boss in 10s")
	if len(h.msg.takeEdits()) != 0 {
		t.Fatalf("new status must not be edited")
	}
	id := h.tr.Snapshot().StatusMessageID
	if id == "" || !reflect.DeepEqual(h.msg.pins, []string{id}) {
		t.Fatalf("status %q pins=%v", id, h.msg.pins)
	}
	clan, err := h.store.FetchOrCreateClan(ctx, testChannel)
	mustNil(t, err)
	if clan.StatusMessageID != id {
		t.Fatalf("status id not persisted: %q", clan.StatusMessageID)
	}
}

func TestTickThrottlesEdits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, time.Hour+5*time.Minute+20*time.Second))
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg, "Next boss in 1h 5m 20s")
	id := h.tr.Snapshot().StatusMessageID

	steps := []struct {
		advance time.Duration
		want    []edit
	}{
		{time.Minute + 5*time.Second, []edit{{id, "Next boss in 1h 4m 15s"}}},
		{time.Second, nil},
		{4 * time.Second, []edit{{id, "Next boss in 1h 4m 10s"}}},
		{0, nil},
	}
	for i, s := range steps {
		h.clock.Advance(s.advance)
		mustNil(t, h.tr.Tick(ctx))
		if got := h.msg.takeEdits(); !reflect.DeepEqual(got, s.want) {
			t.Fatalf("step %d: edits=%v want %v", i, got, s.want)
		}
		wantSent(t, h.msg)
	}
}

func TestTickAlerts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, 16*time.Minute))
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg, "Next boss in 16m 0s")
	id := h.tr.Snapshot().StatusMessageID

	steps := []struct {
		advance time.Duration
		edit    string
		alert   string
	}{
		{time.Minute + 10*time.Second, "Next boss in 14m 50s", "@everyone Next boss in 14m 50s"},
		{0, "", ""},
		{time.Minute + 30*time.Second, "Next boss in 13m 20s", ""},
		{8*time.Minute + 20*time.Second, "Next boss in 5m 0s", "@everyone Next boss in 5m 0s"},
		{time.Minute, "Next boss in 4m 0s", ""},
		{2*time.Minute + 5*time.Second, "Next boss in 1m 55s", "@everyone Next boss in 1m 55s"},
		{500 * time.Millisecond, "", ""},
	}
	for i, s := range steps {
		h.clock.Advance(s.advance)
		mustNil(t, h.tr.Tick(ctx))

		var wantEdits []edit
		if s.edit != "" {
			wantEdits = []edit{{id, s.edit}}
		}
		if got := h.msg.takeEdits(); !reflect.DeepEqual(got, wantEdits) {
			t.Fatalf("step %d: edits=%v want %v", i, got, wantEdits)
		}
		var wantAlerts []string
		if s.alert != "" {
			wantAlerts = []string{s.alert}
		}
		wantSent(t, h.msg, wantAlerts...)
	}
}

func TestTickChirps(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.ChirpTemplates = []string{"up for {T}", "still up for {T}"}
	h := newHarness(t, cfg, nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, 10*time.Second))

	h.clock.Advance(10*time.Second + 4*time.Minute)
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg)

	h.clock.Advance(time.Minute)
	mustNil(t, h.tr.Tick(ctx))
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg, "up for 5m 0s")

	h.clock.Advance(5 * time.Minute)
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg, "still up for 10m 0s")

	h.clock.Advance(5 * time.Minute)
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg, "up for 15m 0s")

	mustNil(t, h.tr.Kill(ctx))
	if s := h.tr.Snapshot(); s.ChirpActive {
		t.Fatalf("kill must reset the chirp cycle")
	}
}

func TestTickEditFailureRecreatesStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, time.Hour))
	mustNil(t, h.tr.Tick(ctx))
	first := h.tr.Snapshot().StatusMessageID
	h.msg.reset()

	h.msg.editErr = errors.New("message to edit not found")
	h.clock.Advance(3 * time.Second)
	if err := h.tr.Tick(ctx); !errors.Is(err, ErrMessaging) {
		t.Fatalf("err=%v want ErrMessaging", err)
	}
	if id := h.tr.Snapshot().StatusMessageID; id != "" {
		t.Fatalf("status handle kept: %q", id)
	}
	if !reflect.DeepEqual(h.msg.unpins, []string{first}) {
		t.Fatalf("unpins=%v", h.msg.unpins)
	}
	h.msg.editErr = nil

	h.clock.Advance(time.Second)
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg)

	h.clock.Advance(time.Second)
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg, "Next boss in 59m 55s")
	if id := h.tr.Snapshot().StatusMessageID; id == "" || id == first {
		t.Fatalf("status not recreated: %q", id)
	}
}

func TestTickPinFailureKeepsStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, time.Hour))

	h.msg.pinErr = errors.New("not enough rights")
	if err := h.tr.Tick(ctx); !errors.Is(err, ErrMessaging) {
		t.Fatalf("err=%v want ErrMessaging", err)
	}
	wantSent(t, h.msg, "Next boss in 1h 0s")

	h.clock.Advance(time.Second)
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg)
	if len(h.msg.takeEdits()) != 1 {
		t.Fatalf("unpinned status should still be edited")
	}
}

func TestTickSendFailureBacksOff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, time.Hour))

	h.msg.sendErr = errors.New("network down")
	if err := h.tr.Tick(ctx); !errors.Is(err, ErrMessaging) {
		t.Fatalf("err=%v want ErrMessaging", err)
	}
	h.msg.sendErr = nil

	h.clock.Advance(500 * time.Millisecond)
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg)

	h.clock.Advance(2 * time.Second)
	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg, "Next boss in 59m 57s")
}

func TestKillClearsStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, 10*time.Second))
	mustNil(t, h.tr.Tick(ctx))
	id := h.tr.Snapshot().StatusMessageID

	h.clock.Advance(20 * time.Second)
	mustNil(t, h.tr.Kill(ctx))
	if !reflect.DeepEqual(h.msg.unpins, []string{id}) {
		t.Fatalf("unpins=%v", h.msg.unpins)
	}
	if s := h.tr.Snapshot(); s.StatusMessageID != "" {
		t.Fatalf("status kept after kill: %q", s.StatusMessageID)
	}
	h.msg.reset()

	mustNil(t, h.tr.Tick(ctx))
	wantSent(t, h.msg, "Next boss in 6h 0s")
}

func TestSetLevelCorrectsLastRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, 10*time.Second))

	mustNil(t, h.tr.SetLevel(ctx, 20))
	recs := h.kills(t)
	if len(recs) != 1 || recs[0].Level == nil || *recs[0].Level != 19 {
		t.Fatalf("history=%+v", recs)
	}
	if !recs[0].KilledAt.Equal(t0.Add(10*time.Second - 6*time.Hour)) {
		t.Fatalf("correction moved the record: %v", recs[0].KilledAt)
	}
}

func TestSetNextNewRecordCarriesPreviousLevel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetLevel(ctx, 40))
	mustNil(t, h.tr.SetNextEncounter(ctx, time.Hour))

	recs := h.kills(t)
	if len(recs) != 1 || recs[0].Level == nil || *recs[0].Level != 39 {
		t.Fatalf("history=%+v", recs)
	}
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, time.Hour))
	mustNil(t, h.tr.Tick(ctx))
	id := h.tr.Snapshot().StatusMessageID

	lvl := 99
	next := t0.Add(2 * time.Hour)
	mustNil(t, h.store.UpdateClan(ctx, storage.Clan{ChannelID: testChannel, Level: &lvl, NextEncounterAt: &next}))

	mustNil(t, h.tr.Reload(ctx))
	s := h.tr.Snapshot()
	if s.StatusMessageID != "" || s.Level == nil || *s.Level != 99 || !s.NextEncounterAt.Equal(next) {
		t.Fatalf("snapshot=%+v", s)
	}
	if !reflect.DeepEqual(h.msg.unpins, []string{id}) {
		t.Fatalf("unpins=%v", h.msg.unpins)
	}
}

type failingStore struct {
	storage.Store
	appendErr error
	updateErr error
}

func (s *failingStore) AppendKill(ctx context.Context, ch string, k storage.KillRecord) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.Store.AppendKill(ctx, ch, k)
}

func (s *failingStore) UpdateClan(ctx context.Context, c storage.Clan) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.Store.UpdateClan(ctx, c)
}

func TestPersistenceFailures(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: storage.NewMemory()}
	h := newHarness(t, DefaultConfig(), store)
	mustNil(t, h.tr.SetLevel(ctx, 3))

	store.appendErr = errors.New("disk full")
	if err := h.tr.Kill(ctx); !errors.Is(err, ErrPersistence) {
		t.Fatalf("err=%v want ErrPersistence", err)
	}
	if lv := h.tr.Snapshot().Level; lv == nil || *lv != 3 {
		t.Fatalf("failed kill changed level: %v", lv)
	}
	store.appendErr = nil

	store.updateErr = errors.New("disk full")
	if err := h.tr.SetLevel(ctx, 4); !errors.Is(err, ErrPersistence) {
		t.Fatalf("err=%v want ErrPersistence", err)
	}
}

type countingObserver struct {
	nopObserver
	mu    sync.Mutex
	ticks int
	kills int
	fails map[string]int
}

func (o *countingObserver) Tick()         { o.mu.Lock(); o.ticks++; o.mu.Unlock() }
func (o *countingObserver) KillRecorded() { o.mu.Lock(); o.kills++; o.mu.Unlock() }
func (o *countingObserver) MessagingFailed(op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fails == nil {
		o.fails = map[string]int{}
	}
	o.fails[op]++
}

func TestObserver(t *testing.T) {
	ctx := context.Background()
	obs := &countingObserver{}
	msg := &fakeMessenger{}
	clock := &fakeClock{t: t0}
	tr := New(DefaultConfig(), testChannel, storage.NewMemory(), msg, logx.Nop(), WithClock(clock.Now), WithObserver(obs))
	mustNil(t, tr.Initialize(ctx))

	mustNil(t, tr.Tick(ctx))
	mustNil(t, tr.Kill(ctx))
	msg.sendErr = errors.New("boom")
	clock.Advance(time.Second)
	_ = tr.Tick(ctx)

	if obs.ticks != 2 || obs.kills != 1 || obs.fails["send"] != 1 {
		t.Fatalf("observer=%+v", obs)
	}
}

func TestConcurrentDrivers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig(), nil)
	mustNil(t, h.tr.SetNextEncounter(ctx, time.Minute))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.clock.Advance(500 * time.Millisecond)
			_ = h.tr.Tick(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = h.tr.Kill(ctx)
			_ = h.tr.QueryHistory(ctx)
			_ = h.tr.SetLevel(ctx, i+1)
		}
	}()
	wg.Wait()
	_ = h.tr.Snapshot()
}
