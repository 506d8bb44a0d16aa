package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bosstracker/internal/storage"
	"bosstracker/pkg/logx"

	"golang.org/x/time/rate"
)

const (
	msgAlive      = "I'm alive"
	msgNotYet     = "You're not fighting a boss yet"
	msgNoHistory  = "No history recorded"
	msgNoTimer    = "Next boss time is unknown."
	msgInProgress = "Boss fight in progress"
	msgNoLevel    = "Clan level is unknown"
)

// State is the encounter state derived from the next encounter time.
type State int

const (
	StateUnknown State = iota
	StateArmed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

type Config struct {
	FixedDelay      time.Duration
	AlertThresholds []time.Duration
	StatusCooldown  time.Duration
	HistorySize     int
	ChirpDelay      time.Duration
	ChirpTemplates  []string
	// SendTimeout bounds the messaging calls of a single Tick.
	SendTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FixedDelay:      6 * time.Hour,
		AlertThresholds: []time.Duration{15 * time.Minute, 5 * time.Minute, 2 * time.Minute},
		StatusCooldown:  2 * time.Second,
		HistorySize:     10,
		ChirpDelay:      5 * time.Minute,
		ChirpTemplates: []string{
			"The boss has been up for {T}. Did anyone kill it?",
			"Boss up for {T}! Use /kill once it is down",
			"@everyone the boss has been up for {T}!",
		},
		SendTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FixedDelay <= 0 {
		c.FixedDelay = d.FixedDelay
	}
	if len(c.AlertThresholds) == 0 {
		c.AlertThresholds = d.AlertThresholds
	}
	if c.StatusCooldown < 0 {
		c.StatusCooldown = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.ChirpDelay <= 0 {
		c.ChirpDelay = d.ChirpDelay
	}
	if len(c.ChirpTemplates) == 0 {
		c.ChirpTemplates = d.ChirpTemplates
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	return c
}

type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		if o != nil {
			t.obs = o
		}
	}
}

// Tracker is the per-channel encounter state machine.
type Tracker struct {
	cfg       Config
	channelID string
	store     storage.Store
	history   *KillHistory
	msg       Messenger
	log       logx.Logger
	now       func() time.Time
	obs       Observer

	mu      sync.Mutex
	level   *int
	nextAt  time.Time // zero when unknown
	status  *MessageHandle
	alerts  *AlertScheduler
	chirp   *ChirpEscalator
	edits   *rate.Limiter
	retryAt time.Time
}

func New(cfg Config, channelID string, store storage.Store, msg Messenger, log logx.Logger, opts ...Option) *Tracker {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.StatusCooldown > 0 {
		limit = rate.Every(cfg.StatusCooldown)
	}
	t := &Tracker{
		cfg:       cfg,
		channelID: channelID,
		store:     store,
		history:   NewKillHistory(store, channelID),
		msg:       msg,
		log:       log.With(logx.String("comp", "tracker"), logx.String("channel", channelID)),
		now:       time.Now,
		obs:       nopObserver{},
		alerts:    NewAlertScheduler(cfg.AlertThresholds),
		chirp:     NewChirpEscalator(cfg.ChirpDelay, cfg.ChirpTemplates),
		edits:     rate.NewLimiter(limit, 1),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) ChannelID() string { return t.channelID }

// Initialize loads the channel row, unpins a status message left behind by a
// previous process and announces readiness.
func (t *Tracker) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	clan, err := t.store.FetchOrCreateClan(ctx, t.channelID)
	if err != nil {
		return persistErr("fetch clan", err)
	}
	if clan.StatusMessageID != "" {
		if err := t.msg.UnpinByID(ctx, clan.StatusMessageID); err != nil {
			t.messagingFailed("unpin", err)
		}
		clan.StatusMessageID = ""
		if err := t.store.UpdateClan(ctx, clan); err != nil {
			return persistErr("clear stale status", err)
		}
	}
	t.restoreLocked(clan)
	t.log.Info("tracker initialized",
		logx.String("state", t.stateLocked(t.now()).String()),
		logx.Bool("level_known", t.level != nil),
	)
	t.say(ctx, msgAlive)
	return nil
}

// Reload rebuilds in-memory state from storage and drops the live status
// message, which the next tick recreates.
func (t *Tracker) Reload(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	clan, err := t.store.FetchOrCreateClan(ctx, t.channelID)
	if err != nil {
		return persistErr("fetch clan", err)
	}
	t.clearStatusLocked(ctx)
	t.restoreLocked(clan)
	return nil
}

// Kill records a kill at the current time and starts the next cooldown.
func (t *Tracker) Kill(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.stateLocked(now) == StateArmed {
		t.say(ctx, msgNotYet)
		return fmt.Errorf("kill: %w", ErrStateConflict)
	}
	if err := t.history.Append(ctx, now, t.level); err != nil {
		return persistErr("append kill", err)
	}
	t.level = incremented(t.level)
	t.obs.KillRecorded()

	t.clearStatusLocked(ctx)
	t.chirp.Reset()
	t.nextAt = now.Add(t.cfg.FixedDelay)
	if err := t.saveLocked(ctx); err != nil {
		return err
	}
	t.announceLastKillLocked(ctx)
	if t.level != nil {
		t.say(ctx, bonusMessage(t.level))
	}
	return nil
}

// SetNextEncounter sets the next encounter to now+d.
//
// While Expired this is an implicit kill dated now+d-FixedDelay. Otherwise the
// newest history record is amended to that date instead.
func (t *Tracker) SetNextEncounter(ctx context.Context, d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	killedAt := now.Add(d - t.cfg.FixedDelay)
	next := now.Add(d)

	if t.stateLocked(now) == StateExpired {
		if err := t.history.Append(ctx, killedAt, t.level); err != nil {
			return persistErr("append kill", err)
		}
		t.level = incremented(t.level)
		t.obs.KillRecorded()

		t.clearStatusLocked(ctx)
		t.chirp.Reset()
		t.nextAt = next
		if err := t.saveLocked(ctx); err != nil {
			return err
		}
		t.announceLastKillLocked(ctx)
		if t.level != nil {
			t.say(ctx, bonusMessage(t.level))
		}
		return nil
	}

	level, err := t.amendLevelLocked(ctx)
	if err != nil {
		return err
	}
	if err := t.history.ReplaceLast(ctx, killedAt, level); err != nil {
		return persistErr("amend kill", err)
	}
	t.clearStatusLocked(ctx)
	t.chirp.Reset()
	t.nextAt = next
	if err := t.saveLocked(ctx); err != nil {
		return err
	}
	return t.reloadLocked(ctx)
}

// SetLevel sets the clan level and aligns the newest history record with it.
func (t *Tracker) SetLevel(ctx context.Context, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.level = &n
	if err := t.saveLocked(ctx); err != nil {
		return err
	}
	if err := t.history.CorrectLastLevel(ctx, n-1); err != nil {
		return persistErr("correct kill level", err)
	}
	t.say(ctx, bonusMessage(t.level))
	return nil
}

func (t *Tracker) QueryLevel(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.say(ctx, bonusMessage(t.level))
	return nil
}

func (t *Tracker) QueryHistory(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	text, err := t.historyTextLocked(ctx)
	if err != nil {
		return err
	}
	t.say(ctx, text)
	return nil
}

// HistoryText returns the rendered history table, or the no-history notice.
func (t *Tracker) HistoryText(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.historyTextLocked(ctx)
}

func (t *Tracker) historyTextLocked(ctx context.Context) (string, error) {
	recs, err := t.history.Last(ctx, t.cfg.HistorySize+1)
	if err != nil {
		return "", persistErr("load history", err)
	}
	text, ok := RenderHistory(recs, t.level, t.cfg.FixedDelay)
	if !ok {
		return msgNoHistory, nil
	}
	return text, nil
}

// QueryTimer reports the timer. While Armed it recreates and pins the status
// message immediately.
func (t *Tracker) QueryTimer(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	switch t.stateLocked(now) {
	case StateUnknown:
		t.say(ctx, msgNoTimer)
		return nil
	case StateExpired:
		t.say(ctx, msgInProgress)
		return nil
	}
	return t.createStatusLocked(ctx, now)
}

// Tick advances the status, alert and chirp cycles. It is called on a fixed
// short cadence.
func (t *Tracker) Tick(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.obs.Tick()
	ctx, cancel := context.WithTimeout(ctx, t.cfg.SendTimeout)
	defer cancel()

	now := t.now()
	switch t.stateLocked(now) {
	case StateUnknown:
		return nil
	case StateExpired:
		return t.chirpLocked(ctx, now)
	}

	if t.status == nil {
		if now.Before(t.retryAt) {
			return nil
		}
		return t.createStatusLocked(ctx, now)
	}

	remaining := t.nextAt.Sub(now)
	if t.edits.AllowN(now, 1) {
		if err := t.msg.Edit(ctx, *t.status, statusText(remaining)); err != nil {
			t.messagingFailed("edit", err)
			t.clearStatusLocked(ctx)
			t.retryAt = now.Add(t.cfg.StatusCooldown)
			return messagingErr("edit status", err)
		}
		t.obs.StatusEdited()
	}
	if t.alerts.Step(remaining.Truncate(time.Second)) {
		if _, err := t.msg.Send(ctx, "@everyone "+statusText(remaining)); err != nil {
			t.messagingFailed("alert", err)
			return messagingErr("send alert", err)
		}
		t.obs.AlertSent()
	}
	return nil
}

func (t *Tracker) chirpLocked(ctx context.Context, now time.Time) error {
	if !t.chirp.Active() {
		t.chirp.Activate(t.nextAt)
	}
	text, ok := t.chirp.Step(now)
	if !ok {
		return nil
	}
	if _, err := t.msg.Send(ctx, text); err != nil {
		t.messagingFailed("chirp", err)
		return messagingErr("send chirp", err)
	}
	t.obs.ChirpSent()
	return nil
}

// createStatusLocked sends and pins a fresh status message and arms the alert
// cycle. A previous status message is unpinned first.
func (t *Tracker) createStatusLocked(ctx context.Context, now time.Time) error {
	t.clearStatusLocked(ctx)

	remaining := t.nextAt.Sub(now)
	h, err := t.msg.Send(ctx, statusText(remaining))
	if err != nil {
		t.messagingFailed("send", err)
		t.retryAt = now.Add(t.cfg.StatusCooldown)
		return messagingErr("send status", err)
	}
	t.status = &h
	t.alerts.Arm(remaining.Truncate(time.Second))
	t.retryAt = time.Time{}

	// An unpinned status message still works; keep the handle so a missing pin
	// permission does not make every tick post a new message.
	var pinErr error
	if err := t.msg.Pin(ctx, h); err != nil {
		t.messagingFailed("pin", err)
		pinErr = messagingErr("pin status", err)
	}
	if err := t.saveLocked(ctx); err != nil {
		return err
	}
	return pinErr
}

// clearStatusLocked unpins (best effort) and forgets the live status message.
func (t *Tracker) clearStatusLocked(ctx context.Context) {
	if t.status == nil {
		return
	}
	if err := t.msg.Unpin(ctx, *t.status); err != nil {
		t.messagingFailed("unpin", err)
	}
	t.status = nil
	t.alerts.Disarm()
}

func (t *Tracker) announceLastKillLocked(ctx context.Context) {
	recs, err := t.history.Last(ctx, 2)
	if err != nil {
		t.log.Warn("load last kills failed", logx.Err(err))
		return
	}
	if len(recs) < 2 {
		return
	}
	elapsed := roundSeconds(recs[0].KilledAt.Sub(recs[1].KilledAt) - t.cfg.FixedDelay)
	t.say(ctx, "Boss killed in "+FormatDuration(elapsed)+".")
}

// amendLevelLocked picks the level for an amended newest record: the stored
// one if any, else the level preceding the current one.
func (t *Tracker) amendLevelLocked(ctx context.Context) (*int, error) {
	recs, err := t.history.Last(ctx, 1)
	if err != nil {
		return nil, persistErr("load last kill", err)
	}
	if len(recs) > 0 {
		return recs[0].Level, nil
	}
	if t.level == nil {
		return nil, nil
	}
	prev := *t.level - 1
	return &prev, nil
}

func (t *Tracker) reloadLocked(ctx context.Context) error {
	clan, err := t.store.FetchOrCreateClan(ctx, t.channelID)
	if err != nil {
		return persistErr("fetch clan", err)
	}
	t.clearStatusLocked(ctx)
	t.restoreLocked(clan)
	return nil
}

func (t *Tracker) restoreLocked(c storage.Clan) {
	t.level = copyInt(c.Level)
	t.nextAt = time.Time{}
	if c.NextEncounterAt != nil {
		t.nextAt = *c.NextEncounterAt
	}
	t.status = nil
	t.alerts.Disarm()
	t.chirp.Reset()
	t.retryAt = time.Time{}
}

func (t *Tracker) saveLocked(ctx context.Context) error {
	c := storage.Clan{ChannelID: t.channelID, Level: copyInt(t.level)}
	if !t.nextAt.IsZero() {
		next := t.nextAt
		c.NextEncounterAt = &next
	}
	if t.status != nil {
		c.StatusMessageID = t.status.ID
	}
	if err := t.store.UpdateClan(ctx, c); err != nil {
		return persistErr("save clan", err)
	}
	return nil
}

func (t *Tracker) stateLocked(now time.Time) State {
	switch {
	case t.nextAt.IsZero():
		return StateUnknown
	case t.nextAt.After(now):
		return StateArmed
	default:
		return StateExpired
	}
}

func (t *Tracker) say(ctx context.Context, text string) {
	if _, err := t.msg.Send(ctx, text); err != nil {
		t.messagingFailed("send", err)
	}
}

func (t *Tracker) messagingFailed(op string, err error) {
	t.log.Warn("messaging failed", logx.String("op", op), logx.Err(err))
	t.obs.MessagingFailed(op)
}

// Snapshot is a read-only view of tracker state.
type Snapshot struct {
	ChannelID       string
	State           State
	Level           *int
	NextEncounterAt time.Time
	StatusMessageID string
	PendingAlerts   []time.Duration
	ChirpActive     bool
	NextChirpAt     time.Time
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		ChannelID:       t.channelID,
		State:           t.stateLocked(t.now()),
		Level:           copyInt(t.level),
		NextEncounterAt: t.nextAt,
		PendingAlerts:   t.alerts.Pending(),
		ChirpActive:     t.chirp.Active(),
		NextChirpAt:     t.chirp.NextAt(),
	}
	if t.status != nil {
		s.StatusMessageID = t.status.ID
	}
	return s
}

func statusText(remaining time.Duration) string {
	return "Next boss in " + FormatDuration(wholeSeconds(remaining))
}

func bonusMessage(level *int) string {
	if level == nil {
		return msgNoLevel
	}
	return fmt.Sprintf("Clan level is %d with a bonus of %s", *level, BonusString(level))
}

func incremented(level *int) *int {
	if level == nil {
		return nil
	}
	v := *level + 1
	return &v
}
