package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shohag/fanrelay/internal/delivery"
	"github.com/shohag/fanrelay/internal/metrics"
	"github.com/shohag/fanrelay/internal/models"
	"github.com/shohag/fanrelay/internal/persist"
	"github.com/shohag/fanrelay/internal/storage"
)

const DefaultGroupID = "default"

type Sender interface {
	Send(ctx context.Context, ep models.Endpoint, p delivery.Payload) error
}

// ImageUploader turns raw image bytes into a reference for destinations
// that need one.
type ImageUploader interface {
	Upload(ctx context.Context, data []byte) (string, error)
}

type CredentialSink interface {
	SetCredentials(creds models.Credentials)
}

type Deps struct {
	Store      storage.SnapshotStore
	Dispatches storage.DispatchLog
	Sender     Sender
	Images     ImageUploader
	Sink       CredentialSink
}

type Options struct {
	HistorySize        int
	NoiseMarkers       []string
	SaveDebounce       time.Duration
	DefaultCredentials models.Credentials
	Timezone           string
	// Now returns the current time in the relay's fixed zone.
	Now func() time.Time
}

// Manager owns every group and the shared collaborators. Lifecycle is
// New, Load, Start, then Stop on shutdown.
type Manager struct {
	store      storage.SnapshotStore
	dispatches storage.DispatchLog
	sender     Sender
	images     ImageUploader
	sink       CredentialSink
	opts       Options
	log        zerolog.Logger
	saver      *persist.Saver
	started    time.Time

	mu     sync.RWMutex
	groups map[string]*Group
	creds  models.Credentials
}

func New(deps Deps, opts Options, log zerolog.Logger) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 50
	}
	if deps.Dispatches == nil {
		deps.Dispatches = storage.NopLog{}
	}
	m := &Manager{
		store:      deps.Store,
		dispatches: deps.Dispatches,
		sender:     deps.Sender,
		images:     deps.Images,
		sink:       deps.Sink,
		opts:       opts,
		log:        log.With().Str("component", "relay").Logger(),
		groups:     map[string]*Group{},
	}
	m.started = opts.Now()
	m.saver = persist.NewSaver(m.writeSnapshot, opts.SaveDebounce, m.log)
	return m
}

// Load restores state from the snapshot store. A missing or unreadable
// snapshot is replaced by the embedded seed, which is written back at once.
func (m *Manager) Load(ctx context.Context) error {
	snap, err := m.store.Load(ctx)
	seeded := false
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			m.log.Warn().Msg("no snapshot found, starting from seed")
		} else {
			m.log.Warn().Err(err).Msg("snapshot unreadable, starting from seed")
			m.quarantine(err)
		}
		if snap, err = storage.Seed(m.opts.Now()); err != nil {
			return fmt.Errorf("load seed: %w", err)
		}
		seeded = true
	}

	m.apply(snap)

	if seeded {
		// a failed write is logged by the saver and retried on the next change
		_ = m.saver.Flush(ctx)
	}
	m.log.Info().Int("groups", len(m.Groups())).Bool("seeded", seeded).Msg("configuration loaded")
	return nil
}

func (m *Manager) quarantine(loadErr error) {
	q, ok := m.store.(storage.Quarantiner)
	if !ok || !errors.Is(loadErr, storage.ErrSnapshotCorrupt) {
		return
	}
	if err := q.Quarantine(); err != nil {
		m.log.Error().Err(err).Msg("failed to set unreadable snapshot aside")
	}
}

func (m *Manager) apply(snap *storage.Snapshot) {
	groups := make(map[string]*Group, len(snap.Groups))
	ids := make([]string, 0, len(snap.Groups))
	for id := range snap.Groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rec := snap.Groups[id]
		clean := SanitizeGroupID(id)
		if _, dup := groups[clean]; dup {
			m.log.Warn().Str("group", id).Str("sanitized", clean).Msg("snapshot group id collides with another after sanitizing, keeping the later one")
		}
		groups[clean] = groupFromRecord(clean, rec, m.opts.HistorySize, m.opts.Now, m.saver.MarkDirty)
	}

	creds := snap.Credentials
	if !creds.Configured() {
		creds = m.opts.DefaultCredentials
	}

	m.mu.Lock()
	m.groups = groups
	m.creds = creds
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.SetCredentials(creds)
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.saver.Start(ctx)
}

// Stop ends background saving and performs the final flush.
func (m *Manager) Stop(ctx context.Context) error {
	return m.saver.Stop(ctx)
}

func (m *Manager) writeSnapshot(ctx context.Context) error {
	err := m.store.Save(ctx, m.Snapshot())
	metrics.RecordSnapshotWrite(err)
	if err != nil {
		return err
	}
	m.log.Debug().Msg("snapshot saved")
	return nil
}

// Snapshot renders the full in-memory state into its durable form.
func (m *Manager) Snapshot() *storage.Snapshot {
	m.mu.RLock()
	creds := m.creds
	groups := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	m.mu.RUnlock()

	snap := storage.NewSnapshot(m.opts.Now(), creds)
	for _, g := range groups {
		snap.Groups[g.id] = g.record()
	}
	return snap
}

// SanitizeGroupID lowercases raw and keeps only [a-z0-9_]. An empty result
// maps to the default group.
func SanitizeGroupID(raw string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return -1
	}, strings.ToLower(raw))
	if clean == "" {
		return DefaultGroupID
	}
	return clean
}

func (m *Manager) Group(id string) (*Group, error) {
	id = SanitizeGroupID(id)
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	return g, nil
}

// Groups returns every group ordered by id.
func (m *Manager) Groups() []*Group {
	m.mu.RLock()
	out := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (m *Manager) CreateGroup(id, name string) (*Group, string, error) {
	if strings.TrimSpace(id) == "" {
		return nil, "", models.Invalid("group_id", "is required")
	}
	id = SanitizeGroupID(id)

	m.mu.Lock()
	if _, ok := m.groups[id]; ok {
		m.mu.Unlock()
		return nil, "", fmt.Errorf("%w: %s", ErrGroupExists, id)
	}
	g := newGroup(id, name, m.opts.HistorySize, m.opts.Now, m.saver.MarkDirty)
	m.groups[id] = g
	m.mu.Unlock()

	m.saver.MarkDirty()
	m.log.Info().Str("group", id).Msg("group created")
	return g, "created: " + id, nil
}

// GroupOrCreate returns the group, creating an empty broadcast group for an
// unknown id.
func (m *Manager) GroupOrCreate(id string) *Group {
	if g, err := m.Group(id); err == nil {
		return g
	}
	id = SanitizeGroupID(id)

	m.mu.Lock()
	g, ok := m.groups[id]
	if !ok {
		g = newGroup(id, "", m.opts.HistorySize, m.opts.Now, m.saver.MarkDirty)
		m.groups[id] = g
	}
	m.mu.Unlock()

	if !ok {
		m.saver.MarkDirty()
		m.log.Info().Str("group", id).Msg("group auto-created by inbound message")
	}
	return g
}

func (m *Manager) DeleteGroup(id string) (string, error) {
	id = SanitizeGroupID(id)
	m.mu.Lock()
	if _, ok := m.groups[id]; !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	delete(m.groups, id)
	m.mu.Unlock()

	m.saver.MarkDirty()
	m.log.Info().Str("group", id).Msg("group deleted")
	return "deleted: " + id, nil
}

func (m *Manager) UpdateCredentials(creds models.Credentials) (string, error) {
	creds.AppID = strings.TrimSpace(creds.AppID)
	creds.AppSecret = strings.TrimSpace(creds.AppSecret)
	if !creds.Configured() {
		return "", models.Invalid("credentials", "app_id and app_secret are required")
	}

	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.SetCredentials(creds)
	}
	m.saver.MarkDirty()
	m.log.Info().Str("app_id", creds.Masked().AppID).Msg("feishu credentials updated")
	return "credentials updated", nil
}

func (m *Manager) Credentials() models.MaskedCredentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds.Masked()
}

// SaveNow writes the snapshot immediately.
func (m *Manager) SaveNow(ctx context.Context) (string, error) {
	if err := m.saver.Flush(ctx); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return "saved", nil
}

// Relay runs one inbound message through the target group. An unknown group
// is created on the fly.
func (m *Manager) Relay(ctx context.Context, groupID string, msg models.Message) Result {
	g := m.GroupOrCreate(groupID)

	p, early := g.plan(msg, m.opts.NoiseMarkers)
	if early != nil {
		if early.Filtered {
			metrics.RecordFiltered(g.id)
			m.log.Info().Str("group", g.id).Msg("text-only noise message filtered")
		} else {
			metrics.RecordReceived(g.id)
			m.log.Warn().Str("group", g.id).Str("reason", early.Message).Msg("nothing to deliver")
		}
		m.recordDispatch(ctx, msg, *early)
		return *early
	}
	metrics.RecordReceived(g.id)

	payload := delivery.Payload{Text: msg.Text, Image: msg.Image}
	if msg.HasImage() && needsImageKey(p.targets) {
		payload.ImageKey = m.uploadImage(context.WithoutCancel(ctx), g.id, msg.Image)
	}

	errs := m.deliver(ctx, p.targets, payload)
	res := g.commit(p, msg, errs)

	for _, o := range res.Outcomes {
		metrics.RecordDelivery(g.id, string(o.Kind), string(o.Status))
		ev := m.log.Info()
		if o.Status == models.StatusFailed {
			ev = m.log.Warn().Str("error", o.Error)
		}
		ev.Str("group", g.id).Str("endpoint", o.Name).Str("status", string(o.Status)).Msg("delivery outcome")
	}
	m.recordDispatch(ctx, msg, res)
	return res
}

func needsImageKey(targets []models.Endpoint) bool {
	for _, ep := range targets {
		if ep.Kind.NeedsImageKey() {
			return true
		}
	}
	return false
}

// uploadImage returns "" on failure; those destinations then get text only.
func (m *Manager) uploadImage(ctx context.Context, group string, data []byte) string {
	if m.images == nil {
		return ""
	}
	key, err := m.images.Upload(ctx, data)
	if err != nil {
		m.log.Warn().Err(err).Str("group", group).Msg("image pre-upload failed, sending text only")
		return ""
	}
	return key
}

// deliver sends to every target in parallel and returns per-target errors.
// Delivery is detached from the caller's cancellation so that bookkeeping
// always matches what was actually sent.
func (m *Manager) deliver(ctx context.Context, targets []models.Endpoint, p delivery.Payload) []error {
	errs := make([]error, len(targets))
	if len(targets) == 0 {
		return errs
	}
	ctx = context.WithoutCancel(ctx)

	var eg errgroup.Group
	for i, ep := range targets {
		i, ep := i, ep
		eg.Go(func() error {
			errs[i] = m.send(ctx, ep, p)
			return nil
		})
	}
	_ = eg.Wait()
	return errs
}

func (m *Manager) send(ctx context.Context, ep models.Endpoint, p delivery.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return m.sender.Send(ctx, ep, p)
}

func (m *Manager) recordDispatch(ctx context.Context, msg models.Message, res Result) {
	rec := &storage.DispatchRecord{
		ID:        models.NewID("dsp"),
		GroupID:   res.GroupID,
		Mode:      res.Mode,
		Content:   msg.Text,
		Source:    msg.Source,
		HasImage:  msg.HasImage(),
		Filtered:  res.Filtered,
		Success:   res.Success,
		Message:   res.Message,
		Outcomes:  res.Outcomes,
		CreatedAt: m.opts.Now(),
	}
	if err := m.dispatches.RecordDispatch(context.WithoutCancel(ctx), rec); err != nil {
		m.log.Error().Err(err).Str("group", res.GroupID).Msg("failed to record dispatch")
	}
}

// TestEndpoint sends text straight to one endpoint, bypassing mode and
// schedule. ok reports the delivery result; err is only set for lookups.
func (m *Manager) TestEndpoint(ctx context.Context, groupID, endpointID, text string) (bool, string, error) {
	g, err := m.Group(groupID)
	if err != nil {
		return false, "", err
	}
	ep, err := g.Endpoint(endpointID)
	if err != nil {
		return false, "", err
	}
	if strings.TrimSpace(text) == "" {
		text = "[test] " + ep.Name
	}

	sendErr := m.send(ctx, ep, delivery.Payload{Text: text})
	g.recordTestOutcome(ep.ID, sendErr == nil)
	status := models.StatusDelivered
	if sendErr != nil {
		status = models.StatusFailed
	}
	metrics.RecordDelivery(g.id, string(ep.Kind), string(status))

	if sendErr != nil {
		m.log.Warn().Err(sendErr).Str("group", g.id).Str("endpoint", ep.Name).Msg("test send failed")
		return false, "send failed: " + sendErr.Error(), nil
	}
	return true, "sent", nil
}

// Dispatches pages through the durable dispatch log of one group.
func (m *Manager) Dispatches(ctx context.Context, groupID string, limit, offset int) ([]storage.DispatchRecord, error) {
	g, err := m.Group(groupID)
	if err != nil {
		return nil, err
	}
	return m.dispatches.ListDispatches(ctx, g.id, limit, offset)
}
