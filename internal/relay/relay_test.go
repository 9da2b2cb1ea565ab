package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shohag/fanrelay/internal/delivery"
	"github.com/shohag/fanrelay/internal/models"
	"github.com/shohag/fanrelay/internal/storage"
)

var tz = time.FixedZone("UTC+8", 8*3600)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(date, hhmm string) *clock {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, tz)
	if err != nil {
		panic(err)
	}
	return &clock{t: t}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

type sentCall struct {
	Endpoint models.Endpoint
	Payload  delivery.Payload
}

type fakeSender struct {
	mu      sync.Mutex
	calls   []sentCall
	fail    map[string]bool
	panicOn string
	delay   time.Duration
}

func (s *fakeSender) Send(_ context.Context, ep models.Endpoint, p delivery.Payload) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.calls = append(s.calls, sentCall{Endpoint: ep, Payload: p})
	fail := s.fail[ep.Name]
	s.mu.Unlock()
	if ep.Name == s.panicOn {
		panic("boom")
	}
	if fail {
		return errors.New("destination rejected")
	}
	return nil
}

func (s *fakeSender) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Endpoint.Name)
	}
	return out
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

type memStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

func (s *memStore) Load(context.Context) (*storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, storage.ErrSnapshotNotFound
	}
	var snap storage.Snapshot
	if err := json.Unmarshal(s.data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *memStore) Save(_ context.Context, snap *storage.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.saves++
	s.mu.Unlock()
	return nil
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type fakeImages struct {
	mu     sync.Mutex
	calls  int
	err    error
	ctxErr error
}

func (f *fakeImages) Upload(ctx context.Context, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return "", f.err
	}
	return "img_key_1", nil
}

type fakeSink struct {
	mu    sync.Mutex
	creds []models.Credentials
}

func (f *fakeSink) SetCredentials(c models.Credentials) {
	f.mu.Lock()
	f.creds = append(f.creds, c)
	f.mu.Unlock()
}

var testMarkers = []string{"偵測到HP血條", "BOSS存在", "⏰ 時間:", "🩸"}

type harness struct {
	m      *Manager
	sender *fakeSender
	store  *memStore
	images *fakeImages
	sink   *fakeSink
	clock  *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sender: &fakeSender{fail: map[string]bool{}},
		store:  &memStore{},
		images: &fakeImages{},
		sink:   &fakeSink{},
		clock:  newClock("2026-03-01", "12:00"),
	}
	h.m = New(Deps{
		Store:  h.store,
		Sender: h.sender,
		Images: h.images,
		Sink:   h.sink,
	}, Options{
		HistorySize:  50,
		NoiseMarkers: testMarkers,
		SaveDebounce: 10 * time.Millisecond,
		Timezone:     "UTC+8",
		Now:          h.clock.Now,
	}, zerolog.Nop())
	return h
}

func (h *harness) group(t *testing.T, id string, mode models.Mode) *Group {
	t.Helper()
	g, _, err := h.m.CreateGroup(id, "")
	require.NoError(t, err)
	_, err = g.SetMode(string(mode))
	require.NoError(t, err)
	return g
}

func addEndpoint(t *testing.T, g *Group, name string, kind models.Kind, fixed bool) string {
	t.Helper()
	ep, _, err := g.AddEndpoint(EndpointInput{URL: "https://hooks.example.com/" + name, Name: name, Kind: kind, Fixed: fixed})
	require.NoError(t, err)
	return ep.ID
}

func outOfSchedule(t *testing.T, g *Group, id string) {
	t.Helper()
	_, err := g.SetEndpointSchedule(id, models.ScheduleDateRange, []models.ScheduleWindow{
		{Date: "2026-02-01", Start: "00:00", End: "23:59"},
	})
	require.NoError(t, err)
}

func text(s string) models.Message { return models.Message{Text: s, Source: "10.0.0.1"} }
