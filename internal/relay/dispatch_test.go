package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/fanrelay/internal/models"
)

func TestRoundRobin_SkipsDisabledAndWraps(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "x", models.ModeRoundRobin)
	addEndpoint(t, g, "E1", models.KindDiscord, false)
	addEndpoint(t, g, "E2", models.KindDiscord, false)
	e3 := addEndpoint(t, g, "E3", models.KindDiscord, false)
	_, err := g.SetEndpointEnabled(e3, false)
	require.NoError(t, err)

	ctx := context.Background()
	cursors := []int{g.cursor}
	for i := 0; i < 3; i++ {
		res := h.m.Relay(ctx, "x", text(fmt.Sprintf("msg %d", i)))
		require.True(t, res.Success)
		cursors = append(cursors, g.cursor)
	}

	assert.Equal(t, []string{"E1", "E2", "E1"}, h.sender.names())
	assert.Equal(t, []int{0, 1, 0, 1}, cursors)
}

func TestRoundRobin_PeriodN(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "rr", models.ModeRoundRobin)
	for i := 0; i < 4; i++ {
		addEndpoint(t, g, fmt.Sprintf("ep%d", i), models.KindDiscord, false)
	}

	for i := 0; i < 8; i++ {
		h.m.Relay(context.Background(), "rr", text("hello"))
	}

	names := h.sender.names()
	require.Len(t, names, 8)
	assert.ElementsMatch(t, []string{"ep0", "ep1", "ep2", "ep3"}, names[:4])
	assert.Equal(t, names[:4], names[4:])
}

func TestRoundRobin_SingleCoveredAlwaysSelected(t *testing.T) {
	for start := 0; start < 3; start++ {
		t.Run(fmt.Sprintf("cursor=%d", start), func(t *testing.T) {
			h := newHarness(t)
			g := h.group(t, "rr", models.ModeRoundRobin)
			a := addEndpoint(t, g, "A", models.KindDiscord, false)
			addEndpoint(t, g, "B", models.KindDiscord, false)
			c := addEndpoint(t, g, "C", models.KindDiscord, false)
			outOfSchedule(t, g, a)
			outOfSchedule(t, g, c)
			g.cursor = start

			res := h.m.Relay(context.Background(), "rr", text("hello"))

			assert.True(t, res.Success)
			assert.Equal(t, []string{"B"}, h.sender.names())
			assert.Equal(t, 2, g.cursor)
		})
	}
}

func TestRoundRobin_SkippedAreReported(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "rr", models.ModeRoundRobin)
	a := addEndpoint(t, g, "A", models.KindDiscord, false)
	addEndpoint(t, g, "B", models.KindWeCom, false)
	outOfSchedule(t, g, a)

	res := h.m.Relay(context.Background(), "rr", text("hello"))

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, models.StatusSkipped, res.Outcomes[0].Status)
	assert.Equal(t, models.StatusDelivered, res.Outcomes[1].Status)
	assert.Equal(t, "[round-robin] delivered: 1, skipped: 1", res.Message)
}

func TestRoundRobin_AllOutOfSchedule(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "rr", models.ModeRoundRobin)
	a := addEndpoint(t, g, "A", models.KindDiscord, false)
	b := addEndpoint(t, g, "B", models.KindDiscord, false)
	outOfSchedule(t, g, a)
	outOfSchedule(t, g, b)
	g.cursor = 1

	res := h.m.Relay(context.Background(), "rr", text("hello"))

	assert.False(t, res.Success)
	assert.Equal(t, msgAllOutOfWindow, res.Message)
	assert.Len(t, res.Outcomes, 2)
	assert.Empty(t, h.sender.names())
	assert.Equal(t, 1, g.cursor, "cursor does not move when nothing was selected")
}

func TestRoundRobin_FixedExcludedFromRotation(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "rr", models.ModeRoundRobin)
	addEndpoint(t, g, "F", models.KindDiscord, true)
	addEndpoint(t, g, "A", models.KindDiscord, false)
	addEndpoint(t, g, "B", models.KindDiscord, false)

	for _, want := range []string{"A", "B", "A", "B"} {
		h.sender.reset()
		h.m.Relay(context.Background(), "rr", text("hello"))
		assert.ElementsMatch(t, []string{"F", want}, h.sender.names())
	}
}

func TestRoundRobin_FixedFiresWhenRotationEmpty(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "rr", models.ModeRoundRobin)
	addEndpoint(t, g, "F", models.KindDiscord, true)
	a := addEndpoint(t, g, "A", models.KindDiscord, false)
	outOfSchedule(t, g, a)

	res := h.m.Relay(context.Background(), "rr", text("hello"))

	assert.True(t, res.Success)
	assert.Equal(t, []string{"F"}, h.sender.names())
}

func TestBroadcast_CoveredOnly(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "b", models.ModeBroadcast)
	addEndpoint(t, g, "A", models.KindDiscord, false)
	b := addEndpoint(t, g, "B", models.KindDiscord, false)
	c := addEndpoint(t, g, "C", models.KindWeCom, false)
	addEndpoint(t, g, "D", models.KindFeishu, false)
	outOfSchedule(t, g, b)
	_, err := g.SetEndpointEnabled(c, false)
	require.NoError(t, err)

	res := h.m.Relay(context.Background(), "b", text("hello"))

	assert.True(t, res.Success)
	assert.ElementsMatch(t, []string{"A", "D"}, h.sender.names())
	assert.Equal(t, "[broadcast] delivered: 2, skipped: 1", res.Message)
	assert.Len(t, res.Outcomes, 3, "disabled endpoints are not reported")
}

func TestBroadcast_FailuresCounted(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "b", models.ModeBroadcast)
	addEndpoint(t, g, "good", models.KindDiscord, false)
	bad := addEndpoint(t, g, "bad", models.KindDiscord, false)
	h.sender.fail["bad"] = true

	res := h.m.Relay(context.Background(), "b", text("hello"))

	assert.True(t, res.Success)
	assert.Equal(t, "[broadcast] delivered: 1, failed: 1", res.Message)
	c := g.Counters()
	assert.Equal(t, GroupCounters{Received: 1, Delivered: 1, Failed: 1}, c)

	ep, err := g.Endpoint(bad)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ep.Stats.Failed)
	assert.Equal(t, int64(0), ep.Stats.Delivered)
}

func TestBroadcast_AllFailedIsFailure(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "b", models.ModeBroadcast)
	addEndpoint(t, g, "bad", models.KindDiscord, false)
	h.sender.fail["bad"] = true

	res := h.m.Relay(context.Background(), "b", text("hello"))

	assert.False(t, res.Success)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "destination rejected", res.Outcomes[0].Error)
}

func TestFixed_AttemptedUnderBothModes(t *testing.T) {
	for _, mode := range []models.Mode{models.ModeBroadcast, models.ModeRoundRobin} {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			g := h.group(t, "f", mode)
			addEndpoint(t, g, "F", models.KindDiscord, true)
			addEndpoint(t, g, "A", models.KindDiscord, false)

			res := h.m.Relay(context.Background(), "f", text("hello"))

			assert.True(t, res.Success)
			assert.Contains(t, h.sender.names(), "F")
			assert.True(t, res.Outcomes[0].Fixed)
		})
	}
}

func TestFixed_StillHonoursSchedule(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "f", models.ModeBroadcast)
	f := addEndpoint(t, g, "F", models.KindDiscord, true)
	addEndpoint(t, g, "A", models.KindDiscord, false)
	outOfSchedule(t, g, f)

	res := h.m.Relay(context.Background(), "f", text("hello"))

	assert.Equal(t, []string{"A"}, h.sender.names())
	assert.Equal(t, models.StatusSkipped, res.Outcomes[0].Status)
}

func TestNoiseFilter(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "n", models.ModeBroadcast)
	addEndpoint(t, g, "A", models.KindDiscord, false)

	res := h.m.Relay(context.Background(), "n", text("偵測到HP血條 75%"))

	assert.True(t, res.Success)
	assert.True(t, res.Filtered)
	assert.Empty(t, h.sender.names())
	assert.Zero(t, g.Counters().Received)

	hist := g.History(0)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Filtered)
}

func TestNoiseFilter_ImageBypasses(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "n", models.ModeBroadcast)
	addEndpoint(t, g, "A", models.KindDiscord, false)

	msg := models.Message{Text: "BOSS存在", Image: []byte("png")}
	res := h.m.Relay(context.Background(), "n", msg)

	assert.False(t, res.Filtered)
	assert.Equal(t, []string{"A"}, h.sender.names())
}

func TestEmptyGroup(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "e", models.ModeRoundRobin)
	a := addEndpoint(t, g, "A", models.KindDiscord, false)
	_, err := g.SetEndpointEnabled(a, false)
	require.NoError(t, err)

	res := h.m.Relay(context.Background(), "e", text("hello"))

	assert.False(t, res.Success)
	assert.Equal(t, msgNoEndpoint, res.Message)
	assert.Empty(t, res.Outcomes)
	assert.Equal(t, 0, g.cursor)
	assert.Equal(t, int64(1), g.Counters().Received)
}

func TestRelay_AutoCreatesGroup(t *testing.T) {
	h := newHarness(t)

	res := h.m.Relay(context.Background(), "New-Boss!", text("hello"))

	assert.False(t, res.Success)
	assert.Equal(t, "newboss", res.GroupID)
	_, err := h.m.Group("newboss")
	assert.NoError(t, err)
}

func TestRelay_ImageKeyOnlyWhenFeishuSelected(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "img", models.ModeBroadcast)
	addEndpoint(t, g, "dc", models.KindDiscord, false)

	h.m.Relay(context.Background(), "img", models.Message{Text: "pic", Image: []byte("png")})
	assert.Zero(t, h.images.calls)

	addEndpoint(t, g, "fs", models.KindFeishu, false)
	h.sender.reset()
	h.m.Relay(context.Background(), "img", models.Message{Text: "pic", Image: []byte("png")})
	assert.Equal(t, 1, h.images.calls)
	for _, c := range h.sender.calls {
		assert.Equal(t, "img_key_1", c.Payload.ImageKey)
		assert.Equal(t, []byte("png"), c.Payload.Image)
	}
}

func TestRelay_ImageUploadOutlivesCallerCancel(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "img", models.ModeBroadcast)
	addEndpoint(t, g, "fs", models.KindFeishu, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.m.Relay(ctx, "img", models.Message{Text: "pic", Image: []byte("png")})

	assert.True(t, res.Success)
	assert.Equal(t, 1, h.images.calls)
	assert.NoError(t, h.images.ctxErr)
	require.Len(t, h.sender.calls, 1)
	assert.Equal(t, "img_key_1", h.sender.calls[0].Payload.ImageKey)
}

func TestRelay_ImageUploadFailureSendsText(t *testing.T) {
	h := newHarness(t)
	h.images.err = fmt.Errorf("no credentials")
	g := h.group(t, "img", models.ModeBroadcast)
	addEndpoint(t, g, "fs", models.KindFeishu, false)

	res := h.m.Relay(context.Background(), "img", models.Message{Text: "pic", Image: []byte("png")})

	assert.True(t, res.Success)
	require.Len(t, h.sender.calls, 1)
	assert.Empty(t, h.sender.calls[0].Payload.ImageKey)
}

func TestRelay_SenderPanicIsFailure(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "p", models.ModeBroadcast)
	addEndpoint(t, g, "A", models.KindDiscord, false)
	addEndpoint(t, g, "B", models.KindDiscord, false)
	h.sender.panicOn = "A"

	res := h.m.Relay(context.Background(), "p", text("hello"))

	assert.True(t, res.Success)
	assert.Equal(t, "[broadcast] delivered: 1, failed: 1", res.Message)
}

func TestRelay_ConcurrentRoundRobinLosesNoCursorUpdates(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "c", models.ModeRoundRobin)
	for i := 0; i < 4; i++ {
		addEndpoint(t, g, fmt.Sprintf("ep%d", i), models.KindDiscord, false)
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.m.Relay(context.Background(), "c", text("hello"))
		}()
	}
	wg.Wait()

	counts := map[string]int{}
	for _, n := range h.sender.names() {
		counts[n]++
	}
	assert.Equal(t, map[string]int{"ep0": 10, "ep1": 10, "ep2": 10, "ep3": 10}, counts)
	assert.Equal(t, int64(40), g.Counters().Delivered)
}

func TestRelay_HistoryNewestFirstAndBounded(t *testing.T) {
	h := newHarness(t)
	g := h.group(t, "h", models.ModeBroadcast)
	addEndpoint(t, g, "A", models.KindDiscord, false)

	for i := 0; i < 60; i++ {
		h.m.Relay(context.Background(), "h", text(fmt.Sprintf("msg %02d", i)))
	}

	hist := g.History(0)
	require.Len(t, hist, 50)
	assert.Equal(t, "msg 59", hist[0].Content)
	assert.Equal(t, "msg 10", hist[49].Content)
	assert.Equal(t, "[OK]DC A", hist[0].Status)
	assert.Equal(t, "10.0.0.1", hist[0].Source)

	assert.Len(t, g.Stats().History, 20)
}
