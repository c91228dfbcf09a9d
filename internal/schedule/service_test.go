package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasender/internal/compose"
	"wasender/internal/config"
	"wasender/internal/devices"
	"wasender/internal/dispatch"
	"wasender/internal/message"
	kit "wasender/internal/transport"
)

type submission struct {
	fields message.Fields
	sel    devices.Selection
}

type fakeSubmitter struct {
	mu   sync.Mutex
	got  []submission
	res  dispatch.Result
	err  error
	line string
}

func (f *fakeSubmitter) Submit(ctx context.Context, form *compose.Form, _ compose.Actor, sink compose.Sink) (dispatch.Result, error) {
	fields, sel := form.Snapshot()
	f.mu.Lock()
	f.got = append(f.got, submission{fields: fields, sel: sel})
	res, err, line := f.res, f.err, f.line
	f.mu.Unlock()
	if err != nil {
		sink.Failure(ctx, err.Error())
		return dispatch.Result{}, err
	}
	if line != "" {
		sink.Success(ctx, line)
	}
	return res, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []kit.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, nt kit.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, nt)
	return nil
}

func TestNormalizeSpec(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"*/5 * * * *", "*/5 * * * *"},
		{"0 30 9 * * 1-5", "0 30 9 * * 1-5"},
		{"@daily", "@daily"},
		{"cron:0 9 * * *", "0 9 * * *"},
		{"09:30", "30 9 * * *"},
		{"55m", "@every 55m0s"},
		{"every:2h", "@every 2h0m0s"},
	}
	for _, tc := range cases {
		got, err := NormalizeSpec(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "soon", "25:00", "* * *", "every:10ms", "@every nope"} {
		_, err := NormalizeSpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.SchedulerConfig{Enabled: true, Timezone: " Asia/Jakarta "}, []config.ScheduleConfig{
		{Name: "morning", Spec: "07:00", Type: "status", Text: "gm", Devices: []string{"all"}, Duration: 86400},
		{Name: "pick", Spec: "@hourly", Type: "status", Text: "hi", Devices: []string{"A", "B"}},
		{Name: "dm", Spec: "@daily", Type: "group", Recipient: "1203", Text: "hello", MentionEveryone: true},
		{Name: "bad", Spec: "@daily", Type: "fax", Text: "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `schedule "bad"`)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "Asia/Jakarta", cfg.Timezone)
	require.Len(t, cfg.Entries, 3)
	assert.True(t, cfg.Entries[0].Selection.All)
	assert.Equal(t, 86400, cfg.Entries[0].Fields.DurationSeconds)
	assert.Equal(t, []string{"A", "B"}, cfg.Entries[1].Selection.IDs)
	assert.True(t, cfg.Entries[2].Selection.Empty())
	assert.Equal(t, message.Group, cfg.Entries[2].Fields.Type)
	assert.True(t, cfg.Entries[2].Fields.MentionEveryone)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Config{Entries: []Entry{
		{Name: "ok", Spec: "@daily", Fields: message.Fields{Type: message.Status, Text: "x"}},
	}}))

	err := Validate(Config{Timezone: "Mars/Olympus", Entries: []Entry{
		{Name: "spec", Spec: "never", Fields: message.Fields{Type: message.Status, Text: "x"}},
		{Name: "draft", Spec: "@daily", Fields: message.Fields{Type: message.User, Text: "x"}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mars/Olympus")
	assert.Contains(t, err.Error(), `schedule "spec"`)
	assert.ErrorIs(t, err, message.ErrEmptyRecipient)
}

func TestRunNowSubmitsDraftAndReports(t *testing.T) {
	sub := &fakeSubmitter{res: dispatch.Result{ID: "d1", SuccessCount: 2}, line: "Success sent to 2 devices."}
	n := &fakeNotifier{}
	s := New(sub, WithReport(n, kit.ChatTarget{ChatID: 9}))
	require.NoError(t, s.Apply(Config{Entries: []Entry{{
		Name:      "morning",
		Spec:      "@daily",
		Fields:    message.Fields{Type: message.Status, Text: "gm"},
		Selection: devices.SelectAll(),
	}}}))

	res, err := s.RunNow(context.Background(), "morning")
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)

	require.Equal(t, 1, sub.count())
	assert.Equal(t, "gm", sub.got[0].fields.Text)
	assert.True(t, sub.got[0].sel.All)

	require.Len(t, n.got, 1)
	assert.Equal(t, int64(9), n.got[0].Target.ChatID)
	assert.Equal(t, "✅ [morning] Success sent to 2 devices.", n.got[0].Text)

	info := s.Snapshot()
	require.Len(t, info, 1)
	assert.Equal(t, 2, info[0].Success)
	assert.False(t, info[0].LastRun.IsZero())
	assert.Empty(t, info[0].LastErr)
}

func TestRunNowRecordsFailure(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("gateway down")}
	s := New(sub)
	require.NoError(t, s.Apply(Config{Entries: []Entry{{Name: "x", Spec: "@daily", Fields: message.Fields{Type: message.Status, Text: "t"}}}}))

	_, err := s.RunNow(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, "gateway down", s.Snapshot()[0].LastErr)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorContains(t, err, "unknown schedule")
}

func TestApplySkipsInvalidSpecs(t *testing.T) {
	s := New(&fakeSubmitter{})
	err := s.Apply(Config{Entries: []Entry{
		{Name: "good", Spec: "@hourly"},
		{Name: "bad", Spec: "whenever"},
	}})
	require.Error(t, err)
	info := s.Snapshot()
	require.Len(t, info, 1)
	assert.Equal(t, "good", info[0].Name)
}

func TestStartTriggersEntries(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(sub)
	require.NoError(t, s.Apply(Config{Enabled: true, Entries: []Entry{
		{Name: "tick", Spec: "@every 1s", Fields: message.Fields{Type: message.Status, Text: "t"}},
		{Name: "off", Spec: "@every 1s", Fields: message.Fields{Type: message.Status, Text: "t"}, Disabled: true},
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	info := s.Snapshot()
	require.Len(t, info, 2)
	assert.False(t, info[0].Next.IsZero())
	assert.True(t, info[1].Next.IsZero())

	assert.Eventually(t, func() bool { return sub.count() > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestDisabledSchedulerDoesNotTrigger(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(sub)
	require.NoError(t, s.Apply(Config{Enabled: false, Entries: []Entry{{Name: "tick", Spec: "@every 1s"}}}))
	s.Start(context.Background())
	defer s.Stop(context.Background())
	assert.True(t, s.Snapshot()[0].Next.IsZero())

	// enabling on reload starts triggering
	require.NoError(t, s.Apply(Config{Enabled: true, Entries: []Entry{{Name: "tick", Spec: "@every 1s"}}}))
	assert.False(t, s.Snapshot()[0].Next.IsZero())
}
