package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"wasender/internal/dispatch"
	"wasender/internal/schedule"
)

type fakeSchedules struct {
	items []schedule.Info
	ran   []string
}

func (f *fakeSchedules) Snapshot() []schedule.Info { return f.items }

func (f *fakeSchedules) RunNow(_ context.Context, name string) (dispatch.Result, error) {
	f.ran = append(f.ran, name)
	if name != "morning" {
		return dispatch.Result{}, errors.New(`unknown schedule "` + name + `"`)
	}
	return dispatch.Result{Mode: dispatch.ModeBroadcast, SuccessCount: 2, FailureCount: 1}, nil
}

func TestSchedulesDisabled(t *testing.T) {
	h := newHarness(t)
	h.run(owner, "/schedules")
	assert.Equal(t, "Scheduler is disabled.", h.chat.last())
}

func TestSchedulesListAndRun(t *testing.T) {
	h := newHarness(t)
	fs := &fakeSchedules{items: []schedule.Info{
		{Name: "morning", Spec: "0 8 * * *", Next: time.Now().Add(time.Hour), Success: 3},
		{Name: "paused", Spec: "@every 1h", Disabled: true, LastErr: "gateway down"},
	}}
	h.bot.sched = fs

	h.run(owner, "/schedules")
	out := h.chat.last()
	assert.Contains(t, out, "<b>morning</b>")
	assert.Contains(t, out, "⏸ <b>paused</b>")
	assert.Contains(t, out, "last error: gateway down")

	h.run(owner, "/runschedule morning")
	assert.Equal(t, "Success sent to 2 devices.\nFailed to send to 1 devices.", h.chat.last())

	h.run(owner, "/runschedule nope")
	assert.Contains(t, h.chat.last(), `unknown schedule "nope"`)
	assert.Equal(t, []string{"morning", "nope"}, fs.ran)

	h.run(owner, "/runschedule")
	assert.Contains(t, h.chat.last(), "/runschedule <name>")
}
