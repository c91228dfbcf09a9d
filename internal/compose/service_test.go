package compose

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasender/internal/devices"
	"wasender/internal/dispatch"
	"wasender/internal/gateway"
	"wasender/internal/message"
	"wasender/internal/storage"
)

type sinkRecorder struct {
	mu       sync.Mutex
	success  []string
	failures []string
}

func (s *sinkRecorder) Success(_ context.Context, text string) {
	s.mu.Lock()
	s.success = append(s.success, text)
	s.mu.Unlock()
}

func (s *sinkRecorder) Failure(_ context.Context, text string) {
	s.mu.Lock()
	s.failures = append(s.failures, text)
	s.mu.Unlock()
}

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeSender) Send(_ context.Context, _ message.SendRequest, deviceID string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, deviceID)
	f.mu.Unlock()
	if err := f.fail[deviceID]; err != nil {
		return "", err
	}
	return "Message sent", nil
}

type staticDevices []devices.Device

func (s staticDevices) ListDevices(context.Context) ([]devices.Device, error) { return s, nil }

type memAudit struct {
	records []storage.DispatchRecord
}

func (m *memAudit) RecordDispatch(_ context.Context, r storage.DispatchRecord) error {
	m.records = append(m.records, r)
	return nil
}

func setup(fail map[string]error) (*Service, *fakeSender, *memAudit) {
	sender := &fakeSender{fail: fail}
	reg := devices.NewRegistry(staticDevices{{ID: "A"}, {ID: "B"}, {Device: "C"}})
	audit := &memAudit{}
	return NewService(dispatch.New(sender), reg, WithRecorder(audit)), sender, audit
}

func TestSubmitValidationErrorMakesNoCall(t *testing.T) {
	svc, sender, audit := setup(nil)
	form := NewForm()
	form.Update(func(f *message.Fields) { f.Recipient = "628123" })
	sink := &sinkRecorder{}

	_, err := svc.Submit(context.Background(), form, Actor{}, sink)
	require.ErrorIs(t, err, message.ErrEmptyMessage)
	assert.Empty(t, sender.calls)
	assert.Empty(t, sink.success)
	assert.Empty(t, sink.failures)
	assert.Empty(t, audit.records)
	assert.Zero(t, form.Resets())
}

func TestSubmitSingleSuccessResetsForm(t *testing.T) {
	svc, sender, audit := setup(nil)
	form := NewForm()
	form.Update(func(f *message.Fields) {
		f.Type = message.Group
		f.Recipient = "1203"
		f.Text = "hello"
	})
	sink := &sinkRecorder{}

	res, err := svc.Submit(context.Background(), form, Actor{ID: 7}, sink)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ModeSingle, res.Mode)
	assert.Equal(t, []string{""}, sender.calls)
	assert.Equal(t, []string{"Message sent"}, sink.success)
	assert.Equal(t, 1, form.Resets())
	assert.Equal(t, message.Fields{Type: message.Group}, form.Fields())

	require.Len(t, audit.records, 1)
	assert.Equal(t, int64(7), audit.records[0].ActorID)
	assert.Equal(t, "1203@g.us", audit.records[0].Recipient)
}

func TestSubmitSingleFailureKeepsDraft(t *testing.T) {
	apiErr := &gateway.APIError{StatusCode: 400, Message: "invalid phone number"}
	svc, _, audit := setup(map[string]error{"": apiErr})
	form := NewForm()
	form.Update(func(f *message.Fields) { f.Recipient = "x"; f.Text = "hello" })
	sink := &sinkRecorder{}

	_, err := svc.Submit(context.Background(), form, Actor{}, sink)
	require.ErrorIs(t, err, apiErr)
	assert.Equal(t, []string{"invalid phone number"}, sink.failures)
	assert.Zero(t, form.Resets())
	assert.Equal(t, "hello", form.Fields().Text)
	require.Len(t, audit.records, 1)
	assert.Equal(t, 1, audit.records[0].Failure)
	assert.Equal(t, "invalid phone number", audit.records[0].Error)
}

func TestSubmitBroadcastPartialFailureStillResets(t *testing.T) {
	svc, sender, audit := setup(map[string]error{"B": errors.New("offline")})
	form := NewForm()
	form.Update(func(f *message.Fields) { f.Type = message.Status; f.Text = "story" })
	form.Select(devices.SelectAll())
	sink := &sinkRecorder{}

	res, err := svc.Submit(context.Background(), form, Actor{}, sink)
	require.NoError(t, err)
	assert.Equal(t, dispatch.ModeBroadcast, res.Mode)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, sender.calls)
	assert.Equal(t, []string{"Success sent to 2 devices."}, sink.success)
	assert.Equal(t, []string{"Failed to send to 1 devices."}, sink.failures)
	assert.Equal(t, 1, form.Resets())
	assert.True(t, form.Selection().Empty())
	assert.Equal(t, 3, audit.records[0].Targets)
}

func TestSubmitBroadcastUnknownSelectionIsNoTargets(t *testing.T) {
	svc, sender, _ := setup(nil)
	form := NewForm()
	form.Update(func(f *message.Fields) { f.Type = message.Status; f.Text = "story" })
	form.Select(devices.SelectIDs("Z"))
	sink := &sinkRecorder{}

	_, err := svc.Submit(context.Background(), form, Actor{}, sink)
	require.ErrorIs(t, err, dispatch.ErrNoTargets)
	assert.Empty(t, sender.calls)
	assert.Equal(t, []string{dispatch.ErrNoTargets.Error()}, sink.failures)
	assert.Zero(t, form.Resets())
}

func TestSubmitStatusWithoutSelectionIsSingle(t *testing.T) {
	svc, sender, _ := setup(nil)
	form := NewForm()
	form.Update(func(f *message.Fields) { f.Type = message.Status; f.Text = "story" })

	res, err := svc.Submit(context.Background(), form, Actor{}, &sinkRecorder{})
	require.NoError(t, err)
	assert.Equal(t, dispatch.ModeSingle, res.Mode)
	assert.Equal(t, []string{""}, sender.calls)
}

func TestFormResetKeepsType(t *testing.T) {
	f := NewForm()
	f.Update(func(m *message.Fields) {
		m.Type = message.Newsletter
		m.Recipient = "x"
		m.Text = "y"
		m.IsForwarded = true
		m.DurationSeconds = 9
	})
	f.Select(devices.SelectIDs("a"))
	f.Reset()

	fields, sel := f.Snapshot()
	assert.Equal(t, message.Fields{Type: message.Newsletter}, fields)
	assert.True(t, sel.Empty())
}
