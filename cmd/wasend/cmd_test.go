package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasender/internal/gateway"
)

type fakeGateway struct {
	mu    sync.Mutex
	sends []string // device header per send
}

func (g *fakeGateway) serve(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == gateway.DefaultDevicesPath:
			_, _ = w.Write([]byte(`{"code":"SUCCESS","results":[{"id":"A","name":"Alpha","state":"logged_in"},{"device":"B","state":"disconnected"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == gateway.SendPath:
			dev := r.Header.Get(gateway.DefaultDeviceHeader)
			g.mu.Lock()
			g.sends = append(g.sends, dev)
			g.mu.Unlock()
			if dev == "B" {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"code": "ERR", "message": "device offline"})
				return
			}
			_, _ = w.Write([]byte(`{"code":"SUCCESS","message":"Message sent"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(EnvGatewayURL, "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env", t.TempDir()+"/missing.env"))
	err := cmd.Execute()
	return out.String(), err
}

func TestSendSingle(t *testing.T) {
	g := &fakeGateway{}
	url := g.serve(t)

	out, err := run(t, "send", "user", "628123", "hello", "there", "--gateway", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Message sent")
	assert.Equal(t, []string{""}, g.sends)
}

func TestSendRejectsStatusAndBadType(t *testing.T) {
	_, err := run(t, "send", "status", "x", "hi", "--gateway", "http://127.0.0.1:1")
	assert.ErrorContains(t, err, "wasend status")

	_, err = run(t, "send", "channel", "x", "hi", "--gateway", "http://127.0.0.1:1")
	assert.Error(t, err)
}

func TestSendValidationErrorIsReturned(t *testing.T) {
	g := &fakeGateway{}
	url := g.serve(t)
	_, err := run(t, "send", "user", " ", "hi", "--gateway", url)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errReported)
	assert.Empty(t, g.sends)
}

func TestStatusBroadcastPrintsOutcomes(t *testing.T) {
	g := &fakeGateway{}
	url := g.serve(t)

	out, err := run(t, "status", "good", "morning", "--all", "--gateway", url)
	assert.ErrorIs(t, err, errReported)
	assert.Contains(t, out, "Success sent to 1 devices.")
	assert.Contains(t, out, "Failed to send to 1 devices.")
	assert.Contains(t, out, "device offline")
	assert.ElementsMatch(t, []string{"A", "B"}, g.sends)
}

func TestStatusFlagsConflict(t *testing.T) {
	_, err := run(t, "status", "hi", "--all", "--devices", "A", "--gateway", "http://127.0.0.1:1")
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestDevicesTable(t *testing.T) {
	g := &fakeGateway{}
	url := g.serve(t)

	out, err := run(t, "devices", "--gateway", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Alpha")
	assert.Contains(t, out, "disconnected")
	assert.Contains(t, out, "B")
}

func TestGatewayRequired(t *testing.T) {
	_, err := run(t, "devices")
	assert.ErrorContains(t, err, "no gateway")
}
