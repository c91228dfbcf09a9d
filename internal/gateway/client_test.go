package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasender/internal/message"
)

type captured struct {
	method string
	path   string
	device string
	user   string
	pass   string
	body   map[string]any
}

func newGateway(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]captured) {
	t.Helper()
	var mu sync.Mutex
	var seen []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{method: r.Method, path: r.URL.Path, device: r.Header.Get("X-Device-Id")}
		c.user, c.pass, _ = r.BasicAuth()
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&c.body)
		}
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/", Username: "admin", Password: "pw"})
	require.NoError(t, err)
	return c, &seen
}

func TestSendPostsPayload(t *testing.T) {
	c, seen := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":"SUCCESS","message":"Message sent to 628123@s.whatsapp.net","results":{"message_id":"3EB0"}}`))
	})
	req, err := message.Build(message.Fields{Type: message.User, Recipient: "628123", Text: "hi", DurationSeconds: 60})
	require.NoError(t, err)

	msg, err := c.Send(context.Background(), req, "")
	require.NoError(t, err)
	assert.Equal(t, "Message sent to 628123@s.whatsapp.net", msg)

	require.Len(t, *seen, 1)
	got := (*seen)[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, SendPath, got.path)
	assert.Empty(t, got.device)
	assert.Equal(t, "admin", got.user)
	assert.Equal(t, "pw", got.pass)
	assert.Equal(t, map[string]any{"phone": "628123@s.whatsapp.net", "message": "hi", "is_forwarded": false, "duration": float64(60)}, got.body)
}

func TestSendRoutesByDeviceHeader(t *testing.T) {
	c, seen := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":"SUCCESS","message":"ok"}`))
	})
	req, err := message.Build(message.Fields{Type: message.Status, Text: "hi"})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), req, " dev-1 ")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", (*seen)[0].device)
}

func TestSendGatewayErrorMessage(t *testing.T) {
	c, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"INVALID_JID","message":"invalid phone number"}`))
	})
	req, err := message.Build(message.Fields{Type: message.User, Recipient: "x", Text: "hi"})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), req, "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "INVALID_JID", apiErr.Code)
	assert.Equal(t, "invalid phone number", ErrorMessage(err))
}

func TestSendGatewayErrorWithoutBody(t *testing.T) {
	c, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	req, err := message.Build(message.Fields{Type: message.User, Recipient: "x", Text: "hi"})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), req, "")
	require.Error(t, err)
	assert.Equal(t, "gateway: unexpected status 502", ErrorMessage(err))
}

func TestListDevicesEnvelopeAndBareArray(t *testing.T) {
	bodies := []string{
		`{"code":"SUCCESS","results":[{"id":"a","name":"Office","state":"logged_in"},{"device":"b"}]}`,
		`[{"id":"a","name":"Office","state":"logged_in"},{"device":"b"}]`,
	}
	for _, body := range bodies {
		c, seen := newGateway(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(body)) })
		list, err := c.ListDevices(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "a", list[0].ID)
		assert.True(t, list[0].LoggedIn())
		assert.Equal(t, "b", list[1].Device)
		assert.Equal(t, DefaultDevicesPath, (*seen)[0].path)
		assert.Equal(t, http.MethodGet, (*seen)[0].method)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestErrorMessageTransport(t *testing.T) {
	assert.Equal(t, "Failed to send message: dial tcp: refused", ErrorMessage(errors.New("dial tcp: refused")))
	assert.Empty(t, ErrorMessage(nil))
}
