package devices

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasender/internal/dispatch"
)

type staticSource struct {
	list []Device
	err  error
}

func (s staticSource) ListDevices(context.Context) ([]Device, error) { return s.list, s.err }

var fleet = []Device{
	{ID: "dev-a", Name: "Office", State: StateLoggedIn},
	{Device: "dev-b", PushName: "Sales", State: StateLoggedIn},
	{ID: "  ", Device: ""},
	{ID: "dev-c", Device: "ignored", State: "disconnected"},
}

func TestTargetID(t *testing.T) {
	assert.Equal(t, "dev-a", TargetID(Device{ID: "dev-a", Device: "x"}))
	assert.Equal(t, "x", TargetID(Device{ID: " ", Device: " x "}))
	assert.Empty(t, TargetID(Device{}))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Office", DisplayName(fleet[0]))
	assert.Equal(t, "Sales", DisplayName(fleet[1]))
	assert.Equal(t, "dev-c", DisplayName(fleet[3]))
}

func TestListSkipsDevicesWithoutID(t *testing.T) {
	r := NewRegistry(staticSource{list: fleet})
	list, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestResolveKeepsRegistryOrder(t *testing.T) {
	r := NewRegistry(staticSource{list: fleet})

	got, err := r.Resolve(context.Background(), SelectIDs("dev-c", "unknown", "dev-a", "dev-a"))
	require.NoError(t, err)
	assert.Equal(t, dispatch.Targets("dev-a", "dev-c"), got)

	got, err = r.Resolve(context.Background(), SelectAll())
	require.NoError(t, err)
	assert.Equal(t, dispatch.Targets("dev-a", "dev-b", "dev-c"), got)
}

func TestResolveEmptySelectionSkipsSource(t *testing.T) {
	r := NewRegistry(staticSource{err: errors.New("must not be called")})
	got, err := r.Resolve(context.Background(), SelectIDs(" ", ""))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolvePropagatesSourceError(t *testing.T) {
	boom := errors.New("gateway down")
	r := NewRegistry(staticSource{err: boom})
	_, err := r.Resolve(context.Background(), SelectAll())
	assert.ErrorIs(t, err, boom)
}

func TestCustomIDFunc(t *testing.T) {
	r := NewRegistry(staticSource{list: fleet}, WithIDFunc(func(d Device) string { return d.State }))
	got, err := r.Resolve(context.Background(), SelectAll())
	require.NoError(t, err)
	assert.Equal(t, dispatch.Targets(StateLoggedIn, "disconnected"), got)
}

func TestUnknown(t *testing.T) {
	r := NewRegistry(staticSource{list: fleet})
	got, err := r.Unknown(context.Background(), SelectIDs("dev-a", "nope", "nope"))
	require.NoError(t, err)
	assert.Equal(t, []string{"nope"}, got)
}
