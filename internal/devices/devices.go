// Package devices lists the gateway's device sessions and resolves an
// operator selection into dispatch targets.
package devices

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"wasender/internal/dispatch"
)

// StateLoggedIn is the state of a session able to send.
const StateLoggedIn = "logged_in"

// Device is one gateway session as reported by GET /devices. Only the ID
// accessor is interpreted; other fields are for display.
type Device struct {
	ID       string `json:"id,omitempty"`
	Device   string `json:"device,omitempty"`
	Name     string `json:"name,omitempty"`
	PushName string `json:"pushname,omitempty"`
	State    string `json:"state,omitempty"`
	JID      string `json:"jid,omitempty"`
}

// IDFunc extracts the routing ID of a device.
type IDFunc func(Device) string

// TargetID returns the first non-empty of id and device.
func TargetID(d Device) string {
	if id := strings.TrimSpace(d.ID); id != "" {
		return id
	}
	return strings.TrimSpace(d.Device)
}

// DisplayName returns name, pushname, then the target ID.
func DisplayName(d Device) string {
	for _, s := range []string{d.Name, d.PushName} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return TargetID(d)
}

// LoggedIn reports whether d is ready to send.
func (d Device) LoggedIn() bool { return d.State == StateLoggedIn }

// Source supplies the current device list.
type Source interface {
	ListDevices(ctx context.Context) ([]Device, error)
}

// Selection is the operator's target choice: every device, or explicit IDs.
type Selection struct {
	All bool
	IDs []string
}

func SelectAll() Selection { return Selection{All: true} }

func SelectIDs(ids ...string) Selection { return Selection{IDs: ids} }

// Empty reports whether nothing is selected.
func (s Selection) Empty() bool {
	return !s.All && len(lo.Compact(lo.Map(s.IDs, func(id string, _ int) string { return strings.TrimSpace(id) }))) == 0
}

type Option func(*Registry)

// WithIDFunc replaces TargetID as the registry's ID accessor.
func WithIDFunc(fn IDFunc) Option {
	return func(r *Registry) {
		if fn != nil {
			r.id = fn
		}
	}
}

// Registry resolves selections against a Source using one ID accessor.
type Registry struct {
	src Source
	id  IDFunc
}

func NewRegistry(src Source, opts ...Option) *Registry {
	r := &Registry{src: src, id: TargetID}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ID applies the registry's accessor.
func (r *Registry) ID(d Device) string { return r.id(d) }

// List returns the devices that have a usable ID, in source order.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	all, err := r.src.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(d Device, _ int) bool { return r.id(d) != "" }), nil
}

// Resolve turns sel into targets in registry order. Unknown IDs are dropped
// and each device appears once. An empty result is not an error here; the
// engine reports it as dispatch.ErrNoTargets.
func (r *Registry) Resolve(ctx context.Context, sel Selection) ([]dispatch.Target, error) {
	if sel.Empty() {
		return nil, nil
	}
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	if !sel.All {
		want := lo.SliceToMap(sel.IDs, func(id string) (string, struct{}) { return strings.TrimSpace(id), struct{}{} })
		list = lo.Filter(list, func(d Device, _ int) bool {
			_, ok := want[r.id(d)]
			return ok
		})
	}
	return dispatch.NormalizeTargets(lo.Map(list, func(d Device, _ int) dispatch.Target {
		return dispatch.Target{DeviceID: r.id(d)}
	})), nil
}

// Unknown returns the IDs in sel that no listed device carries.
func (r *Registry) Unknown(ctx context.Context, sel Selection) ([]string, error) {
	if sel.All {
		return nil, nil
	}
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	known := lo.SliceToMap(list, func(d Device) (string, struct{}) { return r.id(d), struct{}{} })
	return lo.Filter(lo.Uniq(sel.IDs), func(id string, _ int) bool {
		_, ok := known[strings.TrimSpace(id)]
		return !ok && strings.TrimSpace(id) != ""
	}), nil
}
