package compose

import (
	"sync"

	"wasender/internal/devices"
	"wasender/internal/message"
)

// Form is one operator's draft. It is safe for concurrent use.
type Form struct {
	mu        sync.Mutex
	fields    message.Fields
	selection devices.Selection
	resets    int
}

func NewForm() *Form {
	return &Form{fields: message.Fields{Type: message.User}}
}

// Snapshot returns copies of the draft fields and device selection.
func (f *Form) Snapshot() (message.Fields, devices.Selection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sel := f.selection
	sel.IDs = append([]string(nil), sel.IDs...)
	return f.fields, sel
}

func (f *Form) Fields() message.Fields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields
}

// Update edits the draft fields in place.
func (f *Form) Update(fn func(*message.Fields)) {
	f.mu.Lock()
	fn(&f.fields)
	f.mu.Unlock()
}

func (f *Form) Selection() devices.Selection {
	_, sel := f.Snapshot()
	return sel
}

func (f *Form) Select(sel devices.Selection) {
	f.mu.Lock()
	f.selection = devices.Selection{All: sel.All, IDs: append([]string(nil), sel.IDs...)}
	f.mu.Unlock()
}

// Reset clears everything but the recipient type, including the device
// selection.
func (f *Form) Reset() {
	f.mu.Lock()
	f.fields = message.Fields{Type: f.fields.Type}
	f.selection = devices.Selection{}
	f.resets++
	f.mu.Unlock()
}

// Resets counts calls to Reset.
func (f *Form) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}
