package report

import "sync"

// Listener is called synchronously with every confirmed report.
type Listener func(text string)

// Holder owns the confirmed report. Confirm is the only writer; readers get
// the current value through Current.
type Holder struct {
	mu        sync.RWMutex
	text      string
	confirmed bool
	listeners []Listener
}

// NewHolder returns an empty holder.
func NewHolder() *Holder {
	return &Holder{}
}

// Confirm replaces the held report unconditionally, then notifies listeners
// in registration order before returning. Any string, including "", is accepted.
func (h *Holder) Confirm(text string) {
	h.mu.Lock()
	h.text = text
	h.confirmed = true
	listeners := make([]Listener, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(text)
	}
}

// Current returns the confirmed report and whether one has been confirmed.
func (h *Holder) Current() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.text, h.confirmed
}

// Text returns the confirmed report, or "" if none.
func (h *Holder) Text() string {
	text, _ := h.Current()
	return text
}

// Subscribe registers fn for future confirmations.
func (h *Holder) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}
