package bot

import (
	"sync"
	"time"
)

// qrValidity is how long a pairing code stays scannable before the
// provider rotates it.
const qrValidity = 25 * time.Second

// QRTimeoutHintMs is surfaced to landing pages so they refresh in step
// with code rotation.
const QRTimeoutHintMs = 25000

// Entry is the volatile runtime state of one instance. Durable fields
// live on the client_instance row, everything here can be rebuilt from
// webhooks.
type Entry struct {
	Status         string
	QRCode         string
	QRExpiry       time.Time
	ConnectedPhone string

	// LastEventKind, LastEventRaw and LastEventAt record the most
	// recent webhook the state machine had no transition for, kept
	// opaquely for diagnostics.
	LastEventKind string
	LastEventRaw  map[string]interface{}
	LastEventAt   time.Time
}

// ValidQR returns the pairing code, or empty once it expired.
func (e *Entry) ValidQR(now time.Time) string {
	if e.QRCode == "" || !now.Before(e.QRExpiry) {
		return ""
	}
	return e.QRCode
}

// Registry holds runtime entries for every known instance behind a
// single mutex. All reads and writes go through its methods.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Snapshot returns a copy of the entry, never a live pointer.
func (r *Registry) Snapshot(instance string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[instance]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Update applies fn to the entry of instance, creating it on first
// touch.
func (r *Registry) Update(instance string, fn func(*Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[instance]
	if !ok {
		e = &Entry{}
		r.entries[instance] = e
	}
	fn(e)
}

func (r *Registry) Delete(instance string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, instance)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
