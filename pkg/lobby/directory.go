package lobby

import (
	"time"

	"github.com/aeolun/squadrelay/pkg/protocol"
)

const (
	// DefaultDirectoryTTL is how long an announce keeps a session listed.
	// Clients re-announce every 15s, so two missed heartbeats are tolerated.
	DefaultDirectoryTTL = 40 * time.Second
	// DefaultSweepInterval is how often expired entries are removed
	DefaultSweepInterval = 20 * time.Second
)

// Status is the advertised state of a listed session
type Status string

const (
	StatusWaiting Status = protocol.StatusWaiting
	StatusPlaying Status = protocol.StatusPlaying
)

// ParseStatus maps a wire status to a Status. Anything but "playing" is
// treated as waiting.
func ParseStatus(s string) Status {
	if s == protocol.StatusPlaying {
		return StatusPlaying
	}
	return StatusWaiting
}

// Announcement is a self-reported session summary sent by a host
type Announcement struct {
	SessionID   string
	Owner       ConnID
	HostName    string
	IsPrivate   bool
	PlayerCount int
	Status      Status
}

// Entry is a discoverable session. PlayerCount is whatever the host last
// reported and may differ from the actual membership.
type Entry struct {
	SessionID   string
	HostName    string
	IsPrivate   bool
	PlayerCount int
	Status      Status
	ExpiresAt   time.Time
	Owner       ConnID
}

// RoomInfo converts the entry to its wire representation
func (e Entry) RoomInfo() protocol.RoomInfo {
	return protocol.RoomInfo{
		SessionID:   e.SessionID,
		HostName:    e.HostName,
		IsPrivate:   e.IsPrivate,
		PlayerCount: e.PlayerCount,
		Status:      string(e.Status),
	}
}

// Directory is a TTL cache of announced sessions. It is not derived from the
// Store; the two are only correlated by session id. Like Store it does no
// locking of its own.
type Directory struct {
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewDirectory creates an empty directory
func NewDirectory(ttl time.Duration, now func() time.Time) *Directory {
	if ttl <= 0 {
		ttl = DefaultDirectoryTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Directory{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     now,
	}
}

// Announce upserts the entry for a session, or removes it when the session
// reports itself as playing
func (d *Directory) Announce(a Announcement) {
	if a.Status == StatusPlaying {
		delete(d.entries, a.SessionID)
		return
	}

	d.entries[a.SessionID] = &Entry{
		SessionID:   a.SessionID,
		HostName:    a.HostName,
		IsPrivate:   a.IsPrivate,
		PlayerCount: a.PlayerCount,
		Status:      a.Status,
		ExpiresAt:   d.now().Add(d.ttl),
		Owner:       a.Owner,
	}
}

// List returns every entry that is not playing, in no particular order.
// Expired entries remain listed until the next sweep.
func (d *Directory) List() []Entry {
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		if e.Status == StatusPlaying {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// Get returns the entry for a session
func (d *Directory) Get(sessionID string) (Entry, bool) {
	e, ok := d.entries[sessionID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove deletes the entry for a session
func (d *Directory) Remove(sessionID string) bool {
	if _, ok := d.entries[sessionID]; !ok {
		return false
	}
	delete(d.entries, sessionID)
	return true
}

// SweepExpired removes entries whose expiry has passed and returns how many
// were removed
func (d *Directory) SweepExpired() int {
	now := d.now()
	removed := 0
	for id, e := range d.entries {
		if !now.Before(e.ExpiresAt) {
			delete(d.entries, id)
			removed++
		}
	}
	return removed
}

// RemoveByOwner retracts every entry announced by conn
func (d *Directory) RemoveByOwner(conn ConnID) int {
	removed := 0
	for id, e := range d.entries {
		if e.Owner == conn {
			delete(d.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries
func (d *Directory) Len() int {
	return len(d.entries)
}

// TTL returns the configured entry lifetime
func (d *Directory) TTL() time.Duration {
	return d.ttl
}
