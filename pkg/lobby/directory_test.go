package lobby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryAnnounceAndList(t *testing.T) {
	clock := newFakeClock()
	d := NewDirectory(0, clock.Now)
	assert.Equal(t, DefaultDirectoryTTL, d.TTL())

	d.Announce(Announcement{SessionID: "AB12", Owner: "a", HostName: "Alice", PlayerCount: 1, Status: StatusWaiting})
	d.Announce(Announcement{SessionID: "CD34", Owner: "c", HostName: "Carol", IsPrivate: true, PlayerCount: 3, Status: StatusWaiting})

	entries := d.List()
	require.Len(t, entries, 2)

	e, ok := d.Get("AB12")
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(DefaultDirectoryTTL), e.ExpiresAt)
	assert.Equal(t, ConnID("a"), e.Owner)
}

func TestDirectoryPlayingRemovesEntry(t *testing.T) {
	d := NewDirectory(time.Minute, newFakeClock().Now)

	d.Announce(Announcement{SessionID: "AB12", Owner: "a", Status: StatusWaiting})
	d.Announce(Announcement{SessionID: "AB12", Owner: "a", Status: StatusPlaying})

	assert.Empty(t, d.List())
	assert.Equal(t, 0, d.Len())
}

func TestDirectoryReannounceRefreshesExpiry(t *testing.T) {
	clock := newFakeClock()
	d := NewDirectory(40*time.Second, clock.Now)

	d.Announce(Announcement{SessionID: "AB12", Owner: "a", PlayerCount: 1, Status: StatusWaiting})
	clock.Advance(30 * time.Second)
	d.Announce(Announcement{SessionID: "AB12", Owner: "a", PlayerCount: 2, Status: StatusWaiting})
	clock.Advance(30 * time.Second)

	assert.Equal(t, 0, d.SweepExpired())
	e, ok := d.Get("AB12")
	require.True(t, ok)
	assert.Equal(t, 2, e.PlayerCount)
}

func TestDirectorySweepExpired(t *testing.T) {
	clock := newFakeClock()
	d := NewDirectory(40*time.Second, clock.Now)

	d.Announce(Announcement{SessionID: "AB12", Owner: "a", Status: StatusWaiting})
	clock.Advance(20 * time.Second)
	d.Announce(Announcement{SessionID: "CD34", Owner: "c", Status: StatusWaiting})

	clock.Advance(20 * time.Second)
	assert.Equal(t, 1, d.SweepExpired())

	entries := d.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "CD34", entries[0].SessionID)
}

func TestDirectoryListKeepsExpiredUntilSweep(t *testing.T) {
	clock := newFakeClock()
	d := NewDirectory(40*time.Second, clock.Now)

	d.Announce(Announcement{SessionID: "AB12", Owner: "a", Status: StatusWaiting})
	clock.Advance(time.Minute)

	assert.Len(t, d.List(), 1)
	d.SweepExpired()
	assert.Empty(t, d.List())
}

func TestDirectoryRemoveByOwner(t *testing.T) {
	d := NewDirectory(time.Minute, nil)

	d.Announce(Announcement{SessionID: "AB12", Owner: "a", Status: StatusWaiting})
	d.Announce(Announcement{SessionID: "CD34", Owner: "c", Status: StatusWaiting})

	assert.Equal(t, 1, d.RemoveByOwner("a"))
	assert.Equal(t, 0, d.RemoveByOwner("a"))
	assert.Equal(t, 1, d.Len())
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusPlaying, ParseStatus("playing"))
	assert.Equal(t, StatusWaiting, ParseStatus("waiting"))
	assert.Equal(t, StatusWaiting, ParseStatus(""))
	assert.Equal(t, StatusWaiting, ParseStatus("lobby"))
}
