package mesh

import (
	"errors"
	"testing"
)

func TestBroadcastEphemeralSkipsBackedUpChannel(t *testing.T) {
	fs := &fakeSignaler{}
	m := newTestManager(fs, Events{})
	defer m.Close()
	m.SetSelf("aa")

	fast := &fakeChannel{}
	slow := &fakeChannel{buffered: ChannelHighWaterMark}
	addLink(m, "bb", stateOpen, &fakeChannel{}, fast)
	addLink(m, "cc", stateOpen, &fakeChannel{}, slow)

	m.BroadcastEphemeral([]byte("cursor"))
	if fast.sentCount() != 1 {
		t.Fatalf("fast channel sends = %d, want 1", fast.sentCount())
	}
	if slow.sentCount() != 0 {
		t.Fatal("backed-up channel was not skipped")
	}
	if fs.relayCount() != 0 {
		t.Fatal("ephemeral payload must never ride the relay")
	}
}

func TestBroadcastEphemeralIgnoresSendErrors(t *testing.T) {
	fs := &fakeSignaler{}
	m := newTestManager(fs, Events{})
	defer m.Close()
	m.SetSelf("aa")

	healthy := &fakeChannel{}
	addLink(m, "bb", stateOpen, &fakeChannel{}, &fakeChannel{err: errors.New("channel broken")})
	addLink(m, "cc", stateOpen, &fakeChannel{}, healthy)

	m.BroadcastEphemeral([]byte("cursor"))
	if healthy.sentCount() != 1 {
		t.Fatal("send error on one channel starved the others")
	}
}

func TestSuppressionLatch(t *testing.T) {
	fs := &fakeSignaler{}
	m := newTestManager(fs, Events{})
	defer m.Close()
	m.SetSelf("aa")

	eph := &fakeChannel{buffered: ChannelHighWaterMark}
	addLink(m, "bb", stateOpen, &fakeChannel{}, eph)

	// Fallback backed up and no channel with room: the latch trips.
	fs.setBacklog(FallbackHighWaterMark + 1)
	m.BroadcastEphemeral([]byte("cursor"))
	if eph.sentCount() != 0 {
		t.Fatal("send while suppressed")
	}
	if !m.suppressed {
		t.Fatal("latch did not trip")
	}

	// Backlog dips below the trip mark but not below the recovery mark; the
	// latch holds even though the channel has drained.
	eph.buffered = 0
	fs.setBacklog(FallbackLowWaterMark)
	m.BroadcastEphemeral([]byte("cursor"))
	if eph.sentCount() != 0 {
		t.Fatal("latch released above the recovery mark")
	}

	// Below the recovery mark the latch releases and sends resume.
	fs.setBacklog(FallbackLowWaterMark - 1)
	m.BroadcastEphemeral([]byte("cursor"))
	if eph.sentCount() != 1 {
		t.Fatalf("sends after recovery = %d, want 1", eph.sentCount())
	}
	if m.suppressed {
		t.Fatal("latch still set after recovery")
	}
}

func TestNoSuppressionWhileAChannelHasRoom(t *testing.T) {
	fs := &fakeSignaler{}
	m := newTestManager(fs, Events{})
	defer m.Close()
	m.SetSelf("aa")

	eph := &fakeChannel{}
	addLink(m, "bb", stateOpen, &fakeChannel{}, eph)

	// A backed-up fallback alone is not enough: as long as some channel has
	// buffer room, ephemeral traffic keeps flowing.
	fs.setBacklog(FallbackHighWaterMark + 1)
	m.BroadcastEphemeral([]byte("cursor"))
	if eph.sentCount() != 1 {
		t.Fatal("suppressed although the channel had room")
	}
	if m.suppressed {
		t.Fatal("latch tripped although the channel had room")
	}
}
