package mesh

// Backpressure water marks. A low-latency channel above ChannelHighWaterMark
// is skipped; the suppression latch trips when the fallback path is backed up
// past FallbackHighWaterMark while no channel has room, and releases only
// when the fallback backlog drains below FallbackLowWaterMark.
const (
	ChannelHighWaterMark  = 1 << 20   // 1 MiB
	FallbackHighWaterMark = 256 << 10 // 256 KiB
	FallbackLowWaterMark  = 64 << 10  // 64 KiB
)

// BroadcastEphemeral sends data over open low-latency channels: no retry, no
// ordering, at-most-once. Under backpressure the payload is dropped outright,
// never queued; a fresher one is always on the way.
func (m *Manager) BroadcastEphemeral(data []byte) {
	backlog := m.signaler.Backlog()

	m.mu.Lock()
	channels := make([]dataChannel, 0, len(m.links))
	for _, l := range m.links {
		if l.open() && l.ephemeral != nil {
			channels = append(channels, l.ephemeral)
		}
	}

	if m.suppressedLocked(backlog, channels) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	for _, ch := range channels {
		if ch.BufferedAmount() >= ChannelHighWaterMark {
			continue
		}
		// Errors are deliberately ignored: at-most-once.
		ch.Send(data)
	}
}

// suppressedLocked evaluates the hysteresis latch. Once tripped it stays on
// until the fallback backlog falls under the recovery mark, so sends do not
// oscillate at the boundary.
func (m *Manager) suppressedLocked(backlog int64, channels []dataChannel) bool {
	if m.suppressed {
		if backlog >= FallbackLowWaterMark {
			return true
		}
		m.suppressed = false
	}

	if backlog > FallbackHighWaterMark && !anyUnderHighWater(channels) {
		m.suppressed = true
		return true
	}
	return false
}

func anyUnderHighWater(channels []dataChannel) bool {
	for _, ch := range channels {
		if ch.BufferedAmount() < ChannelHighWaterMark {
			return true
		}
	}
	return false
}
