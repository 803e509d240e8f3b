package mesh

import "log/slog"

// BroadcastReliable sends data over every open reliable channel. With zero
// open channels it falls back to the signaling-server relay, which reaches
// every other room member. Delivery is at-least-once: a peer racing between
// channel and relay paths may see duplicates, so consumers must apply
// messages idempotently.
func (m *Manager) BroadcastReliable(data []byte) error {
	m.mu.Lock()
	channels := make([]dataChannel, 0, len(m.links))
	for _, l := range m.links {
		if l.open() && l.reliable != nil {
			channels = append(channels, l.reliable)
		}
	}
	m.mu.Unlock()

	if len(channels) == 0 {
		return m.signaler.Relay(data)
	}

	sent := 0
	for _, ch := range channels {
		if err := ch.Send(data); err != nil {
			slog.Debug("reliable send failed", "err", err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return m.signaler.Relay(data)
	}
	return nil
}

// SendReliableTo targets one peer's reliable channel. The protocol has no
// unicast relay, so when the direct channel is missing the best available
// substitute is a room-wide relay broadcast.
func (m *Manager) SendReliableTo(id string, data []byte) error {
	m.mu.Lock()
	var ch dataChannel
	if l, ok := m.links[id]; ok && l.open() && l.reliable != nil {
		ch = l.reliable
	}
	m.mu.Unlock()

	if ch == nil {
		return m.signaler.Relay(data)
	}
	if err := ch.Send(data); err != nil {
		return m.signaler.Relay(data)
	}
	return nil
}
