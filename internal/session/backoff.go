package session

import (
	"math/rand"
	"time"
)

const (
	backoffBase   = 1 * time.Second
	backoffJitter = 1 * time.Second
	backoffCap    = 30 * time.Second

	heartbeatPeriod = 15 * time.Second
)

// nextBackoff returns the delay before reconnect attempt number retry
// (0-based): exponential from backoffBase, capped at backoffCap, plus random
// jitter so a crowd of clients does not stampede a recovering server.
func nextBackoff(retry int, rng *rand.Rand) time.Duration {
	shift := retry
	if shift > 16 {
		shift = 16
	}
	d := backoffBase << shift
	if d > backoffCap {
		d = backoffCap
	}
	return d + time.Duration(rng.Int63n(int64(backoffJitter)))
}
