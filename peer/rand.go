package peer

import (
	"math/rand"
	"time"
)

// randSource is a tiny seeded wrapper around math/rand so the loss/
// duplicate/latency simulation knobs of spec.md §6 are deterministic under
// test. These knobs are a test-only simulation aid, not part of the wire
// protocol or a domain concern the retrieved corpus ships a library for,
// so math/rand is used directly rather than reaching for a third-party
// dependency.
type randSource struct {
	r *rand.Rand
}

func newRandSource(seed int64) *randSource {
	return &randSource{r: rand.New(rand.NewSource(seed))}
}

func (p *Peer) chance(probability float64) bool {
	if probability <= 0 {
		return false
	}
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.r.Float64() < probability
}

func (p *Peer) jitterLatency() time.Duration {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	latency := p.cfg.MinLatency
	if p.cfg.RandomLatency > 0 {
		latency += time.Duration(p.rng.r.Int63n(int64(p.cfg.RandomLatency)))
	}
	return latency
}
