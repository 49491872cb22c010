package credential

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
)

// ApplyCooldown parks id until now plus the Retry-After delay. Status is
// left alone. It returns the cooldown expiry.
func (p *Pool) ApplyCooldown(id, retryAfter string, now time.Time) time.Time {
	d := CooldownDuration(retryAfter, time.Duration(p.defaultCooldown.Load()))
	until := now.Add(d)

	p.mu.Lock()
	if _, ok := p.creds[id]; !ok {
		p.mu.Unlock()
		return time.Time{}
	}
	p.cooldowns[id] = until
	stats := p.statsLocked(now)
	p.mu.Unlock()

	recordGauges(stats)
	recordTransition("cooldown")
	logging.Component("credential").WithFields(log.Fields{
		"credential_id": id,
		"cooldown_ms":   d.Milliseconds(),
	}).Info("credential cooling down")
	if p.publisher != nil {
		p.publisher.Publish(bg(), events.TopicCredentialCooldown, events.CooldownSet{ID: id, Until: until.UTC()}, nil)
	}
	return until
}

// Invalidate marks id as rejected by the upstream. Repeated calls are no-ops.
func (p *Pool) Invalidate(id string) {
	if p.setStatus(id, StatusInvalid) {
		p.publish(events.TopicCredentialInvalidated, p.snapshot(id))
	}
}

// MarkInactive takes id out of rotation after a failed health probe.
func (p *Pool) MarkInactive(id string) {
	if p.setStatus(id, StatusInactive) {
		p.publish(events.TopicCredentialStatus, p.snapshot(id))
	}
}

// Reactivate returns id to rotation after a successful health probe.
func (p *Pool) Reactivate(id string) {
	if p.setStatus(id, StatusActive) {
		p.publish(events.TopicCredentialStatus, p.snapshot(id))
	}
}

func (p *Pool) setStatus(id string, status Status) bool {
	p.mu.Lock()
	c, ok := p.creds[id]
	if !ok || c.Status == status {
		p.mu.Unlock()
		return false
	}
	from := c.Status
	c.Status = status
	if status != StatusActive {
		delete(p.cooldowns, id)
	}
	p.dirty[id] = struct{}{}
	p.rebuildUsableLocked()
	stats := p.statsLocked(time.Now())
	p.mu.Unlock()

	recordGauges(stats)
	recordTransition(string(from) + "_to_" + string(status))
	logging.Component("credential").WithFields(log.Fields{
		"credential_id": id,
		"from":          from,
		"to":            status,
	}).Warn("credential status changed")
	return true
}

func (p *Pool) snapshot(id string) *Credential {
	c, err := p.Get(id)
	if err != nil {
		return &Credential{ID: id}
	}
	return c
}

// MinCooldown returns the shortest remaining cooldown among active
// credentials, or false when none is cooling down.
func (p *Pool) MinCooldown(now time.Time) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var (
		shortest time.Duration
		found    bool
	)
	for _, id := range p.usable {
		until, ok := p.cooldowns[id]
		if !ok || !until.After(now) {
			continue
		}
		if d := until.Sub(now); !found || d < shortest {
			shortest, found = d, true
		}
	}
	return shortest, found
}

// SweepCooldowns drops expired cooldown entries and returns how many.
func (p *Pool) SweepCooldowns(now time.Time) int {
	p.mu.Lock()
	removed := 0
	for id, until := range p.cooldowns {
		if !until.After(now) {
			delete(p.cooldowns, id)
			removed++
		}
	}
	stats := p.statsLocked(now)
	p.mu.Unlock()
	recordGauges(stats)
	return removed
}
