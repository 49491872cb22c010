package credential

import (
	"encoding/json"
	"strings"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
)

// Name identifies the pool as a write-back source.
func (p *Pool) Name() string { return "credentials" }

// DrainDirty returns a mutation for every credential touched since the last
// drain, built from current state. Deleted ids become deletes.
func (p *Pool) DrainDirty() []storage.Mutation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dirty) == 0 {
		return nil
	}
	out := make([]storage.Mutation, 0, len(p.dirty))
	for id := range p.dirty {
		key := storage.PrefixCredential + id
		c, ok := p.creds[id]
		if !ok {
			out = append(out, storage.Mutation{Key: key, Delete: true})
			continue
		}
		raw, err := json.Marshal(c)
		if err != nil {
			logging.Component("credential").WithError(err).WithField("credential_id", id).Error("failed to encode credential")
			continue
		}
		out = append(out, storage.Mutation{Key: key, Value: raw})
	}
	p.dirty = make(map[string]struct{})
	return out
}

// MarkDirty re-queues storage keys from a failed batch.
func (p *Pool) MarkDirty(keys ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		if id := strings.TrimPrefix(k, storage.PrefixCredential); id != k && id != "" {
			p.dirty[id] = struct{}{}
		}
	}
}

// DirtyCount reports how many credentials await a flush.
func (p *Pool) DirtyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dirty)
}
