package credential

import (
	"context"
	"time"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
)

// Event is the payload published for credential lifecycle changes.
type Event struct {
	ID           string    `json:"id"`
	MaskedSecret string    `json:"masked_secret,omitempty"`
	Status       Status    `json:"status,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func bg() context.Context { return context.Background() }

func (p *Pool) publish(topic string, c *Credential) {
	if p.publisher == nil || c == nil {
		return
	}
	p.publisher.Publish(bg(), topic, Event{
		ID:           c.ID,
		MaskedSecret: logging.MaskSecret(c.Secret),
		Status:       c.Status,
		Timestamp:    time.Now().UTC(),
	}, nil)
}

func recordSelection() {
	monitoring.CredentialSelectionsTotal.Inc()
}

func recordTransition(name string) {
	monitoring.CredentialTransitionsTotal.WithLabelValues(name).Inc()
}

func recordGauges(st Stats) {
	for status, n := range st.ByStatus {
		monitoring.CredentialsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	monitoring.CredentialsCoolingDown.Set(float64(st.CoolingDown))
}
