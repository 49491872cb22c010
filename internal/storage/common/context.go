package common

import (
	"context"
	"time"
)

// Op classifies a storage call for its default deadline.
type Op int

const (
	OpProbe Op = iota
	OpRead
	OpWrite
	OpConnect
)

var opTimeouts = [...]time.Duration{
	OpProbe:   2 * time.Second,
	OpRead:    5 * time.Second,
	OpWrite:   10 * time.Second,
	OpConnect: 15 * time.Second,
}

// Timeout returns the default deadline for op.
func (op Op) Timeout() time.Duration {
	if int(op) < len(opTimeouts) {
		return opTimeouts[op]
	}
	return opTimeouts[OpWrite]
}

// Bound caps ctx at op's default deadline. An earlier caller deadline wins.
func Bound(ctx context.Context, op Op) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, op.Timeout())
}
