package constants

import "time"

const (
	// CatalogFetchTimeout bounds one upstream model listing.
	CatalogFetchTimeout = 20 * time.Second
	// LogStreamHistory is how many log lines a new viewer receives.
	LogStreamHistory = 200
	// LogStreamMaxClients caps concurrent log viewers.
	LogStreamMaxClients = 16
	// EventStreamKeepAlive is the SSE heartbeat period for the admin event feed.
	EventStreamKeepAlive = 15 * time.Second
	// EventStreamBuffer is how many events a slow SSE client may lag before drops.
	EventStreamBuffer = 64
)
