package storage

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Snapshot is a portable dump of every entry in a backend.
type Snapshot struct {
	ExportedAt time.Time         `json:"exported_at"`
	Entries    map[string][]byte `json:"entries"`
}

// Export reads every entry from b.
func Export(ctx context.Context, b Backend) (*Snapshot, error) {
	entries, err := b.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	snap := &Snapshot{ExportedAt: time.Now().UTC(), Entries: make(map[string][]byte, len(entries))}
	for _, e := range entries {
		snap.Entries[e.Key] = e.Value
	}
	return snap, nil
}

// Import writes every snapshot entry into b in one batch. Existing keys not
// present in the snapshot are left untouched.
func Import(ctx context.Context, b Backend, snap *Snapshot) (int, error) {
	if snap == nil || len(snap.Entries) == 0 {
		return 0, nil
	}
	muts := make([]Mutation, 0, len(snap.Entries))
	for key, value := range snap.Entries {
		muts = append(muts, Mutation{Key: key, Value: value})
	}
	if err := b.ApplyBatch(ctx, muts); err != nil {
		return 0, fmt.Errorf("apply snapshot: %w", err)
	}
	return len(muts), nil
}

// Diff lists keys whose stored value differs from the snapshot, including
// keys missing on either side.
func Diff(ctx context.Context, b Backend, snap *Snapshot) ([]string, error) {
	current, err := Export(ctx, b)
	if err != nil {
		return nil, err
	}
	var diff []string
	for key, want := range snap.Entries {
		got, ok := current.Entries[key]
		if !ok || string(got) != string(want) {
			diff = append(diff, key)
		}
	}
	for key := range current.Entries {
		if _, ok := snap.Entries[key]; !ok {
			diff = append(diff, key)
		}
	}
	sort.Strings(diff)
	return diff, nil
}
