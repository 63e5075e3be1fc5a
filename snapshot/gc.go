package snapshot

import (
	"encoding/json"
	"fmt"
)

// GCResult reports the outcome of an orphan-bundle sweep.
type GCResult struct {
	Deleted []string
	Kept    []string
}

// GCOrphanBundles computes the union of bundleHash referenced by any live
// snapshot and deletes every service-bundle row outside that union. With
// dryRun true, the deletions are only computed and reported, not
// performed, giving an operator a preview before committing to them.
//
// Callers should not interleave new snapshot builds with a GC pass.
func (b *Builder) GCOrphanBundles(dryRun bool) (GCResult, error) {
	live, err := b.liveBundleHashes()
	if err != nil {
		return GCResult{}, err
	}

	all, err := b.store.ListAllBundleHashes()
	if err != nil {
		return GCResult{}, fmt.Errorf("list all bundle hashes: %w", err)
	}

	var result GCResult
	for _, h := range all {
		if live[h] {
			result.Kept = append(result.Kept, h)
			continue
		}
		result.Deleted = append(result.Deleted, h)
		if !dryRun {
			if err := b.store.DeleteServiceBundle(h); err != nil {
				return result, fmt.Errorf("delete orphan bundle %s: %w", h, err)
			}
		}
	}
	return result, nil
}

func (b *Builder) liveBundleHashes() (map[string]bool, error) {
	snapshots, err := b.store.ListAllSnapshots()
	if err != nil {
		return nil, fmt.Errorf("list all snapshots: %w", err)
	}

	live := make(map[string]bool)
	for _, raw := range snapshots {
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			continue // corrupt snapshot row; ignore for GC purposes.
		}
		for _, r := range snap.Commands {
			live[r.BundleHash] = true
		}
		for _, r := range snap.Listeners {
			live[r.BundleHash] = true
		}
	}
	return live, nil
}
