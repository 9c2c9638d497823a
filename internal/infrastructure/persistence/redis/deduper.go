package redis

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/nurkids/nur-learning-hub/internal/domain/reconcile"
)

// SnapshotDeduper remembers fingerprints of merged snapshots so that a
// redelivered snapshot is not merged twice.
type SnapshotDeduper struct {
	cache *Cache
	ttl   time.Duration
}

// NewSnapshotDeduper creates a deduper. ttl <= 0 uses TTLSnapshotDigest.
func NewSnapshotDeduper(cache *Cache, ttl time.Duration) *SnapshotDeduper {
	if ttl <= 0 {
		ttl = TTLSnapshotDigest
	}
	return &SnapshotDeduper{cache: cache, ttl: ttl}
}

// FirstSeen records the snapshot fingerprint and reports whether it is new.
func (d *SnapshotDeduper) FirstSeen(ctx context.Context, snap reconcile.Snapshot) (bool, error) {
	digest, err := SnapshotDigest(snap)
	if err != nil {
		return false, err
	}
	return d.cache.SetNX(ctx, SnapshotDigestKey(snap.LearnerID, digest), "1", d.ttl)
}

// Forget drops the snapshot fingerprint.
func (d *SnapshotDeduper) Forget(ctx context.Context, snap reconcile.Snapshot) error {
	digest, err := SnapshotDigest(snap)
	if err != nil {
		return err
	}
	return d.cache.Delete(ctx, SnapshotDigestKey(snap.LearnerID, digest))
}

// SnapshotDigest is the hex BLAKE2b-256 of the snapshot's wire form with
// every instant in UTC. Equal content gives equal digests.
func SnapshotDigest(snap reconcile.Snapshot) (string, error) {
	data, err := json.Marshal(utcSnapshot(ToSnapshotDTO(snap)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func utcSnapshot(d SnapshotDTO) SnapshotDTO {
	d.CapturedAt = d.CapturedAt.UTC()
	if d.Profile != nil {
		p := *d.Profile
		p.LastLessonCompletedAt = utcPtr(p.LastLessonCompletedAt)
		p.LastFreezeGrantedAt = utcPtr(p.LastFreezeGrantedAt)
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		d.Profile = &p
	}
	progress := make([]ProgressDTO, len(d.Progress))
	for i, p := range d.Progress {
		p.CompletedAt = utcPtr(p.CompletedAt)
		p.LastAccessedAt = p.LastAccessedAt.UTC()
		if p.Phases != nil {
			phases := make(map[string]time.Time, len(p.Phases))
			for k, ts := range p.Phases {
				phases[k] = ts.UTC()
			}
			p.Phases = phases
		}
		progress[i] = p
	}
	d.Progress = progress
	return d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
