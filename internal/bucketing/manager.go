package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"onboarding-service/internal/config"
)

// BucketingManager assigns trackers to stable partitions so the Scylla
// tables stay evenly spread regardless of ID format.
type BucketingManager struct {
	trackerBuckets int
	hasherPool     sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		trackerBuckets: cfg.Bucketing.TrackerBuckets,
	}
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// GetTrackerBucket returns a consistent bucket in [0, trackerBuckets).
func (bm *BucketingManager) GetTrackerBucket(trackerID string) int {
	return int(bm.getHash(trackerID) % uint64(bm.trackerBuckets))
}

func (bm *BucketingManager) GetTrackerBuckets() int {
	return bm.trackerBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
