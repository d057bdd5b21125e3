package presence

import (
	"context"
	"time"

	"comms-service/internal/models"
)

// Store is the port for the ephemeral presence map. The memory adapter is
// the single-instance default; the redis adapter backs horizontally scaled
// deployments. Either way the data is reconstructable from heartbeats, so
// a lost store just means everyone reads as offline until the next beat.
type Store interface {
	Get(ctx context.Context, userIDs []int) (map[int]models.PresenceRecord, error)
	Set(ctx context.Context, record models.PresenceRecord) error
	// Stale returns users whose record is older than the cutoff and not
	// already offline.
	Stale(ctx context.Context, cutoff time.Time) ([]int, error)
}
