package ws

import (
	"time"

	"comms-service/internal/observability"
)

// ConnInfo identifies one gateway connection across its lifetime, for
// events and correlation.
type ConnInfo struct {
	ConnID      string
	UserID      int
	Meta        observability.RequestMeta
	TraceID     string
	ConnectedAt time.Time
}
