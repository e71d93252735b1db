package gstcapture

import (
	"time"

	"github.com/google/uuid"

	"github.com/Idein/actfw-gstreamer/internal/fpsstats"
)

// Frame is one converted sample.
type Frame struct {
	// Seq is the monotonic sequence number across restarts, starting at 1.
	Seq uint64
	// Timestamp is when the sample was captured.
	Timestamp time.Time
	// Value is the converter's output, e.g. []byte for converter.Raw.
	Value any
	// SourceName identifies the capture, see WithSourceName.
	SourceName string
	// TraceID is a unique identifier for distributed tracing.
	TraceID uuid.UUID
}

// Action is a restart policy verdict.
type Action int

const (
	Stop Action = iota
	Restart
)

func (a Action) String() string {
	switch a {
	case Stop:
		return "stop"
	case Restart:
		return "restart"
	default:
		return "unknown"
	}
}

// FPSStats summarizes recent frame arrivals.
type FPSStats = fpsstats.Stats

// OutletStats counts deliveries for one outlet.
type OutletStats struct {
	Sent    uint64
	Dropped uint64
	// DropRate is the percentage of frames dropped (0-100).
	DropRate float64
}

// Stats contains current capture statistics.
type Stats struct {
	SourceName string
	// IsRunning is true while Run is looping.
	IsRunning bool
	// Attempts is the number of pipelines started.
	Attempts uint64
	// FramesCaptured is the total number of frames published.
	FramesCaptured uint64
	// RestartsBuildError and RestartsConnectionLost count restarts granted by
	// the policy, per cause.
	RestartsBuildError     uint64
	RestartsConnectionLost uint64
	// Coalesced is the number of new-sample notifications merged into a
	// pending wake-up, summed over finished attempts.
	Coalesced uint64
	// EngineErrors counts bus errors by category.
	EngineErrors map[string]uint64
	Outlets      map[string]OutletStats
	LastFrameAt  time.Time
	FPS          FPSStats
}
