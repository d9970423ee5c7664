package domain

import "time"

// Chunk statuses reported through the heartbeat channel.
const (
	ChunkStatusOnline  = "online"
	ChunkStatusOffline = "offline"
)

// Chunk type discriminators. A "chunk" is a resource the user owns;
// a "pod" records consumption of someone else's shared chunk.
const (
	ChunkTypeOwned = "chunk"
	ChunkTypePod   = "pod"
)

// Chunk represents a user-owned compute resource unit. Capacity is
// declared in Dirac units (compute/memory/storage/bandwidth); the usage
// quad is externally supplied telemetry and never computed here.
type Chunk struct {
	ID         string
	UserID     string
	Name       string
	Status     string
	Type       string
	DC         int
	DM         int
	DS         int
	DB         int
	UsageDC    float64
	UsageDM    float64
	UsageDS    float64
	UsageDB    float64
	LastSeenAt time.Time
	CreatedAt  time.Time
}
