// Package querylog publishes a record of every answered question.
package querylog

import (
	"context"
	"fmt"
	"time"

	"github.com/WessleyAI/wessley-garage/pkg/natsutil"
	"github.com/google/uuid"
)

// Subject is the NATS subject query records are published on.
const Subject = "garage.query.logged"

// Entry is what the pipeline reports about one answered question.
type Entry struct {
	UserID           string
	Question         string
	Answer           string
	VehicleID        string
	Confidence       float64
	ConsistencyScore float64
	Latency          time.Duration
}

// Record is the published form of an Entry.
type Record struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Question         string    `json:"question"`
	Answer           string    `json:"answer"`
	VehicleID        string    `json:"vehicle_id,omitempty"`
	Confidence       float64   `json:"confidence"`
	ConsistencyScore float64   `json:"consistency_score"`
	LatencyMs        int64     `json:"latency_ms"`
	LoggedAt         time.Time `json:"logged_at"`
}

// Publisher publishes query records over NATS.
type Publisher struct {
	nc    natsutil.MsgPublisher
	newID func() string
	now   func() time.Time
}

// NewPublisher creates a Publisher on nc.
func NewPublisher(nc natsutil.MsgPublisher) *Publisher {
	return &Publisher{nc: nc, newID: uuid.NewString, now: time.Now}
}

// Log publishes e and returns the published record's ID.
func (p *Publisher) Log(ctx context.Context, e Entry) (string, error) {
	rec := Record{
		ID:               p.newID(),
		UserID:           e.UserID,
		Question:         e.Question,
		Answer:           e.Answer,
		VehicleID:        e.VehicleID,
		Confidence:       e.Confidence,
		ConsistencyScore: e.ConsistencyScore,
		LatencyMs:        e.Latency.Milliseconds(),
		LoggedAt:         p.now().UTC(),
	}
	if err := natsutil.Publish(ctx, p.nc, Subject, rec); err != nil {
		return "", fmt.Errorf("querylog: %w", err)
	}
	return rec.ID, nil
}

// Discard drops every entry. It stands in when no broker is configured.
type Discard struct{}

func (Discard) Log(context.Context, Entry) (string, error) { return "", nil }
