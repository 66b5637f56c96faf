// Package push defines push-notification jobs and the fire-and-forget queue
// the realtime core enqueues them on. Actual delivery (and its retry policy)
// belongs to the push worker consuming the queue; nothing in this core ever
// observes a push outcome.
package push

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/messaging"
	"github.com/loqui/messenger/internal/metrics"
)

// Job kinds.
const (
	KindMessage = "message"
	KindCall    = "call"
)

// Job is one push notification to be delivered to one device address.
type Job struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`    // "message" or "call"
	Address   string            `json:"address"` // device push address
	Payload   map[string]string `json:"payload"` // preview metadata, never full message content
	CreatedAt int64             `json:"created_at"`
}

// NewJob builds a Job with a fresh ID and timestamp.
func NewJob(kind, address string, payload map[string]string) Job {
	return Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Address:   address,
		Payload:   payload,
		CreatedAt: time.Now().Unix(),
	}
}

// Queue enqueues push jobs. Implementations must be safe for concurrent use
// and must not block the caller on delivery.
type Queue interface {
	Enqueue(job Job)
}

// NATSQueue publishes push jobs on the push.dispatch subject for the worker
// pool to consume.
type NATSQueue struct {
	nats *messaging.NATSClient
}

// NewNATSQueue creates a queue backed by the given NATS client.
func NewNATSQueue(nats *messaging.NATSClient) *NATSQueue {
	return &NATSQueue{nats: nats}
}

// Enqueue publishes the job. Failures are logged and dropped: push delivery
// is best-effort from the core's point of view, and a NATS outage must not
// fail the request that triggered the push.
func (q *NATSQueue) Enqueue(job Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Printf("[push] marshal job id=%s: %v", job.ID, err)
		return
	}
	if err := q.nats.PublishPushJob(data); err != nil {
		log.Printf("[push] enqueue job id=%s kind=%s: %v", job.ID, job.Kind, err)
		return
	}
	metrics.PushJobsTotal.WithLabelValues(job.Kind).Inc()
}
