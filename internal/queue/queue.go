// Package queue defines the page dispatch message and the publish/receive contract
// between the orchestrator and workers. Delivery is at-least-once.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MaxBatchSize is the largest batch a Publisher accepts in one call.
const MaxBatchSize = 10

// ErrBatchTooLarge is reported for every message of an oversized batch.
var ErrBatchTooLarge = fmt.Errorf("batch exceeds %d messages", MaxBatchSize)

// ErrInvalidMessage is returned by Decode for payloads missing an id.
var ErrInvalidMessage = errors.New("invalid dispatch message")

// Message is the page dispatch payload. Workers re-read everything else from the store.
type Message struct {
	JobID      uuid.UUID `json:"job_id"`
	PageID     uuid.UUID `json:"page_id"`
	BusinessID uuid.UUID `json:"business_id"`
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and validates a dispatch payload.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.JobID == uuid.Nil || m.PageID == uuid.Nil || m.BusinessID == uuid.Nil {
		return Message{}, fmt.Errorf("%w: job_id, page_id and business_id are required", ErrInvalidMessage)
	}
	return m, nil
}

// Envelope is a message plus transport headers (trace context).
type Envelope struct {
	Message Message
	Headers map[string]string
}

// Publisher sends dispatch messages.
type Publisher interface {
	// PublishBatch sends up to MaxBatchSize envelopes. The returned slice has one entry
	// per envelope; a nil entry means the message was accepted by the queue.
	PublishBatch(ctx context.Context, batch []Envelope) []error
}

// Receiver pulls deliveries for workers.
type Receiver interface {
	// Receive returns up to max deliveries without waiting for more to arrive.
	// An empty result means the queue is currently empty.
	Receive(ctx context.Context, max int) ([]*Delivery, error)
}

// Delivery is one received message. Exactly one of Ack or Nack should be called.
type Delivery struct {
	Body    []byte
	Headers map[string]string
	// Attempt is the delivery count reported by the transport, 0 when unknown.
	Attempt int

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

// NewDelivery builds a delivery whose acknowledgement is handled by the given callbacks.
func NewDelivery(body []byte, headers map[string]string, attempt int, ack, nack func(ctx context.Context) error) *Delivery {
	return &Delivery{Body: body, Headers: headers, Attempt: attempt, ack: ack, nack: nack}
}

// Ack removes the message from the queue.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack makes the message available for redelivery.
func (d *Delivery) Nack(ctx context.Context) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx)
}

// FailAll returns a result slice reporting err for every message of a batch.
func FailAll(n int, err error) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = err
	}
	return errs
}
