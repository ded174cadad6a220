package queue

import (
	"context"

	"github.com/coachcall/partner-api/internal/domain"
)

// Producer sends job dispatch messages to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.JobMessage) error
}

// Consumer receives job dispatch messages and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.JobMessage) error) error
}
