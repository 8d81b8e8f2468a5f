package mail

import (
	"context"
	"time"
)

// Dummy is a no-op transport for local runs and demos.
type Dummy struct {
	Latency time.Duration
}

func NewDummy() *Dummy { return &Dummy{Latency: 20 * time.Millisecond} }

func (d *Dummy) Send(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.Latency):
		return nil
	}
}
