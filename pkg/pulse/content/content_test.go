package content

import (
	"context"
	"io"
	"testing"

	"github.com/yourusername/pulse/pkg/pulse/header"
	"github.com/yourusername/pulse/pkg/pulse/pulseerr"
)

func TestFromBytesRoundTrips(t *testing.T) {
	c := FromBytes(header.New(), []byte("hello"))

	r, err := c.Consume(context.Background())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestSecondConsumeFailsStreamAlreadyConsumed(t *testing.T) {
	c := FromBytes(header.New(), []byte("x"))

	if _, err := c.Consume(context.Background()); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	_, err := c.Consume(context.Background())
	if err != pulseerr.ErrStreamAlreadyConsumed {
		t.Fatalf("second Consume err = %v, want ErrStreamAlreadyConsumed", err)
	}
}

func TestDrainTeleratesAlreadyConsumed(t *testing.T) {
	c := FromBytes(header.New(), []byte("y"))

	if _, err := c.Consume(context.Background()); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := c.Drain(context.Background()); err != nil {
		t.Fatalf("Drain after consume = %v, want nil", err)
	}
}

func TestEmptyIsZeroLength(t *testing.T) {
	r, err := Empty().Consume(context.Background())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %q, want empty", got)
	}
}
