package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func throwNil(ctx context.Context) error {
	var x *int = nil
	*x = 5
	return nil
}

func receive(t *testing.T, errC <-chan error) error {
	t.Helper()
	select {
	case err := <-errC:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("runnable did not report")
		return nil
	}
}

func TestRunWithScissors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("runtime panic", func(t *testing.T) {
		errC := make(chan error, 1)
		RunWithScissors(ctx, errC, "transfer_0x01", throwNil)
		assert.EqualError(t, receive(t, errC), "transfer_0x01: runtime error: invalid memory address or nil pointer dereference")
	})

	t.Run("string panic", func(t *testing.T) {
		errC := make(chan error, 1)
		RunWithScissors(ctx, errC, "transfer_0x02", func(context.Context) error { panic("boom") })
		assert.EqualError(t, receive(t, errC), "transfer_0x02: boom")
	})

	t.Run("returned error", func(t *testing.T) {
		errC := make(chan error, 1)
		sentinel := errors.New("store unavailable")
		RunWithScissors(ctx, errC, "transfer_0x03", func(context.Context) error { return sentinel })
		err := receive(t, errC)
		require.ErrorIs(t, err, sentinel)
		assert.EqualError(t, err, "transfer_0x03: store unavailable")
	})

	t.Run("clean exit", func(t *testing.T) {
		errC := make(chan error, 1)
		done := make(chan struct{})
		RunWithScissors(ctx, errC, "transfer_0x04", func(context.Context) error {
			close(done)
			return nil
		})
		<-done
		select {
		case err := <-errC:
			t.Fatalf("unexpected error: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	})
}
