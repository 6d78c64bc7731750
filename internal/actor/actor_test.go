package actor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stopActor(t *testing.T, ref *ActorRef) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ref.Stop(ctx))
}

func TestActorRefStartStop(t *testing.T) {
	a := NewTestActor("test-1")
	ref := NewActorRef("test-1", a, 10)
	assert.Equal(t, "test-1", ref.ID())

	require.NoError(t, ref.Start(context.Background()))
	assert.True(t, a.startCalled.Load())
	assert.Error(t, ref.Start(context.Background()), "second start must fail")

	stopActor(t, ref)
	assert.True(t, a.stopCalled.Load())

	select {
	case <-ref.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	// Stop is idempotent
	stopActor(t, ref)
}

func TestActorRefPreservesOrder(t *testing.T) {
	a := NewTestActor("ordered")
	ref := NewActorRef("ordered", a, 100)
	require.NoError(t, ref.Start(context.Background()))
	defer stopActor(t, ref)

	for i := 0; i < 50; i++ {
		require.NoError(t, ref.Send(&TestMessage{ID: fmt.Sprint(i)}))
	}

	require.Eventually(t, func() bool { return a.GetReceiveCount() == 50 }, time.Second, 5*time.Millisecond)
	for i, msg := range a.GetReceivedMessages() {
		assert.Equal(t, fmt.Sprint(i), msg.(*TestMessage).ID)
	}
}

func TestActorRefSendAfterStop(t *testing.T) {
	ref := NewActorRef("test-1", NewTestActor("test-1"), 10)
	require.NoError(t, ref.Start(context.Background()))
	stopActor(t, ref)

	assert.ErrorIs(t, ref.Send(&TestMessage{ID: "late"}), ErrStopped)
	assert.ErrorIs(t, ref.SendContext(context.Background(), &TestMessage{ID: "late"}), ErrStopped)
}

func TestActorRefMailboxFull(t *testing.T) {
	// Not started, so nothing drains the mailbox
	ref := NewActorRef("test-1", NewTestActor("test-1"), 2)

	require.NoError(t, ref.Send(&TestMessage{ID: "msg-1"}))
	require.NoError(t, ref.Send(&TestMessage{ID: "msg-2"}))
	assert.ErrorIs(t, ref.Send(&TestMessage{ID: "msg-3"}), ErrMailboxFull)
}

func TestActorRefSendContextWaitsForSpace(t *testing.T) {
	ref := NewActorRef("test-1", NewTestActor("test-1"), 1)
	require.NoError(t, ref.Send(&TestMessage{ID: "msg-1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ref.SendContext(ctx, &TestMessage{ID: "msg-2"}), context.DeadlineExceeded)
}

func TestActorRefReceiveErrorKeepsRunning(t *testing.T) {
	a := NewTestActor("test-1")
	ref := NewActorRef("test-1", a, 10)
	require.NoError(t, ref.Start(context.Background()))
	defer stopActor(t, ref)

	require.NoError(t, ref.Send(&ErrorMessage{}))
	require.NoError(t, ref.Send(&TestMessage{ID: "after"}))

	require.Eventually(t, func() bool { return a.GetReceiveCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestActorRefStopCancelsBlockedReceive(t *testing.T) {
	a := NewTestActor("blocked")
	a.block = make(chan struct{})
	ref := NewActorRef("blocked", a, 10)
	require.NoError(t, ref.Start(context.Background()))

	require.NoError(t, ref.Send(&TestMessage{ID: "stuck"}))
	time.Sleep(10 * time.Millisecond)

	stopActor(t, ref)
	assert.True(t, a.stopCalled.Load())
}
