package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduinsight/eduinsight/core"
)

func receive(t *testing.T, ch <-chan core.Message) core.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return core.Message{}
	}
}

func TestDirectDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	inbox, err := b.Subscribe("agent-1")
	require.NoError(t, err)

	sent := core.NewRequest("coordinator", "agent-1", "work", "payload")
	require.NoError(t, b.Publish(sent))

	got := receive(t, inbox)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "payload", got.Payload)
}

func TestCapabilityDeliveryReachesAllDeclarers(t *testing.T) {
	b := New()
	defer b.Close()

	in1, err := b.Subscribe("agent-1", "data_analysis")
	require.NoError(t, err)
	in2, err := b.Subscribe("agent-2", "data_analysis", "data_export")
	require.NoError(t, err)
	in3, err := b.Subscribe("agent-3", "report_generation")
	require.NoError(t, err)

	require.NoError(t, b.Publish(core.NewRequest("coordinator", "data_analysis", "work", nil)))

	receive(t, in1)
	receive(t, in2)
	select {
	case msg := <-in3:
		t.Fatalf("agent-3 must not receive %q", msg.Subject)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDirectIDWinsOverCapability(t *testing.T) {
	b := New()
	defer b.Close()

	// An agent id that doubles as a capability tag elsewhere resolves as
	// the id.
	inbox, err := b.Subscribe("worker", "data_analysis")
	require.NoError(t, err)
	other, err := b.Subscribe("other", "worker")
	require.NoError(t, err)

	require.NoError(t, b.Publish(core.NewRequest("coordinator", "worker", "work", nil)))
	receive(t, inbox)
	select {
	case <-other:
		t.Fatal("capability declarer must not receive an id-addressed message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnroutableMessageFailsFast(t *testing.T) {
	b := New()
	defer b.Close()

	err := b.Publish(core.NewRequest("coordinator", "nobody", "work", nil))
	require.Error(t, err)
	assert.Equal(t, core.KindRouting, core.KindOf(err))
}

func TestPerSenderOrderingPreserved(t *testing.T) {
	b := New()
	defer b.Close()

	inbox, err := b.Subscribe("agent-1")
	require.NoError(t, err)

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, b.Publish(core.NewRequest("coordinator", "agent-1", fmt.Sprintf("msg-%d", i), nil)))
	}
	for i := 0; i < n; i++ {
		got := receive(t, inbox)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), got.Subject)
	}
}

func TestDuplicateSubscribeRejected(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Subscribe("agent-1")
	require.NoError(t, err)
	_, err = b.Subscribe("agent-1")
	require.Error(t, err)
}

func TestUnsubscribeStopsDeliveryAndCleansCapability(t *testing.T) {
	b := New()
	defer b.Close()

	inbox, err := b.Subscribe("agent-1", "data_analysis")
	require.NoError(t, err)
	b.Unsubscribe("agent-1")

	err = b.Publish(core.NewRequest("coordinator", "data_analysis", "work", nil))
	require.Error(t, err, "the capability tag must be gone with its last declarer")

	select {
	case _, open := <-inbox:
		assert.False(t, open, "delivery channel closes after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("delivery channel never closed")
	}
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	b := New()
	_, err := b.Subscribe("agent-1")
	require.NoError(t, err)
	b.Close()

	require.Error(t, b.Publish(core.NewRequest("coordinator", "agent-1", "work", nil)))
	_, err = b.Subscribe("agent-2")
	require.Error(t, err)
}

func TestPublishDoesNotBlockOnSlowConsumer(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Subscribe("slow")
	require.NoError(t, err)

	// Far more than any channel buffer; Publish must return promptly even
	// though nobody drains.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			_ = b.Publish(core.NewRequest("coordinator", "slow", "work", nil))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow consumer")
	}
}
