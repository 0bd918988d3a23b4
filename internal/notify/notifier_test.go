package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"deskd/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNotifier_PublishWithoutSubscribers(t *testing.T) {
	n := New(4)
	// Must be a silent no-op.
	n.Publish(Notification{Type: TypeOrchestrationComplete, Response: "done"})
	assert.Zero(t, n.SubscriberCount())
}

func TestNotifier_FanOut(t *testing.T) {
	n := New(4)

	ch1, cancel1 := n.Subscribe()
	ch2, cancel2 := n.Subscribe()
	defer cancel1()
	defer cancel2()

	n.Publish(Notification{
		Type:      TypeOrchestrationComplete,
		Response:  "dentist at 3pm",
		HandledBy: []string{"memory_retrieve"},
		Method:    types.MethodStructural,
	})

	for _, ch := range []<-chan Notification{ch1, ch2} {
		select {
		case note := <-ch:
			assert.Equal(t, "dentist at 3pm", note.Response)
			assert.Equal(t, []string{"memory_retrieve"}, note.HandledBy)
			assert.False(t, note.Timestamp.IsZero(), "publish stamps the event")
		case <-time.After(time.Second):
			t.Fatal("notification not delivered")
		}
	}
}

func TestNotifier_SlowSubscriberDropsEvents(t *testing.T) {
	n := New(1)

	ch, cancel := n.Subscribe()
	defer cancel()

	// Fill the buffer, then overflow it. Publish must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Publish(Notification{Response: "first"})
		n.Publish(Notification{Response: "second"})
		n.Publish(Notification{Response: "third"})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	note := <-ch
	assert.Equal(t, "first", note.Response)
	select {
	case extra := <-ch:
		t.Fatalf("buffered more than capacity: %q", extra.Response)
	default:
	}
}

func TestNotifier_Cancel(t *testing.T) {
	n := New(4)
	ch, cancel := n.Subscribe()
	require.Equal(t, 1, n.SubscriberCount())

	cancel()
	assert.Zero(t, n.SubscriberCount())

	_, open := <-ch
	assert.False(t, open, "cancel closes the channel")

	t.Run("cancel is idempotent", func(t *testing.T) {
		assert.NotPanics(t, cancel)
	})

	t.Run("publish after cancel reaches nobody", func(t *testing.T) {
		n.Publish(Notification{Response: "lost"})
	})
}
