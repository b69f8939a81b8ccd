package live

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func drainInitialWakeup(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Fatal("expected initial wakeup")
	}
}

func TestSubscribeDeliversInitialWakeup(t *testing.T) {
	hub := NewHub(nil, time.Hour)
	sub := hub.Subscribe("comments:p1")
	defer sub.Close()

	drainInitialWakeup(t, sub)
}

func TestNotifyWakesLocalSubscriber(t *testing.T) {
	hub := NewHub(nil, time.Hour)
	sub := hub.Subscribe("comments:p1")
	defer sub.Close()
	drainInitialWakeup(t, sub)

	hub.Notify(context.Background(), "comments:p1")

	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Fatal("expected wakeup after Notify")
	}
}

func TestNotifyIgnoresOtherTopics(t *testing.T) {
	hub := NewHub(nil, time.Hour)
	sub := hub.Subscribe("comments:p1")
	defer sub.Close()
	drainInitialWakeup(t, sub)

	hub.Notify(context.Background(), "comments:other")

	select {
	case <-sub.C:
		t.Fatal("did not expect a wakeup for another topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyReachesRedisSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewHub(client, time.Hour)
	subscriber := NewHub(client, time.Hour)

	sub := subscriber.Subscribe("profile:u1")
	defer sub.Close()
	drainInitialWakeup(t, sub)

	// Allow the pub/sub registration to land before publishing.
	time.Sleep(20 * time.Millisecond)
	publisher.Notify(context.Background(), "profile:u1")

	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("expected wakeup via redis pub/sub")
	}
}

func TestPollFallbackWakes(t *testing.T) {
	hub := NewHub(nil, 10*time.Millisecond)
	sub := hub.Subscribe("comments:p1")
	defer sub.Close()
	drainInitialWakeup(t, sub)

	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Fatal("expected wakeup from poll ticker")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	hub := NewHub(nil, time.Hour)
	sub := hub.Subscribe("comments:p1")
	drainInitialWakeup(t, sub)

	sub.Close()

	// Channel closes once the run loop exits.
	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected closed channel, got wakeup")
		}
	case <-time.After(time.Second):
		t.Fatal("expected channel close after Close()")
	}

	// Closing twice is fine, and Notify after Close must not panic.
	sub.Close()
	hub.Notify(context.Background(), "comments:p1")
}
