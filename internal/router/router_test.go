package router

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/weft/internal/clock"
	"github.com/loomworks/weft/internal/event"
)

func makeEvent(t *testing.T, id, origin string, category event.Category) event.Event {
	t.Helper()
	ev, err := event.New(id, clock.Timestamp{WallMS: 1, Node: "n"}, origin, category, event.Payload{Kind: "test"}, nil)
	require.NoError(t, err)
	return ev
}

func drain(sub *Subscription) []event.Event {
	var got []event.Event
	for {
		select {
		case ev := <-sub.C:
			got = append(got, ev)
		default:
			return got
		}
	}
}

func TestRouter_UnfilteredReceivesEverything(t *testing.T) {
	r := New(8)
	sub := r.Subscribe(nil, nil)

	evs := []event.Event{
		makeEvent(t, "e1", "w1", event.CategoryMeaning),
		makeEvent(t, "e2", "w2", event.CategoryCommitment),
		makeEvent(t, "e3", "w1", event.CategorySystem),
	}
	for _, ev := range evs {
		r.Route(ev)
	}

	got := drain(sub)
	assert.Equal(t, evs, got, "unfiltered subscription sees every event in order")
}

func TestRouter_CategoryFilter(t *testing.T) {
	r := New(8)
	sub := r.Subscribe([]event.Category{event.CategoryCommitment}, nil)

	r.Route(makeEvent(t, "e1", "w", event.CategoryMeaning))
	r.Route(makeEvent(t, "e2", "w", event.CategoryCommitment))
	r.Route(makeEvent(t, "e3", "w", event.CategoryConsequence))

	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID)
}

func TestRouter_OriginFilter(t *testing.T) {
	r := New(8)
	sub := r.Subscribe(nil, []string{"w1", "w3"})

	r.Route(makeEvent(t, "e1", "w1", event.CategoryMeaning))
	r.Route(makeEvent(t, "e2", "w2", event.CategoryMeaning))
	r.Route(makeEvent(t, "e3", "w3", event.CategoryMeaning))

	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "e3", got[1].ID)
}

func TestRouter_FiltersCombineWithAND(t *testing.T) {
	r := New(8)
	sub := r.Subscribe([]event.Category{event.CategoryIntent}, []string{"w1"})

	r.Route(makeEvent(t, "e1", "w1", event.CategoryIntent))   // both match
	r.Route(makeEvent(t, "e2", "w1", event.CategoryMeaning))  // origin only
	r.Route(makeEvent(t, "e3", "w2", event.CategoryIntent))   // category only
	r.Route(makeEvent(t, "e4", "w2", event.CategoryCoupling)) // neither

	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
}

func TestRouter_SlowSubscriberDropsNotBlocks(t *testing.T) {
	r := New(2)
	slow := r.Subscribe(nil, nil)
	fast := r.Subscribe(nil, nil)

	// Fill slow's buffer (2), then keep routing; drain fast as we go.
	for i := 0; i < 5; i++ {
		delivered := r.Route(makeEvent(t, fmt.Sprintf("e%d", i), "w", event.CategorySystem))
		if i < 2 {
			assert.Equal(t, 2, delivered)
		} else {
			assert.Equal(t, 1, delivered, "only the drained subscriber keeps receiving")
		}
		drain(fast)
	}

	assert.Len(t, drain(slow), 2, "slow subscriber holds only its buffered events")
	assert.Equal(t, uint64(3), r.Dropped())
}

func TestRouter_CancelledSubscriptionPrunedLazily(t *testing.T) {
	r := New(8)
	sub := r.Subscribe(nil, nil)
	assert.Equal(t, 1, r.SubscriptionCount())

	sub.Cancel()
	// Pruning is lazy: the table is untouched until the next route.
	assert.Equal(t, 1, r.SubscriptionCount())

	r.Route(makeEvent(t, "e1", "w", event.CategorySystem))
	assert.Equal(t, 0, r.SubscriptionCount())
	assert.Equal(t, uint64(1), r.Pruned())

	// Channel is closed after pruning.
	_, open := <-sub.C
	assert.False(t, open)
}

func TestRouter_CancelIdempotent(t *testing.T) {
	r := New(8)
	sub := r.Subscribe(nil, nil)
	sub.Cancel()
	sub.Cancel()

	r.Route(makeEvent(t, "e1", "w", event.CategorySystem))
	r.Route(makeEvent(t, "e2", "w", event.CategorySystem))
	assert.Equal(t, uint64(1), r.Pruned())
}

func TestRouter_EmptyNonNilFilterMatchesNothing(t *testing.T) {
	r := New(8)
	sub := r.Subscribe([]event.Category{}, nil)

	r.Route(makeEvent(t, "e1", "w", event.CategorySystem))
	assert.Empty(t, drain(sub))
}

func TestRouter_SubscriptionIDsUnique(t *testing.T) {
	r := New(8)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sub := r.Subscribe(nil, nil)
		assert.False(t, seen[sub.ID])
		seen[sub.ID] = true
	}
	assert.Equal(t, 100, r.SubscriptionCount())
}

func TestRouter_ConcurrentRouteAndSubscribe(t *testing.T) {
	r := New(16)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Route(makeEvent(t, fmt.Sprintf("g%d-e%d", g, i), "w", event.CategorySystem))
			}
		}(g)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				sub := r.Subscribe(nil, nil)
				sub.Cancel()
			}
		}()
	}
	wg.Wait()

	// All cancelled subscriptions are eventually pruned by one more route.
	r.Route(makeEvent(t, "final", "w", event.CategorySystem))
	assert.Equal(t, 0, r.SubscriptionCount())
}
