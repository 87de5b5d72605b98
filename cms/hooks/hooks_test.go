package hooks

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSubscribeRejectsUnknownEvent(t *testing.T) {
	bus := NewBus()

	err := bus.Subscribe("before_create", "article", func(event string, payload Payload) {})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	err = bus.Publish("before_create", Payload{})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestPerTypeSubscriber(t *testing.T) {
	bus := NewBus()

	var got []string
	err := bus.Subscribe(PostCreate, "article", func(event string, payload Payload) {
		got = append(got, payload.TypeSlug)
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(PostCreate, Payload{TypeSlug: "article"}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(PostCreate, Payload{TypeSlug: "person"}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(PostDelete, Payload{TypeSlug: "article"}); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, []string{"article"}, got)
}

func TestGlobalSubscriberRunsBeforePerType(t *testing.T) {
	bus := NewBus()

	var order []string
	err := bus.Subscribe(PreDelete, "article", func(event string, payload Payload) {
		order = append(order, "article")
	})
	if err != nil {
		t.Fatal(err)
	}
	err = bus.Subscribe(PreDelete, "*", func(event string, payload Payload) {
		order = append(order, "global")
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(PreDelete, Payload{TypeSlug: "article", EntityId: uuid.NewString()}); err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, []string{"global", "article"}, order)
}

func TestAllLifecycleEvents(t *testing.T) {
	bus := NewBus()

	events := []string{
		PreCreate, PostCreate,
		PreUpdate, PostUpdate,
		PreDelete, PostDelete,
		PrePublish, PostPublish,
		PreUnpublish, PostUnpublish,
	}

	seen := map[string]int{}
	for _, event := range events {
		if err := bus.Subscribe(event, "*", func(event string, payload Payload) {
			seen[event]++
		}); err != nil {
			t.Fatal(err)
		}
	}

	for _, event := range events {
		if err := bus.Publish(event, Payload{TypeSlug: "article"}); err != nil {
			t.Fatal(err)
		}
	}

	for _, event := range events {
		assert.Equal(t, 1, seen[event], event)
	}
}
