package models

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Event wraps a verified NIP-01 event. Construction is the only place a
// signature check happens; once built, an Event is immutable and known-good.
type Event struct {
	inner nostr.Event
}

// NewEvent verifies ev's signature and id before wrapping it. Construction
// fails closed: any malformed or misattributed event is rejected here so
// every later consumer can treat Event as already-trusted.
func NewEvent(ev nostr.Event) (Event, error) {
	if ev.Kind < 0 || ev.Kind > 65535 {
		return Event{}, fmt.Errorf("models: event kind %d out of range", ev.Kind)
	}
	ok, err := ev.CheckSignature()
	if err != nil {
		return Event{}, fmt.Errorf("models: signature check failed: %w", err)
	}
	if !ok {
		return Event{}, fmt.Errorf("models: signature invalid for event %s", ev.ID)
	}
	if ev.GetID() != ev.ID {
		return Event{}, fmt.Errorf("models: event id does not match canonical hash")
	}
	return Event{inner: ev}, nil
}

func (e Event) ID() string          { return e.inner.ID }
func (e Event) PubKey() string      { return e.inner.PubKey }
func (e Event) CreatedAt() int64    { return int64(e.inner.CreatedAt) }
func (e Event) Kind() int           { return e.inner.Kind }
func (e Event) Content() string     { return e.inner.Content }
func (e Event) Sig() string         { return e.inner.Sig }
func (e Event) Tags() nostr.Tags    { return e.inner.Tags }
func (e Event) Raw() nostr.Event    { return e.inner }

// TagValues returns the values (index 1) of every tag whose name (index 0)
// matches name.
func (e Event) TagValues(name string) []string {
	var out []string
	for _, tag := range e.inner.Tags {
		if len(tag) >= 2 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

// EventRelay records that a relay was observed holding an event.
type EventRelay struct {
	EventID string
	RelayURL string
	SeenAt  int64
}

func NewEventRelay(event Event, relay Relay, seenAt int64) EventRelay {
	return EventRelay{EventID: event.ID(), RelayURL: relay.URL(), SeenAt: seenAt}
}
