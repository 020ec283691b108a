package audit

import "testing"

func TestNoOpSinkDiscardsEvents(t *testing.T) {
	sink := NoOp()
	sink.Publish(Event{Kind: EventKick, ChannelID: 1, ActorID: 2, TargetID: 3})
	sink.Close()
}

func TestEventKindConstants(t *testing.T) {
	kinds := []EventKind{
		EventKick, EventPromote, EventRename, EventPin, EventPrivacy, EventInvite, EventChannelDestroyed,
	}
	seen := make(map[EventKind]bool)
	for _, k := range kinds {
		if seen[k] {
			t.Fatalf("duplicate event kind %q", k)
		}
		seen[k] = true
	}
}
