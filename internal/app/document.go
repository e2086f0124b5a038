package app

import (
	"log"
	"sync"

	"canvas/api/internal/binding"
	"canvas/api/internal/builder"
	"canvas/api/internal/component"
	"canvas/api/internal/gitrepo"
	"canvas/api/internal/presence"
	"canvas/api/internal/protocol"
	"canvas/api/internal/state"
)

const subscriberBuffer = 64

// Document is the live session of one document. mu serializes every read and
// write of the tree and the state; subscribers have their own lock so that
// presence grooming can broadcast without waiting on a mutation.
type Document struct {
	ID string

	mu       sync.Mutex
	tree     *component.Store
	builder  *builder.Builder
	mirror   *state.Mirror
	eval     *binding.Evaluator
	presence *presence.Manager
	dirty    bool

	subsMu sync.Mutex
	subs   map[*subscriber]struct{}
}

type subscriber struct {
	send chan protocol.Message
	done chan struct{}
	once sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		send: make(chan protocol.Message, subscriberBuffer),
		done: make(chan struct{}),
	}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

func (d *Document) snapshot() gitrepo.Snapshot {
	return gitrepo.Snapshot{
		Components: d.tree.Snapshot(),
		State:      d.mirror.Snapshot(),
	}
}

// fullMutations encodes the whole state as one patch for a fresh subscriber.
func (d *Document) fullMutations() map[string]any {
	mutations, err := state.EncodeMutations(state.Patch(d.mirror.Snapshot()))
	if err != nil {
		log.Printf("app: encode state of %s: %v", d.ID, err)
		return map[string]any{}
	}
	return mutations
}

func (d *Document) subscribe() *subscriber {
	sub := newSubscriber()
	d.subsMu.Lock()
	d.subs[sub] = struct{}{}
	d.subsMu.Unlock()
	return sub
}

func (d *Document) unsubscribe(sub *subscriber) {
	d.subsMu.Lock()
	delete(d.subs, sub)
	d.subsMu.Unlock()
	sub.close()
}

func (d *Document) subscriberCount() int {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	return len(d.subs)
}

// broadcast queues msg for every subscriber except skip. A subscriber whose
// queue is full is dropped; its connection closes and the client reloads.
func (d *Document) broadcast(msg protocol.Message, skip *subscriber) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for sub := range d.subs {
		if sub == skip {
			continue
		}
		select {
		case sub.send <- msg:
		default:
			log.Printf("app: dropping slow subscriber on %s", d.ID)
			delete(d.subs, sub)
			sub.close()
		}
	}
}

// deliver queues msg for a single subscriber, dropping it if its queue is full.
func (d *Document) deliver(sub *subscriber, msg protocol.Message) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	if _, ok := d.subs[sub]; !ok {
		return
	}
	select {
	case sub.send <- msg:
	default:
		log.Printf("app: dropping slow subscriber on %s", d.ID)
		delete(d.subs, sub)
		sub.close()
	}
}

func (d *Document) broadcastPatch(p state.Patch, skip *subscriber) {
	if len(p) == 0 {
		return
	}
	mutations, err := state.EncodeMutations(p)
	if err != nil {
		log.Printf("app: encode patch for %s: %v", d.ID, err)
		return
	}
	d.broadcastPayload(protocol.TypePatch, protocol.PatchPayload{Mutations: mutations}, skip)
}

func (d *Document) broadcastComponents() {
	d.broadcastPayload(protocol.TypeComponents, protocol.ComponentsPayload{Components: d.tree.Snapshot()}, nil)
}

func (d *Document) broadcastPresence(entries []presence.Entry) {
	if entries == nil {
		entries = []presence.Entry{}
	}
	d.broadcastPayload(protocol.TypePresence, protocol.PresenceListPayload{Entries: entries}, nil)
}

func (d *Document) broadcastPayload(typ string, payload any, skip *subscriber) {
	msg, err := protocol.NewMessage(typ, "", payload)
	if err != nil {
		log.Printf("app: %v", err)
		return
	}
	d.broadcast(msg, skip)
}
