// Package client is the runtime side of a document: it mirrors the server's
// tree and state over the document WebSocket and sends component events
// through an events.Broker.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"canvas/api/internal/binding"
	"canvas/api/internal/catalog"
	"canvas/api/internal/component"
	"canvas/api/internal/events"
	"canvas/api/internal/presence"
	"canvas/api/internal/protocol"
	"canvas/api/internal/state"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("client closed")

const writeTimeout = 10 * time.Second

type Option func(*Client)

// WithCatalog sets the definitions used for mount-time binding values.
func WithCatalog(c *catalog.Catalog) Option {
	return func(cl *Client) { cl.catalog = c }
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(cl *Client) { cl.dialer = d }
}

// WithChangeHook is called from the read loop after every applied frame.
func WithChangeHook(fn func(frameType string)) Option {
	return func(cl *Client) { cl.onChange = fn }
}

type ackResult struct {
	err error
}

type Client struct {
	catalog  *catalog.Catalog
	dialer   *websocket.Dialer
	onChange func(frameType string)

	conn       *websocket.Conn
	documentID string
	replica    *state.Replica
	tree       *lockedTree
	eval       *binding.Evaluator
	broker     *events.Broker

	writeMu sync.Mutex

	mu       sync.Mutex
	acks     map[string]chan ackResult
	presence []presence.Entry
	readErr  error

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a document WebSocket and returns once the init frame has
// been applied.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		dialer:  websocket.DefaultDialer,
		replica: state.NewReplica(),
		acks:    make(map[string]chan ackResult),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.catalog == nil {
		c.catalog = catalog.Builtin()
	}
	c.tree = &lockedTree{store: component.NewStore(component.WithCatalog(c.catalog))}
	c.eval = binding.NewEvaluator(c.replica, c.tree)
	c.broker = events.NewBroker(events.SenderFunc(c.send), c.tree)

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.conn = conn
	go c.readLoop()

	select {
	case <-c.ready:
		return c, nil
	case <-c.done:
		err := c.err()
		_ = c.Close()
		if err == nil {
			err = ErrClosed
		}
		return nil, fmt.Errorf("wait for init: %w", err)
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}

func (c *Client) DocumentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documentID
}

// Get reads the local state at a dotted path.
func (c *Client) Get(path string) (any, bool) {
	return c.replica.Get(path)
}

func (c *Client) Snapshot() map[string]any {
	return c.replica.Snapshot()
}

// Pending lists state paths with unconfirmed local edits.
func (c *Client) Pending() []string {
	return c.replica.Pending()
}

func (c *Client) Components() []component.Component {
	return c.tree.Snapshot()
}

func (c *Client) Component(id string) (component.Component, bool) {
	return c.tree.Lookup(id)
}

func (c *Client) Evaluator() *binding.Evaluator {
	return c.eval
}

func (c *Client) Presence() []presence.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]presence.Entry(nil), c.presence...)
}

// HandleInput applies a bound value optimistically and emits eventType for
// the component instance at the end of path. It reports whether anything
// consumes the event.
func (c *Client) HandleInput(path binding.InstancePath, eventType string, value any) bool {
	if len(path) == 0 {
		return false
	}
	if target, ok := c.bindingTarget(path[len(path)-1].ComponentID, eventType, path); ok {
		if err := c.replica.SetLocal(target, value); err != nil {
			log.Printf("client: local edit %s: %v", target, err)
		}
	}
	return c.broker.HandleInput(path, eventType, value)
}

// Mount sends the initial binding value of a component instance.
func (c *Client) Mount(path binding.InstancePath) bool {
	return c.broker.Mount(path)
}

// EmitterState reports the broker state for one instance and event type.
func (c *Client) EmitterState(path binding.InstancePath, eventType string) string {
	return c.broker.State(path, eventType)
}

// Ping sends a presence update.
func (c *Client) Ping(userID, action string, selection *presence.Selection) error {
	msg, err := protocol.NewMessage(protocol.TypePresence, "", protocol.PresencePayload{
		UserID:    userID,
		Action:    action,
		Selection: selection,
	})
	if err != nil {
		return err
	}
	return c.write(msg)
}

// Close stops the broker and the connection. It is safe to call twice.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.broker != nil {
			_ = c.broker.Close()
		}
		if c.conn != nil {
			c.writeMu.Lock()
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout),
			)
			c.writeMu.Unlock()
			err = c.conn.Close()
		}
		c.shutdown(nil)
	})
	return err
}

func (c *Client) shutdown(readErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.readErr = readErr
	close(c.done)
}

func (c *Client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *Client) bindingTarget(componentID, eventType string, path binding.InstancePath) (string, bool) {
	comp, ok := c.tree.Lookup(componentID)
	if !ok || comp.Binding == nil || comp.Binding.EventType != eventType {
		return "", false
	}
	return c.eval.StatePath(comp.Binding.StateRef, path)
}

// send is the broker's Sender: it writes an event frame and waits for the
// ack carrying the same tracking id.
func (c *Client) send(ctx context.Context, ev events.Event) error {
	ch := make(chan ackResult, 1)
	c.mu.Lock()
	c.acks[ev.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, ev.ID)
		c.mu.Unlock()
	}()

	msg, err := protocol.NewMessage(protocol.TypeEvent, ev.ID, protocol.EventPayload{
		Type:         ev.Type,
		ComponentID:  ev.ComponentID,
		InstancePath: ev.InstancePath,
		Payload:      ev.Payload,
	})
	if err != nil {
		return err
	}
	if err := c.write(msg); err != nil {
		return err
	}

	select {
	case res := <-ch:
		if target, ok := c.bindingTarget(ev.ComponentID, ev.Type, ev.InstancePath); ok {
			c.replica.Confirm(target, ev.Payload)
		}
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) write(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s frame: %w", msg.Type, err)
	}
	return nil
}

// readLoop applies frames in arrival order, so patches and acks reach the
// replica in the order the server produced them.
func (c *Client) readLoop() {
	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.done:
				default:
					log.Printf("client: read %s: %v", c.DocumentID(), err)
				}
			}
			c.shutdown(err)
			return
		}
		if err := c.apply(msg); err != nil {
			log.Printf("client: drop %s frame: %v", msg.Type, err)
			continue
		}
		if c.onChange != nil {
			c.onChange(msg.Type)
		}
	}
}

func (c *Client) apply(msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeInit:
		var p protocol.InitPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		patch, err := state.DecodeMutations(p.Mutations)
		if err != nil {
			return err
		}
		if err := c.tree.Replace(p.Components); err != nil {
			return err
		}
		if err := c.replica.Load(patch); err != nil {
			return err
		}
		c.mu.Lock()
		c.documentID = p.DocumentID
		c.presence = p.Presence
		c.mu.Unlock()
		select {
		case <-c.ready:
		default:
			close(c.ready)
		}
	case protocol.TypePatch:
		var p protocol.PatchPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return c.applyMutations(p.Mutations)
	case protocol.TypeAck:
		var p protocol.AckPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		applyErr := c.applyMutations(p.Mutations)
		var res ackResult
		if p.Error != "" {
			res.err = errors.New(p.Error)
		}
		c.mu.Lock()
		ch, ok := c.acks[msg.TrackingID]
		c.mu.Unlock()
		if ok {
			ch <- res
		}
		return applyErr
	case protocol.TypeComponents:
		var p protocol.ComponentsPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		removed, err := c.tree.replaceAndDiff(p.Components)
		if err != nil {
			return err
		}
		for _, id := range removed {
			c.broker.Cancel(id)
		}
	case protocol.TypePresence:
		var p protocol.PresenceListPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		c.mu.Lock()
		c.presence = p.Entries
		c.mu.Unlock()
	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		log.Printf("client: server error %s: %s", p.Code, p.Message)
	default:
		return fmt.Errorf("unknown frame type %q", msg.Type)
	}
	return nil
}

func (c *Client) applyMutations(mutations map[string]any) error {
	if len(mutations) == 0 {
		return nil
	}
	patch, err := state.DecodeMutations(mutations)
	if err != nil {
		return err
	}
	return c.replica.ApplyIncoming(patch)
}
