package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	heartbeatInterval = 25 * time.Second
	realtimeVersion   = "1.0.0"
)

// reconnectDelays is the wait before each reconnect attempt; the last value
// repeats until the connection is back or every watch is stopped.
var reconnectDelays = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

// Change is one row change delivered by the realtime service.
type Change struct {
	Type      string // INSERT, UPDATE or DELETE
	Table     string
	Record    json.RawMessage
	OldRecord json.RawMessage
}

type phxMessage struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref,omitempty"`
}

type phxInbound struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type phxReply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changePayload struct {
	Data struct {
		Type      string          `json:"type"`
		Table     string          `json:"table"`
		Record    json.RawMessage `json:"record"`
		OldRecord json.RawMessage `json:"old_record"`
	} `json:"data"`
}

type channel struct {
	topic  string
	table  string
	filter string
	fn     func(Change)
}

// Realtime multiplexes table watches over one websocket using the Phoenix
// channel protocol. The connection is opened by the first Watch and closed
// when the last watch stops.
type Realtime struct {
	cfg       Config
	token     func() string
	log       zerolog.Logger
	dialer    *websocket.Dialer
	heartbeat time.Duration

	ref    atomic.Uint64
	nextID atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	stop     chan struct{}
	channels map[string]*channel
	pending  map[string]chan phxReply

	writeMu sync.Mutex
}

func newRealtime(cfg Config, token func() string, log zerolog.Logger) *Realtime {
	return &Realtime{
		cfg:       cfg,
		token:     token,
		log:       log.With().Str("component", "realtime").Logger(),
		dialer:    websocket.DefaultDialer,
		heartbeat: heartbeatInterval,
		channels:  make(map[string]*channel),
		pending:   make(map[string]chan phxReply),
	}
}

// Watch subscribes fn to changes on table in the public schema. filter is an
// optional realtime filter such as "user_id=eq.42". fn runs on the connection's
// read goroutine and must not block. The returned stop func is idempotent.
func (c *Client) Watch(ctx context.Context, table, filter string, fn func(Change)) (func(), error) {
	return c.realtime.Watch(ctx, table, filter, fn)
}

// Watch implements Client.Watch.
func (r *Realtime) Watch(ctx context.Context, table, filter string, fn func(Change)) (func(), error) {
	op := "watching " + table
	if r.cfg.URL == "" || r.cfg.AnonKey == "" {
		return nil, &Error{Kind: KindNetwork, Op: op, sentinel: ErrNotConfigured}
	}

	ch := &channel{
		topic:  fmt.Sprintf("realtime:%s:%d", table, r.nextID.Add(1)),
		table:  table,
		filter: filter,
		fn:     fn,
	}

	r.mu.Lock()
	if r.conn == nil {
		if err := r.connectLocked(ctx); err != nil {
			r.mu.Unlock()
			return nil, networkError(op, err)
		}
	}
	r.channels[ch.topic] = ch
	r.mu.Unlock()

	if err := r.join(ctx, ch, true); err != nil {
		r.remove(ch.topic)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.leave(ch) })
	}, nil
}

// Close stops every watch and closes the connection.
func (r *Realtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = make(map[string]*channel)
	return r.disconnectLocked()
}

func (r *Realtime) endpoint() string {
	base := r.cfg.URL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/realtime/v1/websocket?apikey=" + r.cfg.AnonKey + "&vsn=" + realtimeVersion
}

func (r *Realtime) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := r.dialer.DialContext(ctx, r.endpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing realtime: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, nil
}

func (r *Realtime) connectLocked(ctx context.Context) error {
	conn, err := r.dial(ctx)
	if err != nil {
		return err
	}
	r.conn = conn
	r.stop = make(chan struct{})
	go r.readLoop(conn, r.stop)
	go r.heartbeatLoop(r.stop)
	return nil
}

func (r *Realtime) disconnectLocked() error {
	if r.conn == nil {
		return nil
	}
	close(r.stop)
	conn := r.conn
	r.conn = nil
	r.stop = nil

	r.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.writeMu.Unlock()
	return conn.Close()
}

func (r *Realtime) remove(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, topic)
	if len(r.channels) == 0 {
		if err := r.disconnectLocked(); err != nil {
			r.log.Debug().Err(err).Msg("closing realtime connection")
		}
	}
}

func (r *Realtime) leave(ch *channel) {
	if err := r.send(phxMessage{Topic: ch.topic, Event: "phx_leave", Payload: struct{}{}, Ref: r.newRef()}); err != nil {
		r.log.Debug().Err(err).Str("topic", ch.topic).Msg("leaving channel")
	}
	r.remove(ch.topic)
}

func (r *Realtime) newRef() string {
	return strconv.FormatUint(r.ref.Add(1), 10)
}

func (r *Realtime) send(msg phxMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding realtime message: %w", err)
	}

	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime connection closed")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (r *Realtime) joinPayload(ch *channel) map[string]any {
	change := map[string]string{"event": "*", "schema": "public", "table": ch.table}
	if ch.filter != "" {
		change["filter"] = ch.filter
	}
	return map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]bool{"self": false},
			"presence":         map[string]string{"key": ""},
			"postgres_changes": []map[string]string{change},
		},
		"access_token": r.token(),
	}
}

// join sends phx_join for ch. With wait it blocks until the server replies.
func (r *Realtime) join(ctx context.Context, ch *channel, wait bool) error {
	op := "watching " + ch.table
	ref := r.newRef()

	var reply chan phxReply
	if wait {
		reply = make(chan phxReply, 1)
		r.mu.Lock()
		r.pending[ref] = reply
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			delete(r.pending, ref)
			r.mu.Unlock()
		}()
	}

	msg := phxMessage{Topic: ch.topic, Event: "phx_join", Payload: r.joinPayload(ch), Ref: ref}
	if err := r.send(msg); err != nil {
		return networkError(op, err)
	}
	if !wait {
		return nil
	}

	timer := time.NewTimer(r.cfg.Timeout)
	defer timer.Stop()
	select {
	case rep := <-reply:
		if rep.Status != "ok" {
			return &Error{Kind: KindRemote, Op: op, Message: "join rejected: " + string(rep.Response)}
		}
		return nil
	case <-timer.C:
		return networkError(op, fmt.Errorf("no join reply after %s", r.cfg.Timeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Realtime) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := r.send(phxMessage{Topic: "phoenix", Event: "heartbeat", Payload: struct{}{}, Ref: r.newRef()})
			if err != nil {
				r.log.Debug().Err(err).Msg("sending heartbeat")
			}
		}
	}
}

func (r *Realtime) readLoop(conn *websocket.Conn, stop chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			r.log.Warn().Err(err).Msg("realtime connection lost")
			if conn = r.reconnect(stop); conn == nil {
				return
			}
			continue
		}
		r.dispatch(data)
	}
}

// reconnect redials with backoff and rejoins every channel. It returns nil
// once stop is closed.
func (r *Realtime) reconnect(stop chan struct{}) *websocket.Conn {
	for attempt := 0; ; attempt++ {
		delay := reconnectDelays[min(attempt, len(reconnectDelays)-1)]
		select {
		case <-stop:
			return nil
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		conn, err := r.dial(ctx)
		cancel()
		if err != nil {
			r.log.Debug().Err(err).Int("attempt", attempt+1).Msg("reconnecting realtime")
			continue
		}

		r.mu.Lock()
		select {
		case <-stop:
			r.mu.Unlock()
			conn.Close()
			return nil
		default:
		}
		old := r.conn
		r.conn = conn
		channels := make([]*channel, 0, len(r.channels))
		for _, ch := range r.channels {
			channels = append(channels, ch)
		}
		r.mu.Unlock()
		if old != nil {
			old.Close()
		}

		for _, ch := range channels {
			if err := r.join(context.Background(), ch, false); err != nil {
				r.log.Warn().Err(err).Str("topic", ch.topic).Msg("rejoining channel")
			}
		}
		r.log.Info().Int("channels", len(channels)).Msg("realtime reconnected")
		return conn
	}
}

func (r *Realtime) dispatch(data []byte) {
	var msg phxInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		r.log.Debug().Err(err).Msg("decoding realtime message")
		return
	}

	switch msg.Event {
	case "phx_reply":
		var rep phxReply
		_ = json.Unmarshal(msg.Payload, &rep)
		r.mu.Lock()
		ch := r.pending[msg.Ref]
		r.mu.Unlock()
		if ch != nil {
			select {
			case ch <- rep:
			default:
			}
		}

	case "postgres_changes":
		var p changePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			r.log.Debug().Err(err).Msg("decoding change payload")
			return
		}
		r.mu.Lock()
		ch := r.channels[msg.Topic]
		r.mu.Unlock()
		if ch == nil {
			return
		}
		ch.fn(Change{
			Type:      p.Data.Type,
			Table:     p.Data.Table,
			Record:    p.Data.Record,
			OldRecord: p.Data.OldRecord,
		})

	case "phx_error", "phx_close":
		r.log.Warn().Str("topic", msg.Topic).Str("event", msg.Event).Msg("realtime channel event")
	}
}
