package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// RealtimeFeed subscribes to Supabase Realtime postgres changes over its
// Phoenix websocket protocol and adapts them to the ChangeFeed interface.
type RealtimeFeed struct {
	url    string
	apiKey string
	log    *logger.Logger
}

var _ storage.ChangeFeed = (*RealtimeFeed)(nil)

// NewRealtimeFeed creates a feed for the project at supabaseURL.
func NewRealtimeFeed(supabaseURL, apiKey string, log *logger.Logger) *RealtimeFeed {
	wsURL := supabaseURL
	if strings.HasPrefix(wsURL, "https") {
		wsURL = "wss" + wsURL[len("https"):]
	} else if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[len("http"):]
	}
	wsURL = strings.TrimRight(wsURL, "/") + "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	if log == nil {
		log = logger.NewDefault("supabase-realtime")
	}
	return &RealtimeFeed{url: wsURL, apiKey: apiKey, log: log}
}

type realtimeMessage struct {
	Topic   string                 `json:"topic"`
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
	Ref     string                 `json:"ref"`
	JoinRef string                 `json:"join_ref,omitempty"`
}

type realtimeSubscription struct {
	conn *websocket.Conn
	log  *logger.Logger

	mu        sync.Mutex
	ref       int
	closeOnce sync.Once
	done      chan struct{}
}

func (s *realtimeSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		err = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		s.mu.Unlock()
		_ = s.conn.Close()
		close(s.done)
	})
	return err
}

func (s *realtimeSubscription) Done() <-chan struct{} { return s.done }

func (s *realtimeSubscription) nextRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref++
	return fmt.Sprintf("%d", s.ref)
}

func (s *realtimeSubscription) send(msg realtimeMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Subscribe dials the realtime endpoint, joins the table's postgres-changes
// topic and dispatches INSERT/UPDATE/DELETE events to handler. The
// subscription's Done channel closes when the websocket is lost.
func (f *RealtimeFeed) Subscribe(ctx context.Context, table string, handler func(storage.ChangeEvent)) (storage.Subscription, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	sub := &realtimeSubscription{conn: conn, log: f.log, done: make(chan struct{})}

	topic := fmt.Sprintf("realtime:public:%s", table)
	ref := sub.nextRef()
	join := realtimeMessage{
		Topic:   topic,
		Event:   "phx_join",
		Payload: map[string]interface{}{},
		Ref:     ref,
		JoinRef: ref,
	}
	if err := sub.send(join); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	go sub.heartbeat()
	go sub.readLoop(table, handler)

	return sub, nil
}

func (s *realtimeSubscription) heartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			msg := realtimeMessage{
				Topic:   "phoenix",
				Event:   "heartbeat",
				Payload: map[string]interface{}{},
				Ref:     s.nextRef(),
			}
			if err := s.send(msg); err != nil {
				s.log.WithError(err).Warn("heartbeat failed")
				return
			}
		}
	}
}

func (s *realtimeSubscription) readLoop(table string, handler func(storage.ChangeEvent)) {
	defer s.closeOnce.Do(func() {
		_ = s.conn.Close()
		close(s.done)
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.WithError(err).Warn("realtime connection lost")
			}
			return
		}

		var msg realtimeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		eventType := msg.Event
		if t, ok := msg.Payload["type"].(string); ok {
			eventType = t
		}
		switch storage.ChangeType(eventType) {
		case storage.ChangeInsert, storage.ChangeUpdate, storage.ChangeDelete:
		default:
			continue
		}

		row, _ := msg.Payload["record"].(map[string]interface{})
		handler(storage.ChangeEvent{
			Table: table,
			Type:  storage.ChangeType(eventType),
			Row:   row,
		})
	}
}
