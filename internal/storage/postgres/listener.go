package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// Feed delivers row-change notifications via LISTEN/NOTIFY. The schema's
// triggers publish {"type": ..., "row": ...} payloads on the
// "<table>_changes" channel.
type Feed struct {
	dsn string
	log *logger.Logger
}

var _ storage.ChangeFeed = (*Feed)(nil)

// NewFeed creates a change feed for the database at dsn.
func NewFeed(dsn string, log *logger.Logger) *Feed {
	if log == nil {
		log = logger.NewDefault("pg-feed")
	}
	return &Feed{dsn: dsn, log: log}
}

type feedSubscription struct {
	listener *pq.Listener

	closeOnce sync.Once
	done      chan struct{}
}

func (s *feedSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.listener.Close()
		close(s.done)
	})
	return err
}

func (s *feedSubscription) Done() <-chan struct{} { return s.done }

// Subscribe listens on the table's notification channel and invokes handler
// for each decoded event. The subscription is lost (Done closed) when the
// listener's connection cannot be re-established.
func (f *Feed) Subscribe(ctx context.Context, table string, handler func(storage.ChangeEvent)) (storage.Subscription, error) {
	listener := pq.NewListener(f.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			f.log.WithError(err).Warnf("listener event %d", ev)
		}
	})
	if err := listener.Listen(table + "_changes"); err != nil {
		_ = listener.Close()
		return nil, err
	}

	sub := &feedSubscription{listener: listener, done: make(chan struct{})}

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case n, ok := <-listener.Notify:
				if !ok {
					sub.closeOnce.Do(func() { close(sub.done) })
					return
				}
				if n == nil {
					// Reconnect marker; rows may have been missed.
					handler(storage.ChangeEvent{Table: table, Type: storage.ChangeUpdate})
					continue
				}
				var payload struct {
					Type string                 `json:"type"`
					Row  map[string]interface{} `json:"row"`
				}
				if err := json.Unmarshal([]byte(n.Extra), &payload); err != nil {
					f.log.WithError(err).Warn("malformed notification payload")
					continue
				}
				handler(storage.ChangeEvent{
					Table: table,
					Type:  storage.ChangeType(payload.Type),
					Row:   payload.Row,
				})
			}
		}
	}()

	return sub, nil
}
