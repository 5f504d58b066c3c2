package postgres

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/rustyops/pkg/messaging/bus"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
	"github.com/jackc/pgx/v5"
)

// notifyChannel is the single Postgres LISTEN/NOTIFY channel every write
// path notifies on; the payload is small enough to always fit in
// Postgres's ~8000 byte NOTIFY limit because it carries only the index,
// op, and id — the listener re-reads the full row before publishing.
const notifyChannel = "rustyops_documents"

type notifyPayload struct {
	Index storage.Index    `json:"index"`
	Op    storage.ChangeOp `json:"op"`
	ID    string           `json:"id"`
}

// changeListener owns one dedicated *pgx.Conn for LISTEN, separate from the
// pooled *database/sql.DB used for regular queries, and republishes every
// notification onto the in-process broadcast bus after re-reading the full
// row. Mirrors the teacher's events.NotifyListener: a single dedicated
// connection, a reconnect loop with exponential backoff, and a context-
// driven shutdown.
type changeListener struct {
	dsn   string
	store *Store
	bus   *bus.Bus

	cancel context.CancelFunc
	done   chan struct{}
}

func newChangeListener(dsn string, store *Store, b *bus.Bus) *changeListener {
	return &changeListener{dsn: dsn, store: store, bus: b, done: make(chan struct{})}
}

func (l *changeListener) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.run(ctx)
}

func (l *changeListener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}

func (l *changeListener) run(ctx context.Context) {
	defer close(l.done)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.listenOnce(ctx); err != nil {
			slog.Warn("storage: change listener connection lost, reconnecting", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (l *changeListener) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var payload notifyPayload
		if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
			slog.Warn("storage: malformed change notification payload", "error", err)
			continue
		}
		l.republish(ctx, payload)
	}
}

func (l *changeListener) republish(ctx context.Context, payload notifyPayload) {
	doc, found, err := l.store.GetOne(ctx, payload.Index, l.store.idFilter(payload.ID))
	if err != nil {
		slog.Warn("storage: failed to reload changed document", "index", payload.Index, "id", payload.ID, "error", err)
		return
	}
	if !found {
		return
	}
	l.bus.Publish(storage.ChangeEvent{Index: payload.Index, Op: payload.Op, ID: payload.ID, Item: doc})
}
