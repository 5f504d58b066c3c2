// Package postgres implements storage.Port on top of PostgreSQL via pgx.
// Every index is stored as JSONB rows in a single generic `documents`
// table; filter/sort/pagination is applied in Go with pkg/queryfilter,
// mirroring pkg/storage/memory exactly, so both backends share identical
// semantics rather than re-deriving the operator set in SQL. Change
// notification rides Postgres LISTEN/NOTIFY: the write path issues
// `pg_notify` inside the same transaction, and a dedicated listener
// connection republishes onto the in-process broadcast bus.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/rustyops/pkg/messaging/bus"
	"github.com/codeready-toolchain/rustyops/pkg/queryfilter"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// Store is the Postgres-backed storage.Port implementation.
type Store struct {
	db       *sql.DB
	listener *changeListener
	bus      *bus.Bus
}

// NewStore opens a connection pool, applies schema migrations, and starts
// the change-notification listener. b may be nil to use the process-wide
// default bus.
func NewStore(ctx context.Context, cfg Config, b *bus.Bus) (*Store, error) {
	if b == nil {
		b = bus.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{db: db, bus: b}
	store.listener = newChangeListener(cfg.DSN(), store, b)
	store.listener.Start(ctx)

	return store, nil
}

func (s *Store) idFilter(id string) queryfilter.Filter {
	return queryfilter.Filter{"id": {Op: queryfilter.Equals, Value: id}}
}

func (s *Store) notify(ctx context.Context, tx *sql.Tx, index storage.Index, op storage.ChangeOp, id string) error {
	payload, err := json.Marshal(notifyPayload{Index: index, Op: op, ID: id})
	if err != nil {
		return fmt.Errorf("storage: marshal notify payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(payload))
	if err != nil {
		return fmt.Errorf("storage: notify: %w", err)
	}
	return nil
}

func (s *Store) GetAll(ctx context.Context, index storage.Index, filter queryfilter.Filter, opts *queryfilter.SearchOptions) ([]storage.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM documents WHERE idx = $1`, string(index))
	if err != nil {
		return nil, fmt.Errorf("%w: get_all %s: %v", storage.ErrStorage, index, err)
	}
	defer rows.Close()

	matched := make([]storage.Document, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", storage.ErrStorage, index, err)
		}
		var doc storage.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", storage.ErrStorage, index, err)
		}
		if queryfilter.Match(filter, doc) {
			matched = append(matched, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate %s: %v", storage.ErrStorage, index, err)
	}

	effective := queryfilter.DefaultSearchOptions()
	if opts != nil {
		effective = *opts
	}
	queryfilter.Sort(matched, effective)
	return queryfilter.Paginate(matched, effective), nil
}

func (s *Store) GetOne(ctx context.Context, index storage.Index, filter queryfilter.Filter) (storage.Document, bool, error) {
	all, err := s.GetAll(ctx, index, filter, &queryfilter.SearchOptions{PageNumber: 1, PageSize: 2})
	if err != nil {
		return nil, false, err
	}
	if len(all) != 1 {
		return nil, false, nil
	}
	return all[0], true, nil
}

func (s *Store) Create(ctx context.Context, index storage.Index, item storage.Document) (string, error) {
	id, _ := item["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	doc := make(storage.Document, len(item)+1)
	for k, v := range item {
		doc[k] = v
	}
	doc["id"] = id

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("storage: marshal %s: %w", index, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin create %s: %v", storage.ErrStorage, index, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (idx, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (idx, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		string(index), id, raw)
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %v", storage.ErrStorage, index, err)
	}
	if err := s.notify(ctx, tx, index, storage.ChangeCreate, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit create %s: %v", storage.ErrStorage, index, err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, index storage.Index, id string, item storage.Document) (string, error) {
	doc := make(storage.Document, len(item)+1)
	for k, v := range item {
		doc[k] = v
	}
	doc["id"] = id

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("storage: marshal %s: %w", index, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: begin update %s: %v", storage.ErrStorage, index, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (idx, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (idx, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		string(index), id, raw)
	if err != nil {
		return "", fmt.Errorf("%w: update %s: %v", storage.ErrStorage, index, err)
	}
	if err := s.notify(ctx, tx, index, storage.ChangeUpdate, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit update %s: %v", storage.ErrStorage, index, err)
	}
	return id, nil
}

// UpdateConditional performs a compare-and-set update: the row is updated
// only if its current data matches `where` (evaluated with queryfilter in
// Go, since conditions reference JSONB fields the SQL layer doesn't model
// directly). Returns false without error if no row matched — this is the
// atomic guard pkg/pipelinesvc's Assign uses to close the assign race from
// spec §9.
func (s *Store) UpdateConditional(ctx context.Context, index storage.Index, id string, where queryfilter.Filter, item storage.Document) (bool, error) {
	doc := make(storage.Document, len(item)+1)
	for k, v := range item {
		doc[k] = v
	}
	doc["id"] = id

	raw, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("storage: marshal %s: %w", index, err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, fmt.Errorf("%w: begin conditional update %s: %v", storage.ErrStorage, index, err)
	}
	defer tx.Rollback()

	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE idx = $1 AND id = $2 FOR UPDATE`, string(index), id).Scan(&current)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: load %s for conditional update: %v", storage.ErrStorage, index, err)
	}

	var currentDoc storage.Document
	if err := json.Unmarshal(current, &currentDoc); err != nil {
		return false, fmt.Errorf("%w: decode %s for conditional update: %v", storage.ErrStorage, index, err)
	}
	if !queryfilter.Match(where, currentDoc) {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE documents SET data = $3, updated_at = now() WHERE idx = $1 AND id = $2`, string(index), id, raw)
	if err != nil {
		return false, fmt.Errorf("%w: conditional update %s: %v", storage.ErrStorage, index, err)
	}
	if err := s.notify(ctx, tx, index, storage.ChangeUpdate, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit conditional update %s: %v", storage.ErrStorage, index, err)
	}
	return true, nil
}

func (s *Store) Append(ctx context.Context, index storage.Index, id string, entry any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin append %s: %v", storage.ErrStorage, index, err)
	}
	defer tx.Rollback()

	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE idx = $1 AND id = $2 FOR UPDATE`, string(index), id).Scan(&current)

	doc := storage.Document{"id": id, "entries": []any{}}
	if err == nil {
		if unmarshalErr := json.Unmarshal(current, &doc); unmarshalErr != nil {
			return fmt.Errorf("%w: decode %s for append: %v", storage.ErrStorage, index, unmarshalErr)
		}
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("%w: load %s for append: %v", storage.ErrStorage, index, err)
	}

	entries, _ := doc["entries"].([]any)
	entries = append(entries, entry)
	doc["entries"] = entries

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("storage: marshal %s append: %w", index, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (idx, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (idx, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		string(index), id, raw)
	if err != nil {
		return fmt.Errorf("%w: append %s: %v", storage.ErrStorage, index, err)
	}
	if err := s.notify(ctx, tx, index, storage.ChangeAppend, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteOne(ctx context.Context, index storage.Index, filter queryfilter.Filter) (int, error) {
	docs, err := s.GetAll(ctx, index, filter, &queryfilter.SearchOptions{PageNumber: 1, PageSize: 1})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	id, _ := docs[0]["id"].(string)
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE idx = $1 AND id = $2`, string(index), id)
	if err != nil {
		return 0, fmt.Errorf("%w: delete_one %s: %v", storage.ErrStorage, index, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) DeleteMany(ctx context.Context, index storage.Index, filter queryfilter.Filter) (int, error) {
	docs, err := s.GetAll(ctx, index, filter, &queryfilter.SearchOptions{PageNumber: 1, PageSize: 1 << 30})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, doc := range docs {
		id, _ := doc["id"].(string)
		res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE idx = $1 AND id = $2`, string(index), id)
		if err != nil {
			return count, fmt.Errorf("%w: delete_many %s: %v", storage.ErrStorage, index, err)
		}
		n, _ := res.RowsAffected()
		count += int(n)
	}
	return count, nil
}

func (s *Store) DeleteAll(ctx context.Context, index storage.Index) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE idx = $1`, string(index))
	if err != nil {
		return 0, fmt.Errorf("%w: delete_all %s: %v", storage.ErrStorage, index, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) Purge(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE documents`)
	if err != nil {
		return fmt.Errorf("%w: purge: %v", storage.ErrStorage, err)
	}
	return nil
}

func (s *Store) ChangeStream(ctx context.Context, index storage.Index) (<-chan storage.ChangeEvent, func(), error) {
	raw, unsubscribe := s.bus.Subscribe()
	out := make(chan storage.ChangeEvent, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-raw:
				if !ok {
					return
				}
				ce, ok := event.(storage.ChangeEvent)
				if !ok || ce.Index != index {
					continue
				}
				select {
				case out <- ce:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, unsubscribe, nil
}

func (s *Store) Close() error {
	s.listener.Stop()
	return s.db.Close()
}

var _ storage.Port = (*Store)(nil)
