package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// notifyChannel is the LISTEN/NOTIFY channel the documents trigger fires on.
// The notification payload is the collection path that changed.
const notifyChannel = "docstore_changed"

// PostgresStore implements Store over a single JSONB documents table.
// Change fan-out rides LISTEN/NOTIFY: a row trigger notifies the collection
// path, and every subscriber of that collection is re-sent the full snapshot.
type PostgresStore struct {
	db       *sql.DB
	listener *pq.Listener

	mu     sync.Mutex
	subs   map[int64]*subscription
	nextID int64
	closed bool
	done   chan struct{}
}

type subscription struct {
	collection string
	deliver    func(Snapshot)

	// serializes callback invocations per subscriber
	cbMu sync.Mutex
}

// NewPostgresStore opens the notification listener and starts the dispatch
// loop. conninfo is the same DSN used for db.
func NewPostgresStore(db *sql.DB, conninfo string) (*PostgresStore, error) {
	listener := pq.NewListener(conninfo, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Error().Err(err).Int("event", int(ev)).Msg("docstore listener event")
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("docstore: listen on %s: %w", notifyChannel, err)
	}

	s := &PostgresStore{
		db:       db,
		listener: listener,
		subs:     make(map[int64]*subscription),
		done:     make(chan struct{}),
	}
	go s.dispatch()
	return s, nil
}

func (s *PostgresStore) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case n := <-s.listener.Notify:
			if n == nil {
				// Connection re-established after a drop; anything may have
				// changed in the gap, so refresh every subscriber.
				s.refresh("")
				continue
			}
			s.refresh(n.Extra)
		case <-time.After(90 * time.Second):
			go func() {
				if err := s.listener.Ping(); err != nil {
					log.Warn().Err(err).Msg("docstore listener ping failed")
				}
			}()
		}
	}
}

// refresh re-delivers the current snapshot to every subscriber of the given
// collection, or to all subscribers when collection is empty.
func (s *PostgresStore) refresh(collection string) {
	s.mu.Lock()
	var targets []*subscription
	for _, sub := range s.subs {
		if collection == "" || sub.collection == collection {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		s.deliverCurrent(sub)
	}
}

// deliverCurrent reads the subscriber's collection and invokes its callback.
// Read failures are logged and the subscriber keeps its last-known-good
// snapshot; the listener will retry on the next notification.
func (s *PostgresStore) deliverCurrent(sub *subscription) {
	snap, err := s.GetCollection(context.Background(), sub.collection)
	if err != nil {
		log.Error().Err(err).Str("collection", sub.collection).Msg("docstore snapshot read failed")
		return
	}
	sub.cbMu.Lock()
	defer sub.cbMu.Unlock()
	sub.deliver(snap)
}

// serverNow reads the database clock as Unix milliseconds. Executed against
// the same transaction as the write so server-assigned instants are
// authoritative and consistent within a batch.
func serverNow(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}) (int64, error) {
	var ms int64
	if err := q.QueryRowContext(ctx, `SELECT (extract(epoch FROM now()) * 1000)::bigint`).Scan(&ms); err != nil {
		return 0, fmt.Errorf("docstore: read server clock: %w", err)
	}
	return ms, nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND doc_id = $2`,
		collection, id,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get %s/%s: %w", collection, id, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("docstore: decode %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, doc Document) error {
	now, err := serverNow(ctx, s.db)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(resolveTimestamps(doc, now))
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, doc_id, doc) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, doc_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		collection, id, raw,
	)
	if err != nil {
		return fmt.Errorf("docstore: set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Merge(ctx context.Context, collection, id string, fields Document) error {
	now, err := serverNow(ctx, s.db)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(resolveTimestamps(fields, now))
	if err != nil {
		return fmt.Errorf("docstore: encode merge %s/%s: %w", collection, id, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET doc = doc || $3::jsonb, updated_at = now()
		 WHERE collection = $1 AND doc_id = $2`,
		collection, id, raw,
	)
	if err != nil {
		return fmt.Errorf("docstore: merge %s/%s: %w", collection, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("docstore: merge %s/%s: %w", collection, id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND doc_id = $2`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("docstore: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) GetCollection(ctx context.Context, collection string) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, doc FROM documents WHERE collection = $1`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("docstore: read collection %s: %w", collection, err)
	}
	defer rows.Close()
	return scanSnapshot(rows, collection)
}

func (s *PostgresStore) QueryByField(ctx context.Context, collection, field, value string) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, doc FROM documents WHERE collection = $1 AND doc->>$2 = $3`,
		collection, field, value,
	)
	if err != nil {
		return nil, fmt.Errorf("docstore: query %s by %s: %w", collection, field, err)
	}
	defer rows.Close()
	return scanSnapshot(rows, collection)
}

func scanSnapshot(rows *sql.Rows, collection string) (Snapshot, error) {
	snap := Snapshot{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("docstore: scan %s: %w", collection, err)
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("docstore: decode %s/%s: %w", collection, id, err)
		}
		snap[id] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: iterate %s: %w", collection, err)
	}
	return snap, nil
}

func (s *PostgresStore) ListCollections(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT collection FROM documents WHERE collection LIKE $1 || '%' ORDER BY collection`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("docstore: list collections %s*: %w", prefix, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("docstore: scan collection name: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: iterate collections: %w", err)
	}
	return out, nil
}

// RunBatch applies every operation inside one SQL transaction; all ops share
// one server clock reading so archived documents carry identical instants.
func (s *PostgresStore) RunBatch(ctx context.Context, ops []BatchOp) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: begin batch: %w", err)
	}
	defer tx.Rollback()

	now, err := serverNow(ctx, tx)
	if err != nil {
		return err
	}

	for _, op := range ops {
		switch op.Kind {
		case BatchSet:
			raw, err := json.Marshal(resolveTimestamps(op.Doc, now))
			if err != nil {
				return fmt.Errorf("docstore: encode batch %s/%s: %w", op.Collection, op.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents (collection, doc_id, doc) VALUES ($1, $2, $3::jsonb)
				 ON CONFLICT (collection, doc_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
				op.Collection, op.ID, raw,
			); err != nil {
				return fmt.Errorf("docstore: batch set %s/%s: %w", op.Collection, op.ID, err)
			}
		case BatchDelete:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = $1 AND doc_id = $2`,
				op.Collection, op.ID,
			); err != nil {
				return fmt.Errorf("docstore: batch delete %s/%s: %w", op.Collection, op.ID, err)
			}
		default:
			return fmt.Errorf("docstore: unknown batch op kind %d", op.Kind)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("docstore: commit batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) SubscribeCollection(collection string, cb func(Snapshot)) (func(), error) {
	sub := &subscription{collection: collection, deliver: cb}
	unsubscribe, err := s.addSubscription(sub)
	if err != nil {
		return nil, err
	}
	s.deliverCurrent(sub)
	return unsubscribe, nil
}

func (s *PostgresStore) SubscribeDoc(collection, id string, cb func(Document, bool)) (func(), error) {
	sub := &subscription{collection: collection}
	sub.deliver = func(snap Snapshot) {
		doc, ok := snap[id]
		cb(doc, ok)
	}
	unsubscribe, err := s.addSubscription(sub)
	if err != nil {
		return nil, err
	}
	s.deliverCurrent(sub)
	return unsubscribe, nil
}

func (s *PostgresStore) addSubscription(sub *subscription) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.nextID++
	id := s.nextID
	s.subs[id] = sub

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subs = make(map[int64]*subscription)
	s.mu.Unlock()

	close(s.done)
	return s.listener.Close()
}
