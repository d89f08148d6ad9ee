// Package bolt provides a BoltDB-backed implementation of ports.Repository
// for single-node deployments that want an embedded file and no SQL.
//
// Bolt allows one read-write transaction at a time, so every check-then-write
// below runs inside a single db.Update and is atomic with respect to other
// writers.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
	"github.com/jcmexdev/storefront-payments/internal/order-service/ports"
)

var (
	ordersBucket = []byte("orders")
	refsBucket   = []byte("gateway_refs")
)

var _ ports.Repository = (*Store)(nil)

type Store struct {
	db *bolt.DB
}

// Open opens (or creates) a BoltDB database at path and ensures the buckets
// exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %q: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{ordersBucket, refsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(ordersBucket) == nil {
			return fmt.Errorf("bolt: bucket %q missing", ordersBucket)
		}
		return nil
	})
}

func (s *Store) Create(_ context.Context, o *domain.Order) (*domain.Order, bool, error) {
	var result *domain.Order
	created := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ordersBucket)

		if existing := b.Get([]byte(o.ID)); existing != nil {
			stored, err := decode(existing)
			if err != nil {
				return err
			}
			if o.IdempotencyKey != "" && stored.IdempotencyKey == o.IdempotencyKey {
				result = stored
				return nil
			}
			return domain.ErrDuplicateOrder
		}

		if err := put(b, o); err != nil {
			return err
		}
		result = ports.Clone(o)
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.Order, error) {
	var o *domain.Order
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		o, err = get(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) GetByGatewayRef(_ context.Context, provider domain.Provider, ref string) (*domain.Order, error) {
	var o *domain.Order
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(refsBucket).Get(refKey(provider, ref))
		if id == nil {
			return domain.ErrOrderNotFound
		}
		var err error
		o, err = get(tx, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) AttachGatewayRef(_ context.Context, id string, ref ports.GatewayRef) (*domain.Order, bool, error) {
	var result *domain.Order
	attached := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		o, err := get(tx, id)
		if err != nil {
			return err
		}
		result = o
		if o.GatewayOrderRef != "" || o.PaymentStatus != domain.StatusPending {
			return nil
		}

		refs := tx.Bucket(refsBucket)
		key := refKey(ref.Provider, ref.OrderRef)
		if owner := refs.Get(key); owner != nil && string(owner) != id {
			return domain.ErrDuplicateOrder
		}

		o.Provider = ref.Provider
		o.GatewayOrderRef = ref.OrderRef
		o.GatewayActionURL = ref.ActionURL
		o.UpdatedAt = ref.At
		if err := put(tx.Bucket(ordersBucket), o); err != nil {
			return err
		}
		attached = true
		return refs.Put(key, []byte(id))
	})
	if err != nil {
		return nil, false, err
	}
	return result, attached, nil
}

func (s *Store) Transition(_ context.Context, id string, t ports.Transition) (*domain.Order, bool, error) {
	var result *domain.Order
	applied := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		o, err := get(tx, id)
		if err != nil {
			return err
		}
		result = o
		if o.PaymentStatus != domain.StatusPending {
			return nil
		}

		o.PaymentStatus = t.To
		if o.GatewayPaymentRef == "" {
			o.GatewayPaymentRef = t.PaymentRef
		}
		o.FailureReason = t.Reason
		o.UpdatedAt = t.At
		applied = true
		return put(tx.Bucket(ordersBucket), o)
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

func (s *Store) MarkEmailSent(_ context.Context, id string) (bool, error) {
	written := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		o, err := get(tx, id)
		if err != nil {
			return err
		}
		if o.EmailSent {
			return nil
		}
		o.EmailSent = true
		written = true
		return put(tx.Bucket(ordersBucket), o)
	})
	return written, err
}

func (s *Store) List(_ context.Context, f ports.ListFilter) ([]domain.Order, error) {
	out := make([]domain.Order, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(ordersBucket).ForEach(func(_, v []byte) error {
			o, err := decode(v)
			if err != nil {
				return err
			}
			if f.Match(o) {
				out = append(out, *o)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ports.SortNewestFirst(out, f.Limit), nil
}

func (s *Store) PurgeBefore(_ context.Context, cutoff time.Time, statuses ...domain.PaymentStatus) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		orders := tx.Bucket(ordersBucket)
		refs := tx.Bucket(refsBucket)

		// Deleting while iterating a bolt cursor skips keys; collect first.
		var doomed []*domain.Order
		err := orders.ForEach(func(_, v []byte) error {
			o, err := decode(v)
			if err != nil {
				return err
			}
			if o.CreatedAt.Before(cutoff) && hasStatus(o.PaymentStatus, statuses) {
				doomed = append(doomed, o)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, o := range doomed {
			if o.GatewayOrderRef != "" {
				if err := refs.Delete(refKey(o.Provider, o.GatewayOrderRef)); err != nil {
					return err
				}
			}
			if err := orders.Delete([]byte(o.ID)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func get(tx *bolt.Tx, id string) (*domain.Order, error) {
	v := tx.Bucket(ordersBucket).Get([]byte(id))
	if v == nil {
		return nil, domain.ErrOrderNotFound
	}
	return decode(v)
}

func put(b *bolt.Bucket, o *domain.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("bolt: encode order %q: %w", o.ID, err)
	}
	return b.Put([]byte(o.ID), data)
}

// decode copies out of v; bolt values are only valid inside the transaction.
func decode(v []byte) (*domain.Order, error) {
	var o domain.Order
	if err := json.Unmarshal(v, &o); err != nil {
		return nil, fmt.Errorf("bolt: decode order: %w", err)
	}
	return &o, nil
}

func refKey(provider domain.Provider, ref string) []byte {
	return []byte(string(provider) + "|" + ref)
}

func hasStatus(s domain.PaymentStatus, set []domain.PaymentStatus) bool {
	for _, c := range set {
		if c == s {
			return true
		}
	}
	return false
}
