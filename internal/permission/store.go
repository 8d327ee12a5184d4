package permission

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Backing is the durable session source a Store loads from.
type Backing interface {
	LoadPermissions(ctx context.Context) ([]byte, error)
}

// BackingFunc is an adapter to use ordinary functions as Backing.
type BackingFunc func(ctx context.Context) ([]byte, error)

// LoadPermissions calls f(ctx).
func (f BackingFunc) LoadPermissions(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

type snapshot struct {
	records []Record
}

// Store holds the granted permissions of one session.
//
// Load, Replace and Clear are the only mutators. Each one swaps the snapshot
// and queues one notification. Notifications are delivered outside the lock,
// one at a time and in mutation order, by whichever mutator found the queue
// idle; a mutator racing an active delivery returns once its change is queued.
// Subscribers may therefore call the mutators of the Store that notified
// them: the nested change is delivered after the current round. Readers never
// block.
type Store struct {
	mu         sync.Mutex
	pending    int
	delivering bool

	current atomic.Pointer[snapshot]
	bus     *Bus
	backing Backing
	logger  *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used to report backing failures.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore constructs an unloaded Store. A nil bus gets a private one.
func NewStore(bus *Bus, backing Backing, opts ...StoreOption) *Store {
	if bus == nil {
		bus = NewBus()
	}
	s := &Store{bus: bus, backing: backing, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reconstitutes the record set from the backing. A missing backing, a
// read failure or an unparsable payload leaves the store loaded but empty.
func (s *Store) Load(ctx context.Context) {
	_ = s.Reload(ctx)
}

// Reload behaves like Load and also reports why the backing could not be
// used, so hosts can retry later. A missing backing or an absent payload is
// not an error.
func (s *Store) Reload(ctx context.Context) error {
	records, err := s.readBacking(ctx)
	if err != nil {
		s.logger.Warn("permission backing unusable", slog.Any("error", err))
		records = []Record{}
	}
	s.mu.Lock()
	s.current.Store(&snapshot{records: records})
	s.publishLocked()
	return err
}

func (s *Store) readBacking(ctx context.Context) ([]Record, error) {
	if s.backing == nil {
		return []Record{}, nil
	}
	data, err := s.backing.LoadPermissions(ctx)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return []Record{}, nil
	}
	return DecodeRecords(data)
}

// Replace swaps in a copy of records and notifies subscribers.
func (s *Store) Replace(records []Record) {
	next := make([]Record, len(records))
	copy(next, records)
	s.mu.Lock()
	s.current.Store(&snapshot{records: next})
	s.publishLocked()
}

// Clear drops every record, returns the store to the unloaded state and
// notifies subscribers.
func (s *Store) Clear() {
	s.mu.Lock()
	s.current.Store(nil)
	s.publishLocked()
}

// publishLocked queues one notification and drains the queue unless another
// goroutine is already draining it. It must be called with s.mu held and
// returns with s.mu released.
func (s *Store) publishLocked() {
	s.pending++
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for s.pending > 0 {
		s.pending--
		s.mu.Unlock()
		s.bus.Publish()
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}

// Current returns the live record set, or nil when nothing is loaded. The
// returned slice is shared and must not be modified.
func (s *Store) Current() []Record {
	snap := s.current.Load()
	if snap == nil {
		return nil
	}
	return snap.records
}

// Loaded reports whether Load or Replace ran since creation or the last Clear.
func (s *Store) Loaded() bool {
	return s.current.Load() != nil
}

// Len returns the number of records, including malformed ones.
func (s *Store) Len() int {
	return len(s.Current())
}

// Bus returns the bus the store publishes on.
func (s *Store) Bus() *Bus {
	return s.bus
}

// IsAuthorized checks d against the current record set.
func (s *Store) IsAuthorized(d Descriptor) bool {
	return IsAuthorized(s.Current(), d)
}

var _ Checker = (*Store)(nil)
