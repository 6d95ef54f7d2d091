package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagemarklabs/pagemark/internal/annotations"
)

// ErrSyncFailed indicates that a flush failed after its retry. The failure is
// recoverable: affected records stay pending and are re-sent by the next flush.
var ErrSyncFailed = errors.New("syncer: flush failed")

var noOpLogger = zap.NewNop()

const defaultRetryBackoff = 2 * time.Second

// State describes the persistence status of one annotation id.
type State string

const (
	// StateUnknown means the id has never been enqueued.
	StateUnknown State = "unknown"
	// StatePending means the latest local version has not been confirmed.
	StatePending State = "pending"
	// StateSynced means the backend confirmed the latest enqueued version.
	StateSynced State = "synced"
)

// SaveEndpoint is the backend write operation: one batch of id-keyed records,
// success or failure per batch.
type SaveEndpoint interface {
	SaveBatch(ctx context.Context, records []annotations.Record) error
}

// Config configures a Syncer.
type Config struct {
	Endpoint     SaveEndpoint
	RetryBackoff time.Duration
	Logger       *zap.Logger
	// Sleep is the backoff wait; injectable for tests. Defaults to a
	// context-aware timer sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Syncer reconciles optimistic local annotation state with the backend. Mutations
// are enqueued into an id-keyed outbox (later enqueues for the same id replace
// earlier ones) and shipped in batches; deletes travel the same path as tombstone
// records. Local records are never dropped because of a transport failure.
type Syncer struct {
	mu       sync.Mutex
	endpoint SaveEndpoint
	backoff  time.Duration
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	outbox map[string]annotations.Record
	order  []string
	states map[string]State
}

// NewSyncer validates the configuration and returns a Syncer.
func NewSyncer(cfg Config) (*Syncer, error) {
	if cfg.Endpoint == nil {
		return nil, errors.New("syncer: save endpoint is required")
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = timerSleep
	}
	return &Syncer{
		endpoint: cfg.Endpoint,
		backoff:  backoff,
		logger:   logger,
		sleep:    sleep,
		outbox:   make(map[string]annotations.Record),
		states:   make(map[string]State),
	}, nil
}

// Enqueue adds the record to the outgoing batch, replacing any earlier record with
// the same id (last write wins within a batch window) and marking the id pending.
func (s *Syncer) Enqueue(record annotations.Record) {
	if record.ID == "" {
		s.logger.Warn("dropping enqueue without annotation id")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, queued := s.outbox[record.ID]; !queued {
		s.order = append(s.order, record.ID)
	}
	s.outbox[record.ID] = record
	s.states[record.ID] = StatePending
}

// FlushReport summarizes one flush attempt.
type FlushReport struct {
	Attempted int
	Synced    int
	Retried   bool
}

// Flush ships the current batch. A transport or malformed-response failure is
// retried once after the backoff; a second failure returns ErrSyncFailed and leaves
// every included id pending so no local work is lost.
func (s *Syncer) Flush(ctx context.Context) (FlushReport, error) {
	batch := s.takeBatchSnapshot()
	if len(batch) == 0 {
		return FlushReport{}, nil
	}
	report := FlushReport{Attempted: len(batch)}

	err := s.endpoint.SaveBatch(ctx, batch)
	if err != nil {
		s.logger.Warn("annotation batch save failed, retrying once",
			zap.Int("records", len(batch)), zap.Error(err))
		report.Retried = true
		if sleepErr := s.sleep(ctx, s.backoff); sleepErr != nil {
			return report, fmt.Errorf("%w: %v", ErrSyncFailed, sleepErr)
		}
		err = s.endpoint.SaveBatch(ctx, batch)
	}
	if err != nil {
		s.logger.Error("annotation batch save failed after retry",
			zap.Int("records", len(batch)), zap.Error(err))
		return report, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}

	report.Synced = s.confirmBatch(batch)
	return report, nil
}

// Status reports the persistence state of one annotation id.
func (s *Syncer) Status(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[id]
	if !ok {
		return StateUnknown
	}
	return state
}

// PendingCount returns the number of records awaiting confirmation.
func (s *Syncer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

// takeBatchSnapshot copies the outbox in enqueue order without clearing it; the
// outbox is only trimmed once the backend confirms.
func (s *Syncer) takeBatchSnapshot() []annotations.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]annotations.Record, 0, len(s.order))
	for _, id := range s.order {
		record, ok := s.outbox[id]
		if !ok {
			continue
		}
		batch = append(batch, record)
	}
	return batch
}

// confirmBatch marks the shipped records synced. A record re-enqueued while the
// flush was in flight carries a newer timestamp and stays pending.
func (s *Syncer) confirmBatch(batch []annotations.Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	synced := 0
	for _, shipped := range batch {
		current, ok := s.outbox[shipped.ID]
		if !ok {
			continue
		}
		if current.TimestampMillis != shipped.TimestampMillis || current.Deleted != shipped.Deleted {
			continue
		}
		delete(s.outbox, shipped.ID)
		s.states[shipped.ID] = StateSynced
		synced++
	}

	remaining := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.outbox[id]; ok {
			remaining = append(remaining, id)
		}
	}
	s.order = remaining
	return synced
}

func timerSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
