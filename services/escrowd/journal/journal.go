package journal

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"gigescrow/core/events"
	"gigescrow/core/types"
)

var (
	// ErrChainBroken reports a record whose hash does not match its contents or
	// predecessor.
	ErrChainBroken = errors.New("journal: hash chain broken")
	// ErrIdempotencyConflict reports a key reused for a different request.
	ErrIdempotencyConflict = errors.New("journal: idempotency key reused for a different request")
)

const subscriberBuffer = 64

// EventCounter receives one call per appended record.
type EventCounter interface {
	RecordEvent(eventType string)
}

// Open connects to the journal database. DSNs with a postgres scheme use the
// Postgres driver, anything else is treated as a sqlite DSN.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("journal: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return db, nil
}

// Journal appends lifecycle events to an append-only, hash-chained table and
// fans them out to live subscribers.
type Journal struct {
	db      *gorm.DB
	logger  *slog.Logger
	counter EventCounter
	now     func() time.Time

	mu   sync.Mutex
	seq  uint64
	head string

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan Record
}

// New loads the chain head from db.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: db required")
	}
	if log == nil {
		log = slog.Default()
	}
	j := &Journal{db: db, logger: log, now: time.Now, subs: make(map[int]chan Record)}
	var last Record
	err := db.Order("seq DESC").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("journal: load head: %w", err)
	}
	if last.ID != "" {
		j.seq = last.Seq
		j.head = last.Hash
	}
	return j, nil
}

// SetCounter installs a per-event counter, usually the Prometheus registry.
func (j *Journal) SetCounter(c EventCounter) { j.counter = c }

// SetNowFunc overrides the record timestamp source.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	j.now = now
}

// Emit implements events.Emitter. Events without a wire form are ignored and
// append failures are logged, since emission happens after the state change
// has already committed.
func (j *Journal) Emit(evt events.Event) {
	wire := events.ToWire(evt)
	if wire == nil {
		return
	}
	if _, err := j.Append(context.Background(), wire); err != nil {
		j.logger.Error("journal append failed", "type", wire.Type, "order_id", wire.Attr("orderId"), "error", err)
	}
}

// Append writes evt as the next record in the chain.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (*Record, error) {
	if evt == nil || strings.TrimSpace(evt.Type) == "" {
		return nil, fmt.Errorf("journal: event type required")
	}
	attrs, err := canonicalAttributes(evt.Attributes)
	if err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := Record{
		ID:         uuid.NewString(),
		Seq:        j.seq + 1,
		Type:       evt.Type,
		Attributes: attrs,
		PrevHash:   j.head,
		CreatedAt:  j.now().UTC(),
	}
	rec.Hash = chainHash(rec.PrevHash, rec.Seq, rec.Type, rec.Attributes)
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("journal: insert: %w", err)
	}
	j.seq = rec.Seq
	j.head = rec.Hash
	if j.counter != nil {
		j.counter.RecordEvent(rec.Type)
	}
	j.publish(rec)
	return &rec, nil
}

// List returns up to limit records with Seq greater than after, oldest first.
func (j *Journal) List(ctx context.Context, after uint64, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var records []Record
	err := j.db.WithContext(ctx).Where("seq > ?", after).Order("seq ASC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return records, nil
}

// Head returns the sequence number and hash of the latest record.
func (j *Journal) Head() (uint64, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq, j.head
}

// Verify walks the whole chain and recomputes every hash.
func (j *Journal) Verify(ctx context.Context) error {
	prev := ""
	var after uint64
	for {
		batch, err := j.List(ctx, after, 500)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, rec := range batch {
			if rec.Seq != after+1 || rec.PrevHash != prev {
				return fmt.Errorf("%w: record %d", ErrChainBroken, rec.Seq)
			}
			if chainHash(rec.PrevHash, rec.Seq, rec.Type, rec.Attributes) != rec.Hash {
				return fmt.Errorf("%w: record %d", ErrChainBroken, rec.Seq)
			}
			prev = rec.Hash
			after = rec.Seq
		}
	}
}

// Decode returns the wire event stored in rec.
func (rec Record) Decode() (*types.Event, error) {
	attrs := map[string]string{}
	if rec.Attributes != "" {
		if err := json.Unmarshal([]byte(rec.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("journal: decode attributes: %w", err)
		}
	}
	return &types.Event{Type: rec.Type, Attributes: attrs}, nil
}

// Subscribe registers a live feed of appended records. Slow subscribers miss
// records rather than blocking appends; they can catch up through List.
func (j *Journal) Subscribe() (<-chan Record, func()) {
	ch := make(chan Record, subscriberBuffer)
	j.subMu.Lock()
	id := j.nextID
	j.nextID++
	j.subs[id] = ch
	j.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.subMu.Lock()
			delete(j.subs, id)
			j.subMu.Unlock()
			close(ch)
		})
	}
}

func (j *Journal) publish(rec Record) {
	j.subMu.Lock()
	defer j.subMu.Unlock()
	for _, ch := range j.subs {
		select {
		case ch <- rec:
		default:
			j.logger.Warn("journal subscriber lagging", "seq", rec.Seq)
		}
	}
}

// Remembered looks up a stored response for key and caller.
func (j *Journal) Remembered(ctx context.Context, key, caller string) (*IdempotencyKey, bool, error) {
	var entry IdempotencyKey
	err := j.db.WithContext(ctx).Where(&IdempotencyKey{Key: key, Caller: caller}).Limit(1).Find(&entry).Error
	if err != nil {
		return nil, false, fmt.Errorf("journal: idempotency lookup: %w", err)
	}
	if entry.Key == "" {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Remember stores entry. A key already recorded for another method or path is
// rejected with ErrIdempotencyConflict.
func (j *Journal) Remember(ctx context.Context, entry IdempotencyKey) error {
	existing, ok, err := j.Remembered(ctx, entry.Key, entry.Caller)
	if err != nil {
		return err
	}
	if ok {
		if existing.Method != entry.Method || existing.Path != entry.Path {
			return ErrIdempotencyConflict
		}
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = j.now().UTC()
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("journal: idempotency insert: %w", err)
	}
	return nil
}

func canonicalAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	// encoding/json writes map keys in sorted order.
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("journal: encode attributes: %w", err)
	}
	return string(data), nil
}

func chainHash(prev string, seq uint64, eventType, attrs string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(prev))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(attrs))
	return hex.EncodeToString(h.Sum(nil))
}
