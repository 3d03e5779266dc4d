package journal

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"
)

// ErrNotFound is returned when a receipt or idempotency record is missing.
var ErrNotFound = errors.New("journal: record not found")

// Receipt is the durable record of one committed minter operation.
type Receipt struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Operation string    `gorm:"size:32;index"`
	Caller    string    `gorm:"size:96"`
	Oven      string    `gorm:"size:96;index"`
	Index     string    `gorm:"size:80"`
	Payload   string    `gorm:"type:text"`
	Digest    string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"index"`
}

// Verify reports whether the stored digest matches the payload.
func (r *Receipt) Verify() bool {
	if r == nil {
		return false
	}
	return r.Digest == Digest([]byte(r.Payload))
}

// IdempotencyKey stores the response replayed for a repeated request. A zero
// Status marks a reservation whose request is still running.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Caller    string `gorm:"size:96"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// Pending reports whether the request holding the key has not finished.
func (k *IdempotencyKey) Pending() bool {
	return k != nil && k.Status == 0
}

// Entry is the input for Record.
type Entry struct {
	Operation string
	Caller    string
	Oven      string
	Index     string
	Payload   []byte
}

// AutoMigrate performs the journal schema migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Receipt{},
		&IdempotencyKey{},
	)
}

// Dialector picks the gorm driver for dsn. Postgres URLs use the pgx based
// driver; anything else is treated as a SQLite path or URI.
func Dialector(dsn string) gorm.Dialector {
	trimmed := strings.TrimSpace(dsn)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgres.Open(trimmed)
	}
	return sqlite.Open(trimmed)
}

// Open connects to the journal database and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("journal: dsn required")
	}
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return db, nil
}

// Digest returns the hex encoded BLAKE3 digest of payload.
func Digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Journal persists operation receipts and idempotency records.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

// New wraps an open database. The schema must already be migrated.
func New(db *gorm.DB) *Journal {
	return &Journal{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the timestamp source.
func (j *Journal) SetClock(now func() time.Time) {
	if j == nil || now == nil {
		return
	}
	j.now = now
}

// Record stores a receipt for entry and returns it.
func (j *Journal) Record(ctx context.Context, entry Entry) (*Receipt, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal: not configured")
	}
	receipt := &Receipt{
		ID:        uuid.New(),
		Operation: entry.Operation,
		Caller:    entry.Caller,
		Oven:      entry.Oven,
		Index:     entry.Index,
		Payload:   string(entry.Payload),
		Digest:    Digest(entry.Payload),
		CreatedAt: j.now(),
	}
	if err := j.db.WithContext(ctx).Create(receipt).Error; err != nil {
		return nil, fmt.Errorf("record receipt: %w", err)
	}
	return receipt, nil
}

// Receipt loads a receipt by id.
func (j *Journal) Receipt(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	var receipt Receipt
	err := j.db.WithContext(ctx).First(&receipt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// OvenReceipts lists the newest receipts for an oven, at most limit.
func (j *Journal) OvenReceipts(ctx context.Context, oven string, limit int) ([]Receipt, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var receipts []Receipt
	err := j.db.WithContext(ctx).
		Where("oven = ?", oven).
		Order("created_at desc").
		Limit(limit).
		Find(&receipts).Error
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// Idempotent loads the stored response for key.
func (j *Journal) Idempotent(ctx context.Context, key string) (*IdempotencyKey, error) {
	var record IdempotencyKey
	err := j.db.WithContext(ctx).First(&record, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Reserve claims key for a request before it runs. When the key already
// exists the stored record is returned with reserved set to false; it may still
// be pending.
func (j *Journal) Reserve(ctx context.Context, record *IdempotencyKey) (existing *IdempotencyKey, reserved bool, err error) {
	if record == nil || record.Key == "" {
		return nil, false, fmt.Errorf("journal: idempotency key required")
	}
	if record.RequestID == "" {
		record.RequestID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = j.now()
	}
	record.Status = 0
	record.Response = ""
	res := j.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if res.Error != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil, true, nil
	}
	existing, err = j.Idempotent(ctx, record.Key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Complete stores the response for a reserved key.
func (j *Journal) Complete(ctx context.Context, key string, status int, response string) error {
	if status == 0 {
		return fmt.Errorf("journal: status required")
	}
	res := j.db.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("key = ? AND status = 0", key).
		Updates(map[string]any{"status": status, "response": response})
	if res.Error != nil {
		return fmt.Errorf("complete idempotency key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("complete idempotency key %q: %w", key, ErrNotFound)
	}
	return nil
}

// Release drops a pending reservation so the request can be retried.
func (j *Journal) Release(ctx context.Context, key string) error {
	err := j.db.WithContext(ctx).
		Where("key = ? AND status = 0", key).
		Delete(&IdempotencyKey{}).Error
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
