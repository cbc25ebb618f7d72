package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stakeledger/native/staking"
)

// Entry is one journaled engine event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind       string    `gorm:"index;not null"`
	TxID       *uint64   `gorm:"index"`
	Caller     string    `gorm:"index;size:42"`
	Amount     string
	Reason     string
	At         uint64
	RecordedAt time.Time `gorm:"index"`
}

// AutoMigrate ensures the journal schema exists.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}

// Counter receives per-kind event counts.
type Counter interface {
	RecordEvent(kind string)
}

// Journal persists engine events and implements staking.Emitter.
type Journal struct {
	db      *gorm.DB
	counter Counter
	logger  *slog.Logger
	now     func() time.Time
}

// Open connects to the sqlite database at dsn and migrates it.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("journal dsn required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return db, nil
}

// New wraps an already migrated database.
func New(db *gorm.DB, counter Counter, log *slog.Logger) *Journal {
	if log == nil {
		log = slog.Default()
	}
	return &Journal{db: db, counter: counter, logger: log, now: time.Now}
}

// Emit records evt. Write failures are logged and never reach the engine.
func (j *Journal) Emit(evt staking.Event) {
	if j == nil || j.db == nil {
		return
	}
	entry := Entry{
		ID:         uuid.New(),
		Kind:       string(evt.Kind),
		Caller:     evt.Caller.Hex(),
		Reason:     evt.Reason,
		At:         evt.At,
		RecordedAt: j.now().UTC(),
	}
	if evt.HasTxID() {
		txid := evt.TxID
		entry.TxID = &txid
	}
	if evt.Amount != nil {
		entry.Amount = evt.Amount.Dec()
	}
	if err := j.db.Create(&entry).Error; err != nil {
		j.logger.Error("journal staking event",
			slog.String("kind", entry.Kind),
			slog.Any("error", err))
		return
	}
	if j.counter != nil {
		j.counter.RecordEvent(entry.Kind)
	}
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Caller *common.Address
	TxID   *uint64
	Kind   staking.EventKind
	Limit  int
}

// List returns journal entries in recording order.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := j.db.WithContext(ctx).Model(&Entry{})
	if filter.Caller != nil {
		query = query.Where("caller = ?", filter.Caller.Hex())
	}
	if filter.TxID != nil {
		query = query.Where("tx_id = ?", *filter.TxID)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", string(filter.Kind))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var entries []Entry
	if err := query.Order("recorded_at asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := j.db.WithContext(ctx).Where("recorded_at < ?", cutoff).Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune journal: %w", res.Error)
	}
	return res.RowsAffected, nil
}
