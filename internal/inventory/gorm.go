package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedger implements Ledger on a SQL database.
type GormLedger struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

// OpenPostgres connects to dsn.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// NewGormLedger creates a new GormLedger.
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db, nowFunc: time.Now}
}

// Migrate creates or updates the inventory table.
func (l *GormLedger) Migrate(ctx context.Context) error {
	return l.db.WithContext(ctx).AutoMigrate(&Item{})
}

func (l *GormLedger) Get(ctx context.Context, id string) (*Item, error) {
	var it Item
	if err := l.db.WithContext(ctx).Take(&it, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &it, nil
}

func (l *GormLedger) Put(ctx context.Context, it *Item) error {
	return l.db.WithContext(ctx).Save(it).Error
}

// Decrement locks the row for the duration of the read-modify-write.
func (l *GormLedger) Decrement(ctx context.Context, id string, qty int) (bool, error) {
	clamped := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var it Item
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&it, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("decrement %s: %w", id, ErrItemNotFound)
			}
			return err
		}

		next := it.Quantity - qty
		if next < 0 {
			next = 0
			clamped = true
		}
		return tx.Model(&Item{}).Where("id = ?", id).Updates(map[string]interface{}{
			"quantity":   next,
			"updated_at": l.nowFunc().UTC(),
		}).Error
	})
	if err != nil {
		return false, err
	}
	return clamped, nil
}

func (l *GormLedger) Ping(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
