// Package stub implements a small stand-alone deliveries service backed by
// SQLite. It exists so the console can be developed and demonstrated without
// the real backing service: cmd/stubserver runs it on its own port and the
// console's remote client talks to it like any other upstream.
package stub

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-console/internal/domain"
)

// DeliveryRow is the persisted form of a delivery record. The wire shape is
// domain.Delivery; this type only adds the GORM mapping.
type DeliveryRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement:false"`
	Date      string `gorm:"size:10;not null"`
	Recipient string `gorm:"size:255;not null;index"`
	Address   string `gorm:"size:255;not null"`
	Status    string `gorm:"size:32;not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName keeps the table name singular-free and explicit.
func (DeliveryRow) TableName() string { return "deliveries" }

// toDomain converts a row to its wire representation.
func (r DeliveryRow) toDomain() domain.Delivery {
	return domain.Delivery{
		ID:        r.ID,
		Date:      r.Date,
		Recipient: r.Recipient,
		Address:   r.Address,
		Status:    domain.DeliveryStatus(r.Status),
	}
}

// fromDomain converts a wire record to its persisted form.
func fromDomain(d domain.Delivery) DeliveryRow {
	return DeliveryRow{
		ID:        d.ID,
		Date:      d.Date,
		Recipient: d.Recipient,
		Address:   d.Address,
		Status:    string(d.Status),
	}
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." && !isMemoryDSN(path) {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// isMemoryDSN reports whether path is an in-memory or URI-style SQLite DSN,
// for which the parent-directory check does not apply.
func isMemoryDSN(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file:")
}

// AutoMigrate creates or updates the deliveries schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&DeliveryRow{})
}

// Seed inserts a handful of demo records when the table is empty. The dates
// are anchored to "now" so the records always pass the console's
// not-before-today rule.
func Seed(db *gorm.DB, now time.Time) error {
	var count int64
	if err := db.Model(&DeliveryRow{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	day := func(offset int) string {
		return now.AddDate(0, 0, offset).Format(domain.DateLayout)
	}
	base := now.UnixMilli()
	rows := []DeliveryRow{
		{ID: base + 1, Date: day(1), Recipient: "Alice Papadopoulou", Address: "12 Ermou St, Athens", Status: string(domain.StatusPending)},
		{ID: base + 2, Date: day(1), Recipient: "Bob Karras", Address: "88 Queensway, London", Status: string(domain.StatusInTransit)},
		{ID: base + 3, Date: day(2), Recipient: "Chloe Martin", Address: "5 Rue de Rivoli, Paris", Status: string(domain.StatusPending)},
		{ID: base + 4, Date: day(3), Recipient: "Dimitris Ioannou", Address: "21 Tsimiski, Thessaloniki", Status: string(domain.StatusDelivered)},
		{ID: base + 5, Date: day(4), Recipient: "Elena Rossi", Address: "3 Via Roma, Milan", Status: string(domain.StatusNotDelivered)},
	}
	return db.Create(&rows).Error
}
