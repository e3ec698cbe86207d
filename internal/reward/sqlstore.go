package reward

import (
	"context"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PoolCode is one unissued code. Seq preserves FIFO order.
type PoolCode struct {
	Seq  uint   `gorm:"column:seq;primaryKey;autoIncrement"`
	Code string `gorm:"column:code;uniqueIndex;size:190;not null"`
}

func (PoolCode) TableName() string { return "reward_pool" }

// UsageRow is the persisted form of a UsageRecord.
type UsageRow struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     string `gorm:"column:user_id;index;size:190;not null"`
	Code       string `gorm:"column:code;size:190;not null"`
	IssuedAtMs int64  `gorm:"column:issued_at_ms;index;not null"`
}

func (UsageRow) TableName() string { return "reward_usage" }

// SQLStore persists the ledger in two tables and is authoritative: every
// operation queries the database, so replicas sharing the file agree.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Other processes may hold the write lock briefly; wait instead of
	// failing with SQLITE_BUSY.
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if logger != nil {
		logger.Info("reward database opened", zap.String("path", path))
	}
	return db, nil
}

// NewSQLStore migrates the schema and returns a store over db.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&PoolCode{}, &UsageRow{}); err != nil {
		return nil, fmt.Errorf("migrate reward tables: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Load(ctx context.Context) (State, error) {
	var codes []PoolCode
	if err := s.db.WithContext(ctx).Order("seq").Find(&codes).Error; err != nil {
		return State{}, fmt.Errorf("load pool: %w", err)
	}
	var rows []UsageRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return State{}, fmt.Errorf("load usage: %w", err)
	}

	st := State{
		Pool:  make([]string, 0, len(codes)),
		Usage: make([]UsageRecord, 0, len(rows)),
	}
	for _, c := range codes {
		st.Pool = append(st.Pool, c.Code)
	}
	for _, r := range rows {
		st.Usage = append(st.Usage, UsageRecord{UserID: r.UserID, Code: r.Code, IssuedAt: r.IssuedAtMs})
	}
	return st, nil
}

// Claim runs as one transaction. The conditional insert is its first
// statement, so the transaction holds the database write lock before it reads
// anything and concurrent claims from other processes queue behind it.
func (s *SQLStore) Claim(ctx context.Context, userID string, day Day, now time.Time) (Claim, error) {
	var c Claim
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`INSERT INTO reward_usage (user_id, code, issued_at_ms)
			SELECT ?, code, ? FROM reward_pool
			WHERE NOT EXISTS (
				SELECT 1 FROM reward_usage
				WHERE user_id = ? AND issued_at_ms >= ? AND issued_at_ms < ?)
			ORDER BY seq LIMIT 1`,
			userID, now.UnixMilli(), userID, day.Start.UnixMilli(), day.End.UnixMilli())
		if res.Error != nil {
			return fmt.Errorf("insert usage: %w", res.Error)
		}

		var rows []UsageRow
		if err := tx.Where("user_id = ? AND issued_at_ms >= ? AND issued_at_ms < ?",
			userID, day.Start.UnixMilli(), day.End.UnixMilli()).
			Order("id").Limit(1).Find(&rows).Error; err != nil {
			return fmt.Errorf("load usage: %w", err)
		}

		if res.RowsAffected == 0 {
			if len(rows) == 1 {
				c = Claim{Status: StatusAlreadyClaimed, Code: rows[0].Code}
			} else {
				c = Claim{Status: StatusPoolExhausted}
			}
			return nil
		}
		if len(rows) != 1 {
			return fmt.Errorf("usage row for %s missing after insert", userID)
		}

		code := rows[0].Code
		del := tx.Where("code = ?", code).Delete(&PoolCode{})
		if del.Error != nil {
			return fmt.Errorf("delete pooled code: %w", del.Error)
		}
		if del.RowsAffected != 1 {
			return fmt.Errorf("code %s not in pool table", code)
		}
		c = Claim{Status: StatusIssued, Code: code}
		return nil
	})
	if err != nil {
		return Claim{}, err
	}
	return c, nil
}

func (s *SQLStore) Restock(ctx context.Context, code string, day Day) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`INSERT INTO reward_pool (code)
			SELECT ? WHERE NOT EXISTS (SELECT 1 FROM reward_pool WHERE code = ?)
			AND NOT EXISTS (
				SELECT 1 FROM reward_usage
				WHERE code = ? AND issued_at_ms >= ? AND issued_at_ms < ?)`,
			code, code, code, day.Start.UnixMilli(), day.End.UnixMilli())
		if res.Error != nil {
			return fmt.Errorf("insert pooled code: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}

		var pooled int64
		if err := tx.Model(&PoolCode{}).Where("code = ?", code).Count(&pooled).Error; err != nil {
			return fmt.Errorf("count pooled code: %w", err)
		}
		if pooled > 0 {
			return fmt.Errorf("%w: %s is already pooled", ErrDuplicateCode, code)
		}
		return fmt.Errorf("%w: %s was issued today", ErrDuplicateCode, code)
	})
}

func (s *SQLStore) Purge(ctx context.Context, cutoff time.Time) error {
	if err := s.db.WithContext(ctx).Where("issued_at_ms < ?", cutoff.UnixMilli()).Delete(&UsageRow{}).Error; err != nil {
		return fmt.Errorf("purge usage: %w", err)
	}
	return nil
}

// Import appends codes that are neither pooled nor in the usage table, in
// order. It is used to seed the table from a pool file.
func (s *SQLStore) Import(ctx context.Context, codes []string) (int, error) {
	added := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, code := range codes {
			var pooled, issued int64
			if err := tx.Model(&PoolCode{}).Where("code = ?", code).Count(&pooled).Error; err != nil {
				return err
			}
			if err := tx.Model(&UsageRow{}).Where("code = ?", code).Count(&issued).Error; err != nil {
				return err
			}
			if pooled > 0 || issued > 0 {
				continue
			}
			if err := tx.Create(&PoolCode{Code: code}).Error; err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("import codes: %w", err)
	}
	return added, nil
}
