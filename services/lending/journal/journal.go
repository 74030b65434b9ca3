// Package journal keeps a SQLite record of engine activity: every operation
// outcome and every completed liquidation. It plugs into the engine as an
// observer and backs the daemon's audit endpoints.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mmlink/native/lending"
	"mmlink/observability/metrics"
)

// ErrPathRequired is returned when the journal path is missing.
var ErrPathRequired = errors.New("journal path must be configured")

const writeTimeout = 5 * time.Second

// Operation is one engine call outcome.
type Operation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Op        string    `gorm:"index"`
	Outcome   string    `gorm:"index"`
	Error     string
	CreatedAt time.Time `gorm:"index"`
}

// Liquidation is one completed liquidation. Amounts are decimal strings of
// raw units.
type Liquidation struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Target       string    `gorm:"index"`
	RepayMarket  string    `gorm:"index"`
	SeizeMarket  string    `gorm:"index"`
	Repaid       string    `gorm:"not null"`
	SeizedShares string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"index"`
}

// AutoMigrate creates or updates the journal tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Operation{}, &Liquidation{})
}

// Journal implements lending.Observer by persisting what it observes.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ lending.Observer = (*Journal)(nil)

// Open opens or creates the SQLite database at path.
func Open(path string, log *slog.Logger) (*Journal, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Journal{db: db, logger: log, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ObserveOperation records op. Write failures are logged, never returned:
// the journal must not change the outcome of the call it describes.
func (j *Journal) ObserveOperation(op string, err error) {
	if j == nil {
		return
	}
	rec := Operation{ID: uuid.New(), Op: op, Outcome: metrics.Outcome(err), CreatedAt: j.now().UTC()}
	if err != nil {
		rec.Error = err.Error()
	}
	j.write(&rec)
}

func (j *Journal) ObserveLiquidation(result lending.LiquidationResult) {
	if j == nil {
		return
	}
	j.write(&Liquidation{
		ID:           uuid.New(),
		Target:       result.Target.Hex(),
		RepayMarket:  result.RepayMarket.Hex(),
		SeizeMarket:  result.SeizeMarket.Hex(),
		Repaid:       dec(result.Repaid),
		SeizedShares: dec(result.SeizedShares),
		CreatedAt:    j.now().UTC(),
	})
}

func (j *Journal) write(rec any) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := j.db.WithContext(ctx).Create(rec).Error; err != nil {
		j.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}
}

// Liquidations returns the most recent liquidations, newest first. A
// non-empty target filters by borrower.
func (j *Journal) Liquidations(ctx context.Context, target string, limit int) ([]Liquidation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := j.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if target = strings.TrimSpace(target); target != "" {
		query = query.Where("target = ?", target)
	}
	var out []Liquidation
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query liquidations: %w", err)
	}
	return out, nil
}

// OperationCounts tallies recorded outcomes per operation since the given
// time.
func (j *Journal) OperationCounts(ctx context.Context, since time.Time) (map[string]map[string]int64, error) {
	var rows []struct {
		Op      string
		Outcome string
		Count   int64
	}
	err := j.db.WithContext(ctx).Model(&Operation{}).
		Select("op, outcome, COUNT(*) AS count").
		Where("created_at >= ?", since.UTC()).
		Group("op, outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count operations: %w", err)
	}
	out := make(map[string]map[string]int64)
	for _, row := range rows {
		if out[row.Op] == nil {
			out[row.Op] = make(map[string]int64)
		}
		out[row.Op][row.Outcome] = row.Count
	}
	return out, nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
