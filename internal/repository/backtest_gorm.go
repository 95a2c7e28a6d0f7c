package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// BacktestReportModel is the backtest_reports row. Summary columns are
// queryable; the full result is kept as JSON.
type BacktestReportModel struct {
	ID             string    `gorm:"column:id;type:text;primaryKey"`
	WorkflowID     string    `gorm:"column:workflow_id;type:text;index"`
	Symbol         string    `gorm:"column:symbol;type:varchar(32);not null"`
	Interval       string    `gorm:"column:interval;type:varchar(8);not null"`
	FromTime       time.Time `gorm:"column:from_time"`
	ToTime         time.Time `gorm:"column:to_time"`
	InitialCapital string    `gorm:"column:initial_capital;type:numeric(32,12)"`
	NetPnL         string    `gorm:"column:net_pnl;type:numeric(32,12)"`
	TradeCount     int       `gorm:"column:trade_count"`
	MaxDrawdown    float64   `gorm:"column:max_drawdown"`
	Result         []byte    `gorm:"column:result;type:jsonb;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
}

func (BacktestReportModel) TableName() string { return "backtest_reports" }

// OpenGorm opens a gorm handle on a PostgreSQL URL with SQL logging off.
func OpenGorm(databaseURL string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return gdb, nil
}

// GormBacktestRepository stores reports through gorm.
type GormBacktestRepository struct {
	db *gorm.DB
}

func NewGormBacktestRepository(db *gorm.DB) *GormBacktestRepository {
	return &GormBacktestRepository{db: db}
}

// Migrate creates or updates the backtest_reports table.
func (r *GormBacktestRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&BacktestReportModel{}); err != nil {
		return fmt.Errorf("migrate backtest_reports: %w", err)
	}
	return nil
}

func (r *GormBacktestRepository) Save(ctx context.Context, res *tradeflow.BacktestResult) error {
	model, err := toReportModel(res)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return fmt.Errorf("save backtest report: %w", err)
	}
	return nil
}

func (r *GormBacktestRepository) Get(ctx context.Context, id string) (*tradeflow.BacktestResult, error) {
	var model BacktestReportModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("backtest %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get backtest report: %w", err)
	}
	return fromReportModel(&model)
}

func (r *GormBacktestRepository) List(ctx context.Context, workflowID string, limit int) ([]*tradeflow.BacktestResult, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []BacktestReportModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list backtest reports: %w", err)
	}
	out := make([]*tradeflow.BacktestResult, 0, len(models))
	for i := range models {
		res, err := fromReportModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func toReportModel(res *tradeflow.BacktestResult) (*BacktestReportModel, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal backtest result: %w", err)
	}
	return &BacktestReportModel{
		ID:             res.ID,
		WorkflowID:     res.WorkflowID,
		Symbol:         res.Symbol,
		Interval:       string(res.Interval),
		FromTime:       res.From,
		ToTime:         res.To,
		InitialCapital: res.InitialCapital.String(),
		NetPnL:         res.Metrics.NetPnL.String(),
		TradeCount:     len(res.Trades),
		MaxDrawdown:    res.Metrics.MaxDrawdown,
		Result:         raw,
		CreatedAt:      res.CreatedAt,
	}, nil
}

func fromReportModel(m *BacktestReportModel) (*tradeflow.BacktestResult, error) {
	var res tradeflow.BacktestResult
	if err := json.Unmarshal(m.Result, &res); err != nil {
		return nil, fmt.Errorf("unmarshal backtest result %s: %w", m.ID, err)
	}
	return &res, nil
}
