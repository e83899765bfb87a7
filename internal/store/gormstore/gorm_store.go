package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	storemodel "quantdesk/internal/store/model"
)

// ErrStrategyNotFound 表示指定 id 的策略不存在。
var ErrStrategyNotFound = errors.New("strategy not found")

type strategyModel = storemodel.StrategyModel

// StrategyRecord 是策略库对外的记录形态，Params 已反序列化。
type StrategyRecord struct {
	ID             string                    `json:"id"`
	Name           string                    `json:"name"`
	Description    string                    `json:"description,omitempty"`
	Type           string                    `json:"type"`
	Params         map[string]any            `json:"parameters"`
	Status         storemodel.StrategyStatus `json:"status"`
	RiskLevel      string                    `json:"risk_level,omitempty"`
	MinimumCapital float64                   `json:"minimum_capital,omitempty"`
	LastBacktestID string                    `json:"last_backtest_id,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// GormStore 基于 Gorm + SQLite 实现策略库。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 存储路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&strategyModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateStrategy 新建策略；空 ID 自动分配 uuid，同 ID 重复提交走 upsert。
func (s *GormStore) CreateStrategy(ctx context.Context, rec StrategyRecord) (StrategyRecord, error) {
	if s == nil || s.db == nil {
		return StrategyRecord{}, fmt.Errorf("gorm store 未初始化")
	}
	rec.Name = strings.TrimSpace(rec.Name)
	rec.Type = strings.TrimSpace(rec.Type)
	if rec.Name == "" || rec.Type == "" {
		return StrategyRecord{}, fmt.Errorf("策略 name/type 必填")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = storemodel.StrategyStatusActive
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m, err := newStrategyModel(rec)
	if err != nil {
		return StrategyRecord{}, err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "description", "type", "params_json", "status",
				"risk_level", "minimum_capital", "updated_at",
			}),
		}).
		Create(&m).Error
	if err != nil {
		return StrategyRecord{}, err
	}
	return rec, nil
}

// ListStrategies 按更新时间倒序返回策略。
func (s *GormStore) ListStrategies(ctx context.Context, limit, offset int) ([]StrategyRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var models []strategyModel
	if err := s.db.WithContext(ctx).
		Order("updated_at DESC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]StrategyRecord, 0, len(models))
	for _, m := range models {
		rec, err := strategyModelToRecord(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetStrategy 读取单条策略。
func (s *GormStore) GetStrategy(ctx context.Context, id string) (StrategyRecord, error) {
	if s == nil || s.db == nil {
		return StrategyRecord{}, fmt.Errorf("gorm store 未初始化")
	}
	var m strategyModel
	if err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StrategyRecord{}, ErrStrategyNotFound
		}
		return StrategyRecord{}, err
	}
	return strategyModelToRecord(m)
}

// UpdateStrategy 更新策略的可变字段。
func (s *GormStore) UpdateStrategy(ctx context.Context, rec StrategyRecord) (StrategyRecord, error) {
	if s == nil || s.db == nil {
		return StrategyRecord{}, fmt.Errorf("gorm store 未初始化")
	}
	existing, err := s.GetStrategy(ctx, rec.ID)
	if err != nil {
		return StrategyRecord{}, err
	}
	if rec.Name != "" {
		existing.Name = strings.TrimSpace(rec.Name)
	}
	if rec.Description != "" {
		existing.Description = rec.Description
	}
	if rec.Type != "" {
		existing.Type = strings.TrimSpace(rec.Type)
	}
	if rec.Params != nil {
		existing.Params = rec.Params
	}
	if rec.Status != "" {
		existing.Status = rec.Status
	}
	if rec.RiskLevel != "" {
		existing.RiskLevel = rec.RiskLevel
	}
	if rec.MinimumCapital > 0 {
		existing.MinimumCapital = rec.MinimumCapital
	}
	existing.UpdatedAt = time.Now()
	paramsJSON, err := json.Marshal(paramsOrEmpty(existing.Params))
	if err != nil {
		return StrategyRecord{}, err
	}
	res := s.db.WithContext(ctx).Model(&strategyModel{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"name":            existing.Name,
			"description":     existing.Description,
			"type":            existing.Type,
			"params_json":     datatypes.JSON(paramsJSON),
			"status":          existing.Status,
			"risk_level":      existing.RiskLevel,
			"minimum_capital": existing.MinimumCapital,
			"updated_at":      existing.UpdatedAt.UnixMilli(),
		})
	if res.Error != nil {
		return StrategyRecord{}, res.Error
	}
	if res.RowsAffected == 0 {
		return StrategyRecord{}, ErrStrategyNotFound
	}
	return existing, nil
}

// DeleteStrategy 删除策略；不存在时返回 ErrStrategyNotFound。
func (s *GormStore) DeleteStrategy(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	res := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Delete(&strategyModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStrategyNotFound
	}
	return nil
}

// SetLastBacktest 记录策略最近一次回测的结果 ID。
func (s *GormStore) SetLastBacktest(ctx context.Context, id, backtestID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Model(&strategyModel{}).
		Where("id = ?", strings.TrimSpace(id)).
		Updates(map[string]interface{}{
			"last_backtest_id": backtestID,
			"updated_at":       time.Now().UnixMilli(),
		}).Error
}

// ResolveStrategy 供回测执行器按 strategy_id 取类型与参数。
func (s *GormStore) ResolveStrategy(ctx context.Context, id string) (string, map[string]any, error) {
	rec, err := s.GetStrategy(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return rec.Type, rec.Params, nil
}

func newStrategyModel(rec StrategyRecord) (strategyModel, error) {
	paramsJSON, err := json.Marshal(paramsOrEmpty(rec.Params))
	if err != nil {
		return strategyModel{}, err
	}
	return strategyModel{
		ID:             rec.ID,
		Name:           rec.Name,
		Description:    strings.TrimSpace(rec.Description),
		Type:           rec.Type,
		Params:         datatypes.JSON(paramsJSON),
		Status:         rec.Status,
		RiskLevel:      strings.TrimSpace(rec.RiskLevel),
		MinimumCapital: rec.MinimumCapital,
		LastBacktestID: rec.LastBacktestID,
		CreatedAtUnix:  rec.CreatedAt.UnixMilli(),
		UpdatedAtUnix:  rec.UpdatedAt.UnixMilli(),
	}, nil
}

func strategyModelToRecord(m strategyModel) (StrategyRecord, error) {
	rec := StrategyRecord{
		ID:             m.ID,
		Name:           m.Name,
		Description:    m.Description,
		Type:           m.Type,
		Status:         m.Status,
		RiskLevel:      m.RiskLevel,
		MinimumCapital: m.MinimumCapital,
		LastBacktestID: m.LastBacktestID,
		CreatedAt:      millisToTime(m.CreatedAtUnix),
		UpdatedAt:      millisToTime(m.UpdatedAtUnix),
	}
	if len(m.Params) > 0 {
		if err := json.Unmarshal(m.Params, &rec.Params); err != nil {
			return StrategyRecord{}, fmt.Errorf("策略 %s 参数损坏: %w", m.ID, err)
		}
	}
	return rec, nil
}

func paramsOrEmpty(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
