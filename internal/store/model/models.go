package model

import (
	"gorm.io/datatypes"
)

type StrategyStatus string

const (
	StrategyStatusActive   StrategyStatus = "active"
	StrategyStatusInactive StrategyStatus = "inactive"
	StrategyStatusArchived StrategyStatus = "archived"
)

// StrategyModel 是策略库的持久化形态，参数以 JSON 存储。
type StrategyModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Name           string         `gorm:"column:name;index"`
	Description    string         `gorm:"column:description"`
	Type           string         `gorm:"column:type;index"`
	Params         datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	Status         StrategyStatus `gorm:"column:status;index"`
	RiskLevel      string         `gorm:"column:risk_level"`
	MinimumCapital float64        `gorm:"column:minimum_capital"`
	LastBacktestID string         `gorm:"column:last_backtest_id"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (StrategyModel) TableName() string { return "strategies" }
