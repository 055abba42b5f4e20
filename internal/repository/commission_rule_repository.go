package repository

import (
	"context"
	"time"

	"github.com/affiliflow/internal/models"

	"gorm.io/gorm"
)

// CommissionRuleRepository 佣金规则数据访问接口
type CommissionRuleRepository interface {
	WithContext(ctx context.Context) CommissionRuleRepository
	ListActive(programID, affiliateID uint, now time.Time) ([]models.CommissionRule, error)
	Create(rule *models.CommissionRule) error
}

// GormCommissionRuleRepository GORM 实现
type GormCommissionRuleRepository struct {
	db *gorm.DB
}

// NewCommissionRuleRepository 创建佣金规则仓库
func NewCommissionRuleRepository(db *gorm.DB) *GormCommissionRuleRepository {
	return &GormCommissionRuleRepository{db: db}
}

// WithContext 绑定请求上下文
func (r *GormCommissionRuleRepository) WithContext(ctx context.Context) CommissionRuleRepository {
	if ctx == nil {
		return r
	}
	return &GormCommissionRuleRepository{db: r.db.WithContext(ctx)}
}

// ListActive 查询当前生效且适用于推广者的规则（计划通用或指定推广者）
func (r *GormCommissionRuleRepository) ListActive(programID, affiliateID uint, now time.Time) ([]models.CommissionRule, error) {
	var rows []models.CommissionRule
	err := r.db.Where("program_id = ?", programID).
		Where("affiliate_id IS NULL OR affiliate_id = ?", affiliateID).
		Where("starts_at IS NULL OR starts_at <= ?", now).
		Where("expires_at IS NULL OR expires_at >= ?", now).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Create 创建规则
func (r *GormCommissionRuleRepository) Create(rule *models.CommissionRule) error {
	return r.db.Create(rule).Error
}
