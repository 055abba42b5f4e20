package repository

import (
	"context"
	"errors"
	"time"

	"github.com/affiliflow/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AffiliateStatRepository 推广者计数数据访问接口，所有写入均为按行自增
type AffiliateStatRepository interface {
	WithTx(tx *gorm.DB) AffiliateStatRepository
	WithContext(ctx context.Context) AffiliateStatRepository
	IncrementConversions(affiliateID uint, delta int64, now time.Time) error
	IncrementEarnings(affiliateID uint, delta decimal.Decimal, now time.Time) error
	GetByAffiliate(affiliateID uint) (*models.AffiliateStat, error)
}

// GormAffiliateStatRepository GORM 实现
type GormAffiliateStatRepository struct {
	db *gorm.DB
}

// NewAffiliateStatRepository 创建推广者计数仓库
func NewAffiliateStatRepository(db *gorm.DB) *GormAffiliateStatRepository {
	return &GormAffiliateStatRepository{db: db}
}

// WithTx 绑定事务
func (r *GormAffiliateStatRepository) WithTx(tx *gorm.DB) AffiliateStatRepository {
	if tx == nil {
		return r
	}
	return &GormAffiliateStatRepository{db: tx}
}

// WithContext 绑定请求上下文
func (r *GormAffiliateStatRepository) WithContext(ctx context.Context) AffiliateStatRepository {
	if ctx == nil {
		return r
	}
	return &GormAffiliateStatRepository{db: r.db.WithContext(ctx)}
}

// IncrementConversions 有效转化数自增
func (r *GormAffiliateStatRepository) IncrementConversions(affiliateID uint, delta int64, now time.Time) error {
	if affiliateID == 0 || delta == 0 {
		return nil
	}
	row := models.AffiliateStat{
		AffiliateID:     affiliateID,
		ConversionCount: delta,
		UpdatedAt:       now,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "affiliate_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"conversion_count": gorm.Expr("affiliate_stats.conversion_count + ?", delta),
			"updated_at":       now,
		}),
	}).Create(&row).Error
}

// IncrementEarnings 累计收益自增（delta 可为负，用于冲正）
func (r *GormAffiliateStatRepository) IncrementEarnings(affiliateID uint, delta decimal.Decimal, now time.Time) error {
	if affiliateID == 0 || delta.IsZero() {
		return nil
	}
	delta = delta.Round(2)
	row := models.AffiliateStat{
		AffiliateID:   affiliateID,
		TotalEarnings: models.NewMoneyFromDecimal(delta),
		UpdatedAt:     now,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "affiliate_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_earnings": gorm.Expr("affiliate_stats.total_earnings + ?", delta),
			"updated_at":     now,
		}),
	}).Create(&row).Error
}

// GetByAffiliate 获取推广者计数
func (r *GormAffiliateStatRepository) GetByAffiliate(affiliateID uint) (*models.AffiliateStat, error) {
	if affiliateID == 0 {
		return nil, nil
	}
	var stat models.AffiliateStat
	if err := r.db.Where("affiliate_id = ?", affiliateID).First(&stat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &stat, nil
}
