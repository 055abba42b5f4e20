package repository

import (
	"context"
	"errors"
	"time"

	"github.com/affiliflow/internal/models"

	"gorm.io/gorm"
)

// ConversionRepository 转化数据访问接口
type ConversionRepository interface {
	WithContext(ctx context.Context) ConversionRepository
	Create(conversion *models.Conversion) error
	GetByID(id uint) (*models.Conversion, error)
	GetByProgramOrder(programID uint, orderID string) (*models.Conversion, error)
	CountByAffiliateSince(affiliateID uint, since time.Time) (int64, error)
	GetSubscriptionRoot(programID uint, subscriptionID string) (*models.Conversion, error)
	MaxRecurringIndex(programID uint, subscriptionID string) (int, error)
	LinkPayout(id, payoutID uint) error
	List(filter ConversionListFilter) ([]models.Conversion, int64, error)
}

// GormConversionRepository GORM 实现
type GormConversionRepository struct {
	db *gorm.DB
}

// NewConversionRepository 创建转化仓库
func NewConversionRepository(db *gorm.DB) *GormConversionRepository {
	return &GormConversionRepository{db: db}
}

// WithContext 绑定请求上下文
func (r *GormConversionRepository) WithContext(ctx context.Context) ConversionRepository {
	if ctx == nil {
		return r
	}
	return &GormConversionRepository{db: r.db.WithContext(ctx)}
}

// Create 创建转化
func (r *GormConversionRepository) Create(conversion *models.Conversion) error {
	return r.db.Create(conversion).Error
}

// GetByID 按ID获取转化
func (r *GormConversionRepository) GetByID(id uint) (*models.Conversion, error) {
	if id == 0 {
		return nil, nil
	}
	var conversion models.Conversion
	if err := r.db.First(&conversion, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conversion, nil
}

// GetByProgramOrder 按计划与外部订单号获取转化
func (r *GormConversionRepository) GetByProgramOrder(programID uint, orderID string) (*models.Conversion, error) {
	if programID == 0 || orderID == "" {
		return nil, nil
	}
	var conversion models.Conversion
	if err := r.db.Where("program_id = ? AND order_id = ?", programID, orderID).First(&conversion).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conversion, nil
}

// CountByAffiliateSince 统计推广者窗口内的转化数（含已标记）
func (r *GormConversionRepository) CountByAffiliateSince(affiliateID uint, since time.Time) (int64, error) {
	if affiliateID == 0 {
		return 0, nil
	}
	var total int64
	if err := r.db.Model(&models.Conversion{}).
		Where("affiliate_id = ? AND created_at >= ?", affiliateID, since).
		Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// GetSubscriptionRoot 获取订阅的首次转化
func (r *GormConversionRepository) GetSubscriptionRoot(programID uint, subscriptionID string) (*models.Conversion, error) {
	if programID == 0 || subscriptionID == "" {
		return nil, nil
	}
	var conversion models.Conversion
	err := r.db.Where("program_id = ? AND subscription_id = ? AND recurring_parent_id IS NULL", programID, subscriptionID).
		Order("id ASC").
		First(&conversion).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conversion, nil
}

// MaxRecurringIndex 获取订阅当前最大续费序号
func (r *GormConversionRepository) MaxRecurringIndex(programID uint, subscriptionID string) (int, error) {
	var row struct {
		MaxIndex int `gorm:"column:max_index"`
	}
	if err := r.db.Model(&models.Conversion{}).
		Where("program_id = ? AND subscription_id = ?", programID, subscriptionID).
		Select("COALESCE(MAX(recurring_index), 0) AS max_index").
		Scan(&row).Error; err != nil {
		return 0, err
	}
	return row.MaxIndex, nil
}

// LinkPayout 回写结算单ID（仅在未关联时生效）
func (r *GormConversionRepository) LinkPayout(id, payoutID uint) error {
	if id == 0 || payoutID == 0 {
		return nil
	}
	return r.db.Model(&models.Conversion{}).
		Where("id = ? AND payout_id IS NULL", id).
		Update("payout_id", payoutID).Error
}

// List 分页查询转化
func (r *GormConversionRepository) List(filter ConversionListFilter) ([]models.Conversion, int64, error) {
	query := r.db.Model(&models.Conversion{})
	if filter.ProgramID != 0 {
		query = query.Where("program_id = ?", filter.ProgramID)
	}
	if filter.AffiliateID != 0 {
		query = query.Where("affiliate_id = ?", filter.AffiliateID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Conversion
	if err := applyPagination(query.Order("id DESC"), filter.Page, filter.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
