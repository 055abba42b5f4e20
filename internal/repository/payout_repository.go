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

// PayoutRepository 结算单数据访问接口
type PayoutRepository interface {
	WithTx(tx *gorm.DB) PayoutRepository
	WithContext(ctx context.Context) PayoutRepository
	Transaction(fn func(tx *gorm.DB) error) error
	Create(payout *models.Payout) error
	GetByID(id uint) (*models.Payout, error)
	GetByIDForUpdate(id uint) (*models.Payout, error)
	UpdateFromStatus(id uint, fromStatus string, updates map[string]interface{}) (bool, error)
	ListDueOnHold(status string, now time.Time, limit int) ([]models.Payout, error)
	List(filter PayoutListFilter) ([]models.Payout, int64, error)
	SumByAffiliate(affiliateID uint, statuses []string) (decimal.Decimal, error)
}

// GormPayoutRepository GORM 实现
type GormPayoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository 创建结算单仓库
func NewPayoutRepository(db *gorm.DB) *GormPayoutRepository {
	return &GormPayoutRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPayoutRepository) WithTx(tx *gorm.DB) PayoutRepository {
	if tx == nil {
		return r
	}
	return &GormPayoutRepository{db: tx}
}

// WithContext 绑定请求上下文
func (r *GormPayoutRepository) WithContext(ctx context.Context) PayoutRepository {
	if ctx == nil {
		return r
	}
	return &GormPayoutRepository{db: r.db.WithContext(ctx)}
}

// Transaction 执行事务
func (r *GormPayoutRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// Create 创建结算单
func (r *GormPayoutRepository) Create(payout *models.Payout) error {
	return r.db.Create(payout).Error
}

// GetByID 按ID获取结算单
func (r *GormPayoutRepository) GetByID(id uint) (*models.Payout, error) {
	return r.get(r.db, id)
}

// GetByIDForUpdate 按ID获取并锁定结算单
func (r *GormPayoutRepository) GetByIDForUpdate(id uint) (*models.Payout, error) {
	return r.get(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *GormPayoutRepository) get(query *gorm.DB, id uint) (*models.Payout, error) {
	if id == 0 {
		return nil, nil
	}
	var payout models.Payout
	if err := query.First(&payout, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payout, nil
}

// UpdateFromStatus 仅当当前状态匹配时更新（乐观并发），返回是否命中
func (r *GormPayoutRepository) UpdateFromStatus(id uint, fromStatus string, updates map[string]interface{}) (bool, error) {
	if id == 0 || len(updates) == 0 {
		return false, nil
	}
	result := r.db.Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListDueOnHold 查询冻结期已结束的结算单
func (r *GormPayoutRepository) ListDueOnHold(status string, now time.Time, limit int) ([]models.Payout, error) {
	var rows []models.Payout
	query := r.db.Where("status = ? AND hold_until IS NOT NULL AND hold_until <= ?", status, now).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// List 分页查询结算单
func (r *GormPayoutRepository) List(filter PayoutListFilter) ([]models.Payout, int64, error) {
	query := r.db.Model(&models.Payout{})
	if filter.AffiliateID != 0 {
		query = query.Where("affiliate_id = ?", filter.AffiliateID)
	}
	if filter.ProgramID != 0 {
		query = query.Where("program_id = ?", filter.ProgramID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Payout
	if err := applyPagination(query.Order("id DESC"), filter.Page, filter.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// SumByAffiliate 汇总推广者指定状态的结算金额
func (r *GormPayoutRepository) SumByAffiliate(affiliateID uint, statuses []string) (decimal.Decimal, error) {
	if affiliateID == 0 || len(statuses) == 0 {
		return decimal.Zero, nil
	}
	var row struct {
		Total decimal.Decimal `gorm:"column:total"`
	}
	if err := r.db.Model(&models.Payout{}).
		Where("affiliate_id = ? AND status IN ?", affiliateID, statuses).
		Select("COALESCE(SUM(amount), 0) AS total").
		Scan(&row).Error; err != nil {
		return decimal.Zero, err
	}
	return row.Total.Round(2), nil
}
