package repository

import (
	"context"
	"errors"

	"github.com/affiliflow/internal/models"

	"gorm.io/gorm"
)

// ProgramRepository 推广计划、商户与推广者只读访问接口
type ProgramRepository interface {
	WithContext(ctx context.Context) ProgramRepository
	GetByID(id uint) (*models.Program, error)
	GetMerchantByID(id uint) (*models.Merchant, error)
	GetAffiliateByID(id uint) (*models.Affiliate, error)
}

// GormProgramRepository GORM 实现
type GormProgramRepository struct {
	db *gorm.DB
}

// NewProgramRepository 创建推广计划仓库
func NewProgramRepository(db *gorm.DB) *GormProgramRepository {
	return &GormProgramRepository{db: db}
}

// WithContext 绑定请求上下文
func (r *GormProgramRepository) WithContext(ctx context.Context) ProgramRepository {
	if ctx == nil {
		return r
	}
	return &GormProgramRepository{db: r.db.WithContext(ctx)}
}

// GetByID 按ID获取推广计划（含商户）
func (r *GormProgramRepository) GetByID(id uint) (*models.Program, error) {
	if id == 0 {
		return nil, nil
	}
	var program models.Program
	if err := r.db.Preload("Merchant").First(&program, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &program, nil
}

// GetMerchantByID 按ID获取商户
func (r *GormProgramRepository) GetMerchantByID(id uint) (*models.Merchant, error) {
	if id == 0 {
		return nil, nil
	}
	var merchant models.Merchant
	if err := r.db.First(&merchant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &merchant, nil
}

// GetAffiliateByID 按ID获取推广者
func (r *GormProgramRepository) GetAffiliateByID(id uint) (*models.Affiliate, error) {
	if id == 0 {
		return nil, nil
	}
	var affiliate models.Affiliate
	if err := r.db.First(&affiliate, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &affiliate, nil
}
