package repository

import (
	"errors"

	"github.com/affiliflow/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingRepository 运营参数数据访问接口
type SettingRepository interface {
	GetByKey(key string) (*models.Setting, error)
	Upsert(key string, value models.JSON) (*models.Setting, error)
}

// GormSettingRepository GORM 实现
type GormSettingRepository struct {
	db *gorm.DB
}

// NewSettingRepository 创建设置仓库
func NewSettingRepository(db *gorm.DB) *GormSettingRepository {
	return &GormSettingRepository{db: db}
}

// GetByKey 获取设置
func (r *GormSettingRepository) GetByKey(key string) (*models.Setting, error) {
	var setting models.Setting
	if err := r.db.Where("key = ?", key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &setting, nil
}

// Upsert 写入设置（按键覆盖）
func (r *GormSettingRepository) Upsert(key string, value models.JSON) (*models.Setting, error) {
	setting := &models.Setting{Key: key, ValueJSON: value}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value_json"}),
	}).Create(setting).Error
	if err != nil {
		return nil, err
	}
	return setting, nil
}
