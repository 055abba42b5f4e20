package repository

import (
	"context"
	"errors"
	"time"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"

	"gorm.io/gorm"
)

// TrackingRepository 点击与触点数据访问接口
type TrackingRepository interface {
	WithContext(ctx context.Context) TrackingRepository
	CreateClick(click *models.Click) error
	GetClickByID(id uint) (*models.Click, error)
	CountClicksByIPSince(ip string, since time.Time) (int64, error)
	CreateTouchPoint(tp *models.TouchPoint) error
	ListTouchPointsBySession(sessionID string, programID uint) ([]models.TouchPoint, error)
	GetLatestClickTouchPoint(sessionID string, programID, affiliateID uint) (*models.TouchPoint, error)
}

// GormTrackingRepository GORM 实现
type GormTrackingRepository struct {
	db *gorm.DB
}

// NewTrackingRepository 创建点击与触点仓库
func NewTrackingRepository(db *gorm.DB) *GormTrackingRepository {
	return &GormTrackingRepository{db: db}
}

// WithContext 绑定请求上下文
func (r *GormTrackingRepository) WithContext(ctx context.Context) TrackingRepository {
	if ctx == nil {
		return r
	}
	return &GormTrackingRepository{db: r.db.WithContext(ctx)}
}

// CreateClick 写入点击
func (r *GormTrackingRepository) CreateClick(click *models.Click) error {
	return r.db.Create(click).Error
}

// GetClickByID 按ID获取点击
func (r *GormTrackingRepository) GetClickByID(id uint) (*models.Click, error) {
	if id == 0 {
		return nil, nil
	}
	var click models.Click
	if err := r.db.First(&click, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &click, nil
}

// CountClicksByIPSince 统计同一 IP 在窗口内的点击数
func (r *GormTrackingRepository) CountClicksByIPSince(ip string, since time.Time) (int64, error) {
	if ip == "" {
		return 0, nil
	}
	var total int64
	if err := r.db.Model(&models.Click{}).
		Where("ip_address = ? AND created_at >= ?", ip, since).
		Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// CreateTouchPoint 追加触点
func (r *GormTrackingRepository) CreateTouchPoint(tp *models.TouchPoint) error {
	return r.db.Create(tp).Error
}

// ListTouchPointsBySession 按创建时间升序返回会话触点
func (r *GormTrackingRepository) ListTouchPointsBySession(sessionID string, programID uint) ([]models.TouchPoint, error) {
	var rows []models.TouchPoint
	query := r.db.Where("session_id = ?", sessionID)
	if programID != 0 {
		query = query.Where("program_id = ?", programID)
	}
	if err := query.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetLatestClickTouchPoint 获取会话内某推广者最近一次带点击的触点
func (r *GormTrackingRepository) GetLatestClickTouchPoint(sessionID string, programID, affiliateID uint) (*models.TouchPoint, error) {
	var tp models.TouchPoint
	err := r.db.Where("session_id = ? AND program_id = ? AND affiliate_id = ? AND type = ? AND click_id IS NOT NULL",
		sessionID, programID, affiliateID, constants.TouchPointTypeClick).
		Order("created_at DESC").Order("id DESC").
		First(&tp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tp, nil
}
