package repository

import (
	"context"
	"errors"
	"time"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"

	"gorm.io/gorm"
)

// WebhookRepository Webhook 端点与投递数据访问接口
type WebhookRepository interface {
	WithContext(ctx context.Context) WebhookRepository
	ListActiveEndpointsByMerchant(merchantID uint) ([]models.WebhookEndpoint, error)
	GetEndpointByID(id uint) (*models.WebhookEndpoint, error)
	CreateEndpoint(endpoint *models.WebhookEndpoint) error
	CreateDeliveries(deliveries []models.WebhookDelivery) error
	GetDeliveryByID(id uint) (*models.WebhookDelivery, error)
	UpdateDelivery(id uint, updates map[string]interface{}) error
	ListDueRetries(now, pendingBefore time.Time, maxAttempts, limit int) ([]models.WebhookDelivery, error)
	ListDeliveries(filter WebhookDeliveryListFilter) ([]models.WebhookDelivery, int64, error)
}

// GormWebhookRepository GORM 实现
type GormWebhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository 创建 Webhook 仓库
func NewWebhookRepository(db *gorm.DB) *GormWebhookRepository {
	return &GormWebhookRepository{db: db}
}

// WithContext 绑定请求上下文
func (r *GormWebhookRepository) WithContext(ctx context.Context) WebhookRepository {
	if ctx == nil {
		return r
	}
	return &GormWebhookRepository{db: r.db.WithContext(ctx)}
}

// ListActiveEndpointsByMerchant 查询商户启用中的端点
func (r *GormWebhookRepository) ListActiveEndpointsByMerchant(merchantID uint) ([]models.WebhookEndpoint, error) {
	var rows []models.WebhookEndpoint
	if err := r.db.Where("merchant_id = ? AND status = ?", merchantID, constants.WebhookEndpointStatusActive).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetEndpointByID 按ID获取端点
func (r *GormWebhookRepository) GetEndpointByID(id uint) (*models.WebhookEndpoint, error) {
	if id == 0 {
		return nil, nil
	}
	var endpoint models.WebhookEndpoint
	if err := r.db.First(&endpoint, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &endpoint, nil
}

// CreateEndpoint 创建端点
func (r *GormWebhookRepository) CreateEndpoint(endpoint *models.WebhookEndpoint) error {
	return r.db.Create(endpoint).Error
}

// CreateDeliveries 批量创建投递记录
func (r *GormWebhookRepository) CreateDeliveries(deliveries []models.WebhookDelivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	return r.db.Omit("Endpoint").Create(&deliveries).Error
}

// GetDeliveryByID 按ID获取投递记录（含端点）
func (r *GormWebhookRepository) GetDeliveryByID(id uint) (*models.WebhookDelivery, error) {
	if id == 0 {
		return nil, nil
	}
	var delivery models.WebhookDelivery
	if err := r.db.Preload("Endpoint").First(&delivery, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &delivery, nil
}

// UpdateDelivery 更新投递记录
func (r *GormWebhookRepository) UpdateDelivery(id uint, updates map[string]interface{}) error {
	if id == 0 || len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.WebhookDelivery{}).Where("id = ?", id).Updates(updates).Error
}

// ListDueRetries 查询到期待重试的失败投递，以及长时间停留在 pending 的投递（端点需处于启用状态）
func (r *GormWebhookRepository) ListDueRetries(now, pendingBefore time.Time, maxAttempts, limit int) ([]models.WebhookDelivery, error) {
	query := r.db.Model(&models.WebhookDelivery{}).
		Select("webhook_deliveries.*").
		Joins("JOIN webhook_endpoints ON webhook_endpoints.id = webhook_deliveries.endpoint_id").
		Where(
			r.db.Where("webhook_deliveries.status = ? AND webhook_deliveries.next_retry_at IS NOT NULL AND webhook_deliveries.next_retry_at <= ?",
				constants.WebhookDeliveryStatusFailed, now).
				Or("webhook_deliveries.status = ? AND webhook_deliveries.updated_at <= ?",
					constants.WebhookDeliveryStatusPending, pendingBefore),
		).
		Where("webhook_endpoints.status = ?", constants.WebhookEndpointStatusActive)
	if maxAttempts > 0 {
		query = query.Where("webhook_deliveries.attempts < ?", maxAttempts)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.WebhookDelivery
	if err := query.Order("webhook_deliveries.id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListDeliveries 分页查询投递记录
func (r *GormWebhookRepository) ListDeliveries(filter WebhookDeliveryListFilter) ([]models.WebhookDelivery, int64, error) {
	query := r.db.Model(&models.WebhookDelivery{})
	if filter.EndpointID != 0 {
		query = query.Where("endpoint_id = ?", filter.EndpointID)
	}
	if filter.Event != "" {
		query = query.Where("event = ?", filter.Event)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.WebhookDelivery
	if err := applyPagination(query.Order("id DESC"), filter.Page, filter.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
