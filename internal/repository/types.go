package repository

import "time"

// PayoutListFilter 查询结算单列表的过滤条件
type PayoutListFilter struct {
	Page        int
	PageSize    int
	AffiliateID uint
	ProgramID   uint
	Status      string
}

// ConversionListFilter 查询转化列表的过滤条件
type ConversionListFilter struct {
	Page        int
	PageSize    int
	ProgramID   uint
	AffiliateID uint
	Status      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// WebhookDeliveryListFilter 查询投递记录的过滤条件
type WebhookDeliveryListFilter struct {
	Page       int
	PageSize   int
	EndpointID uint
	Event      string
	Status     string
}
