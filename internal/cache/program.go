package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/affiliflow/internal/models"
)

const programCacheTTL = 5 * time.Minute

// ProgramSnapshot 推广计划快照，仅缓存转化流水线需要的字段
type ProgramSnapshot struct {
	ID                   uint   `json:"id"`
	MerchantID           uint   `json:"merchant_id"`
	Name                 string `json:"name"`
	DefaultCommissionPct string `json:"default_commission_pct"`
	AttributionModel     string `json:"attribution_model"`
	Currency             string `json:"currency"`
	Status               string `json:"status"`
	MerchantNotifyEmail  string `json:"merchant_notify_email"`
}

func programKey(programID uint) string {
	return fmt.Sprintf("program:%d", programID)
}

// BuildProgramSnapshot 从计划模型构建快照
func BuildProgramSnapshot(program *models.Program) *ProgramSnapshot {
	if program == nil {
		return nil
	}
	return &ProgramSnapshot{
		ID:                   program.ID,
		MerchantID:           program.MerchantID,
		Name:                 program.Name,
		DefaultCommissionPct: program.DefaultCommissionPct.String(),
		AttributionModel:     program.AttributionModel,
		Currency:             program.Currency,
		Status:               program.Status,
		MerchantNotifyEmail:  program.Merchant.NotifyEmail,
	}
}

// GetProgram 读取计划快照
func GetProgram(ctx context.Context, programID uint) (*ProgramSnapshot, bool, error) {
	if programID == 0 {
		return nil, false, nil
	}
	var snapshot ProgramSnapshot
	hit, err := GetJSON(ctx, programKey(programID), &snapshot)
	if err != nil || !hit {
		return nil, hit, err
	}
	return &snapshot, true, nil
}

// SetProgram 写入计划快照
func SetProgram(ctx context.Context, snapshot *ProgramSnapshot) error {
	if snapshot == nil || snapshot.ID == 0 {
		return nil
	}
	return SetJSON(ctx, programKey(snapshot.ID), snapshot, programCacheTTL)
}
