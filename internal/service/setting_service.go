package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"
	"github.com/affiliflow/internal/repository"
)

const (
	pipelineHoldDaysMin      = 0
	pipelineHoldDaysMax      = 30
	pipelineCommissionPctMin = 0
	pipelineCommissionPctMax = 100
	defaultPipelineHoldDays  = 7
)

// PipelineSetting 运营可调的流水线参数
type PipelineSetting struct {
	HoldDays              int     `json:"hold_days"`
	FallbackCommissionPct float64 `json:"fallback_commission_pct"`
}

// NormalizePipelineSetting 归一化流水线参数（冻结天数 0-30，兜底比例 0-100）
func NormalizePipelineSetting(setting PipelineSetting) PipelineSetting {
	if setting.HoldDays < pipelineHoldDaysMin {
		setting.HoldDays = pipelineHoldDaysMin
	}
	if setting.HoldDays > pipelineHoldDaysMax {
		setting.HoldDays = pipelineHoldDaysMax
	}
	setting.FallbackCommissionPct = math.Round(setting.FallbackCommissionPct*10000) / 10000
	if setting.FallbackCommissionPct < pipelineCommissionPctMin {
		setting.FallbackCommissionPct = pipelineCommissionPctMin
	}
	if setting.FallbackCommissionPct > pipelineCommissionPctMax {
		setting.FallbackCommissionPct = pipelineCommissionPctMax
	}
	return setting
}

// ValidatePipelineSetting 校验运营提交的参数
func ValidatePipelineSetting(setting PipelineSetting) error {
	if setting.HoldDays < pipelineHoldDaysMin || setting.HoldDays > pipelineHoldDaysMax {
		return fmt.Errorf("%w: hold_days must be between 0 and 30", ErrPipelineConfigInvalid)
	}
	if setting.FallbackCommissionPct < pipelineCommissionPctMin || setting.FallbackCommissionPct > pipelineCommissionPctMax {
		return fmt.Errorf("%w: fallback_commission_pct must be between 0 and 100", ErrPipelineConfigInvalid)
	}
	return nil
}

// SettingService 运营参数服务
type SettingService struct {
	repo     repository.SettingRepository
	defaults PipelineSetting
}

// NewSettingService 创建运营参数服务，defaults 来自配置文件
func NewSettingService(repo repository.SettingRepository, defaults PipelineSetting) *SettingService {
	if defaults.HoldDays == 0 && defaults.FallbackCommissionPct == 0 {
		defaults.HoldDays = defaultPipelineHoldDays
	}
	return &SettingService{repo: repo, defaults: NormalizePipelineSetting(defaults)}
}

// GetPipelineSetting 获取流水线参数（settings 为空时回退配置默认值）
func (s *SettingService) GetPipelineSetting() (PipelineSetting, error) {
	if s == nil {
		return NormalizePipelineSetting(PipelineSetting{HoldDays: defaultPipelineHoldDays}), nil
	}
	fallback := s.defaults
	if s.repo == nil {
		return fallback, nil
	}
	row, err := s.repo.GetByKey(constants.SettingKeyPipelineConfig)
	if err != nil {
		return fallback, storeError("get pipeline setting", err)
	}
	if row == nil {
		return fallback, nil
	}
	return pipelineSettingFromJSON(row.ValueJSON, fallback), nil
}

// UpdatePipelineSetting 更新流水线参数
func (s *SettingService) UpdatePipelineSetting(setting PipelineSetting) (PipelineSetting, error) {
	if err := ValidatePipelineSetting(setting); err != nil {
		return PipelineSetting{}, err
	}
	normalized := NormalizePipelineSetting(setting)
	value := models.JSON{
		constants.SettingFieldHoldDays:               normalized.HoldDays,
		constants.SettingFieldFallbackCommissionRate: normalized.FallbackCommissionPct,
	}
	if _, err := s.repo.Upsert(constants.SettingKeyPipelineConfig, value); err != nil {
		return PipelineSetting{}, storeError("update pipeline setting", err)
	}
	return normalized, nil
}

func pipelineSettingFromJSON(raw models.JSON, fallback PipelineSetting) PipelineSetting {
	result := fallback
	if value, ok := raw[constants.SettingFieldHoldDays]; ok {
		if parsed, err := parseSettingInt(value); err == nil {
			result.HoldDays = parsed
		}
	}
	if value, ok := raw[constants.SettingFieldFallbackCommissionRate]; ok {
		if parsed, err := parseSettingFloat(value); err == nil {
			result.FallbackCommissionPct = parsed
		}
	}
	return NormalizePipelineSetting(result)
}

func parseSettingInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		return int(f), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, fmt.Errorf("empty string")
		}
		return strconv.Atoi(trimmed)
	default:
		return 0, fmt.Errorf("unsupported value type")
	}
}

func parseSettingFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, fmt.Errorf("empty string")
		}
		return strconv.ParseFloat(trimmed, 64)
	default:
		return 0, fmt.Errorf("unsupported value type")
	}
}
