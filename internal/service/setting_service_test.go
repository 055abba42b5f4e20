package service

import (
	"errors"
	"testing"

	"github.com/affiliflow/internal/constants"
	"github.com/affiliflow/internal/models"
)

type memorySettingRepo struct {
	rows map[string]models.Setting
}

func newMemorySettingRepo() *memorySettingRepo {
	return &memorySettingRepo{rows: map[string]models.Setting{}}
}

func (r *memorySettingRepo) GetByKey(key string) (*models.Setting, error) {
	row, ok := r.rows[key]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (r *memorySettingRepo) Upsert(key string, value models.JSON) (*models.Setting, error) {
	row := models.Setting{Key: key, ValueJSON: value}
	r.rows[key] = row
	return &row, nil
}

func TestNormalizePipelineSetting(t *testing.T) {
	got := NormalizePipelineSetting(PipelineSetting{HoldDays: 45, FallbackCommissionPct: -1})
	if got.HoldDays != 30 || got.FallbackCommissionPct != 0 {
		t.Fatalf("unexpected normalization %+v", got)
	}
	got = NormalizePipelineSetting(PipelineSetting{HoldDays: -2, FallbackCommissionPct: 12.345678})
	if got.HoldDays != 0 || got.FallbackCommissionPct != 12.3457 {
		t.Fatalf("unexpected normalization %+v", got)
	}
}

func TestSettingServiceFallsBackToConfigDefaults(t *testing.T) {
	repo := newMemorySettingRepo()
	svc := NewSettingService(repo, PipelineSetting{HoldDays: 3, FallbackCommissionPct: 6})
	got, err := svc.GetPipelineSetting()
	if err != nil || got.HoldDays != 3 || got.FallbackCommissionPct != 6 {
		t.Fatalf("want config defaults, got %+v %v", got, err)
	}

	if _, err := svc.UpdatePipelineSetting(PipelineSetting{HoldDays: 31}); !errors.Is(err, ErrPipelineConfigInvalid) {
		t.Fatalf("want invalid config, got %v", err)
	}
	if _, err := svc.UpdatePipelineSetting(PipelineSetting{HoldDays: 14, FallbackCommissionPct: 7.5}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err = svc.GetPipelineSetting()
	if err != nil || got.HoldDays != 14 || got.FallbackCommissionPct != 7.5 {
		t.Fatalf("want persisted setting, got %+v %v", got, err)
	}
}

func TestPipelineSettingFromJSONAcceptsStrings(t *testing.T) {
	raw := models.JSON{
		constants.SettingFieldHoldDays:               "10",
		constants.SettingFieldFallbackCommissionRate: "4.5",
	}
	got := pipelineSettingFromJSON(raw, PipelineSetting{HoldDays: 7})
	if got.HoldDays != 10 || got.FallbackCommissionPct != 4.5 {
		t.Fatalf("unexpected parse %+v", got)
	}
	got = pipelineSettingFromJSON(models.JSON{constants.SettingFieldHoldDays: "soon"}, PipelineSetting{HoldDays: 7})
	if got.HoldDays != 7 {
		t.Fatalf("bad value should keep fallback, got %+v", got)
	}
}
