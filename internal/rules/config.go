package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// thresholdsFile is the on-disk override format. Only fields present in the
// file replace defaults, so a partial file is fine.
type thresholdsFile struct {
	Rules struct {
		LongMaxFearGreed  *float64 `yaml:"long_max_fear_greed"`
		ShortMinFearGreed *float64 `yaml:"short_min_fear_greed"`
		MinATRPercent     *float64 `yaml:"min_atr_percent"`
		MinVolumeRatio    *float64 `yaml:"min_volume_ratio"`
		MinEMAGap         *float64 `yaml:"min_ema_gap"`
		MaxRSI            *float64 `yaml:"max_rsi"`
		MinRSI            *float64 `yaml:"min_rsi"`
		MaxOpenTrades     *int     `yaml:"max_open_trades"`
	} `yaml:"rules"`
}

// LoadThresholds reads rule thresholds from a YAML file, falling back to
// defaults for any field the file omits. An empty path returns the defaults.
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read rules config: %w", err)
	}

	var file thresholdsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return t, fmt.Errorf("parse rules config: %w", err)
	}

	r := file.Rules
	if r.LongMaxFearGreed != nil {
		t.LongMaxFearGreed = *r.LongMaxFearGreed
	}
	if r.ShortMinFearGreed != nil {
		t.ShortMinFearGreed = *r.ShortMinFearGreed
	}
	if r.MinATRPercent != nil {
		t.MinATRPercent = *r.MinATRPercent
	}
	if r.MinVolumeRatio != nil {
		t.MinVolumeRatio = *r.MinVolumeRatio
	}
	if r.MinEMAGap != nil {
		t.MinEMAGap = *r.MinEMAGap
	}
	if r.MaxRSI != nil {
		t.MaxRSI = *r.MaxRSI
	}
	if r.MinRSI != nil {
		t.MinRSI = *r.MinRSI
	}
	if r.MaxOpenTrades != nil {
		t.MaxOpenTrades = *r.MaxOpenTrades
	}
	return t, nil
}
