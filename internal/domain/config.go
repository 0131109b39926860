package domain

import (
	"fmt"
	"time"
)

// MonitoringConfig — пороги и расписание движка мониторинга.
// Мутируется только целиком через ApplyPatch: либо весь патч валиден и
// применяется, либо остаётся прежняя конфигурация.
type MonitoringConfig struct {
	// Пороги задержки доставки, секунды
	LatencyWarningSeconds  float64 `json:"latency_warning_seconds" mapstructure:"latency_warning_seconds"`
	LatencyCriticalSeconds float64 `json:"latency_critical_seconds" mapstructure:"latency_critical_seconds"`

	// Пороги очереди недоставленных команд
	BacklogWarningCount  int64 `json:"backlog_warning_count" mapstructure:"backlog_warning_count"`
	BacklogCriticalCount int64 `json:"backlog_critical_count" mapstructure:"backlog_critical_count"`

	// Расписание
	PollingInterval     time.Duration `json:"polling_interval" mapstructure:"polling_interval"`
	EnableTracerTokens  bool          `json:"enable_tracer_tokens" mapstructure:"enable_tracer_tokens"`
	TracerTokenInterval time.Duration `json:"tracer_token_interval" mapstructure:"tracer_token_interval"`

	// Ретеншн
	HistoryRetentionCount int           `json:"history_retention_count" mapstructure:"history_retention_count"`
	AlertRetention        time.Duration `json:"alert_retention" mapstructure:"alert_retention"`
}

// DefaultMonitoringConfig — дефолты из продуктовых требований.
func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		LatencyWarningSeconds:  300,
		LatencyCriticalSeconds: 900,
		BacklogWarningCount:    10_000,
		BacklogCriticalCount:   50_000,
		PollingInterval:        60 * time.Second,
		EnableTracerTokens:     true,
		TracerTokenInterval:    15 * time.Minute,
		HistoryRetentionCount:  100,
		AlertRetention:         24 * time.Hour,
	}
}

// Validate проверяет согласованность порогов и интервалов.
func (c MonitoringConfig) Validate() error {
	if c.LatencyWarningSeconds <= 0 || c.LatencyCriticalSeconds <= c.LatencyWarningSeconds {
		return fmt.Errorf("latency thresholds invalid: warning=%.0f critical=%.0f",
			c.LatencyWarningSeconds, c.LatencyCriticalSeconds)
	}
	if c.BacklogWarningCount <= 0 || c.BacklogCriticalCount <= c.BacklogWarningCount {
		return fmt.Errorf("backlog thresholds invalid: warning=%d critical=%d",
			c.BacklogWarningCount, c.BacklogCriticalCount)
	}
	if c.PollingInterval < time.Second {
		return fmt.Errorf("polling interval too small: %v", c.PollingInterval)
	}
	if c.EnableTracerTokens && c.TracerTokenInterval < time.Minute {
		return fmt.Errorf("tracer token interval too small: %v", c.TracerTokenInterval)
	}
	if c.HistoryRetentionCount < 1 || c.HistoryRetentionCount > 10_000 {
		return fmt.Errorf("history retention out of range: %d", c.HistoryRetentionCount)
	}
	if c.AlertRetention < time.Hour {
		return fmt.Errorf("alert retention too small: %v", c.AlertRetention)
	}
	return nil
}

// ConfigPatch — частичное обновление с command-поверхности.
// nil-поле означает "не трогать".
type ConfigPatch struct {
	LatencyWarningSeconds  *float64       `json:"latency_warning_seconds,omitempty"`
	LatencyCriticalSeconds *float64       `json:"latency_critical_seconds,omitempty"`
	BacklogWarningCount    *int64         `json:"backlog_warning_count,omitempty"`
	BacklogCriticalCount   *int64         `json:"backlog_critical_count,omitempty"`
	PollingInterval        *time.Duration `json:"polling_interval,omitempty"`
	EnableTracerTokens     *bool          `json:"enable_tracer_tokens,omitempty"`
	TracerTokenInterval    *time.Duration `json:"tracer_token_interval,omitempty"`
	HistoryRetentionCount  *int           `json:"history_retention_count,omitempty"`
	AlertRetention         *time.Duration `json:"alert_retention,omitempty"`
}

// ApplyPatch накладывает патч на копию конфигурации и валидирует результат.
// При ошибке валидации возвращается исходная конфигурация без изменений.
func (c MonitoringConfig) ApplyPatch(p ConfigPatch) (MonitoringConfig, error) {
	next := c
	if p.LatencyWarningSeconds != nil {
		next.LatencyWarningSeconds = *p.LatencyWarningSeconds
	}
	if p.LatencyCriticalSeconds != nil {
		next.LatencyCriticalSeconds = *p.LatencyCriticalSeconds
	}
	if p.BacklogWarningCount != nil {
		next.BacklogWarningCount = *p.BacklogWarningCount
	}
	if p.BacklogCriticalCount != nil {
		next.BacklogCriticalCount = *p.BacklogCriticalCount
	}
	if p.PollingInterval != nil {
		next.PollingInterval = *p.PollingInterval
	}
	if p.EnableTracerTokens != nil {
		next.EnableTracerTokens = *p.EnableTracerTokens
	}
	if p.TracerTokenInterval != nil {
		next.TracerTokenInterval = *p.TracerTokenInterval
	}
	if p.HistoryRetentionCount != nil {
		next.HistoryRetentionCount = *p.HistoryRetentionCount
	}
	if p.AlertRetention != nil {
		next.AlertRetention = *p.AlertRetention
	}
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}
