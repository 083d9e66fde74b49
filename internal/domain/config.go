package domain

import "encoding/json"

// TaskConfig is the typed payload carried by a ScheduledTask. Each task
// type has exactly one config shape; DecodeConfig picks it by type so a
// malformed payload fails at decode time, not mid-run.
type TaskConfig interface {
	taskConfig()
}

// ThresholdConfig drives the stale-contact and job-expiry checks.
type ThresholdConfig struct {
	DaysThreshold int `json:"days_threshold"`
}

func (ThresholdConfig) taskConfig() {}

// ReminderConfig drives reminder dispatch.
type ReminderConfig struct {
	WindowHours int `json:"window_hours"`
}

func (ReminderConfig) taskConfig() {}

// ManualConfig is the free-form payload of a manually created task.
type ManualConfig struct {
	Note string `json:"note,omitempty"`
}

func (ManualConfig) taskConfig() {}

// DecodeConfig unmarshals a ScheduledTask's raw config into the variant
// for its task type. A nil config yields the zero-valued variant.
func DecodeConfig(t TaskType, raw []byte) (TaskConfig, error) {
	decode := func(v TaskConfig) (TaskConfig, error) {
		if len(raw) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, Invalid("config", err.Error())
		}
		return v, nil
	}
	switch t {
	case TypeJobExpiry, TypeCandidateContact, TypeCustomerContact, TypeProspectContact:
		return decode(&ThresholdConfig{})
	case TypeReminderDispatch:
		return decode(&ReminderConfig{})
	case TypeManual:
		return decode(&ManualConfig{})
	default:
		return nil, Invalid("task_type", "unknown task type "+string(t))
	}
}
