package domain

import "strings"

// Status is the health of a trailer or group.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusAlarm   Status = "alarm"
	StatusOffline Status = "offline"
)

// Severity ranks statuses: offline > alarm > warning > ok > unknown.
func (s Status) Severity() int {
	switch s {
	case StatusOK:
		return 1
	case StatusWarning:
		return 2
	case StatusAlarm:
		return 3
	case StatusOffline:
		return 4
	default:
		return 0
	}
}

// Worse returns the more severe of a and b. Ties keep a.
func Worse(a, b Status) Status {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// ParseStatus maps upstream spellings onto Status.
func ParseStatus(value string) Status {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ok", "online", "normal", "healthy":
		return StatusOK
	case "warning", "warn", "at_risk":
		return StatusWarning
	case "alarm", "critical", "error":
		return StatusAlarm
	case "offline", "down":
		return StatusOffline
	default:
		return StatusUnknown
	}
}
