package domain

import (
	"strings"
	"time"
)

// Snapshot carries the latest battery/solar telemetry for a trailer.
type Snapshot struct {
	SOC            *float64  `json:"soc"`
	BatteryVoltage *float64  `json:"battery_voltage"`
	SolarWatts     *float64  `json:"solar_watts"`
	LoadWatts      *float64  `json:"load_watts"`
	Alarms         []string  `json:"alarms,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Stale reports whether the snapshot is older than maxAge. A snapshot without
// a timestamp is never considered stale.
func (s *Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if s == nil {
		return true
	}
	if maxAge <= 0 || s.Timestamp.IsZero() || now.IsZero() {
		return false
	}
	return now.Sub(s.Timestamp) > maxAge
}

// Pepwave carries cellular gateway telemetry.
type Pepwave struct {
	Name         string    `json:"name"`
	SerialNumber string    `json:"serial_number,omitempty"`
	Online       bool      `json:"online"`
	Carrier      string    `json:"carrier,omitempty"`
	SignalBars   *int      `json:"signal_bars"`
	RSRP         *float64  `json:"rsrp"`
	LastSeen     time.Time `json:"last_seen"`
}

// Trailer is one power trailer. Snapshot and Pepwave are nil when there is no
// recent data.
type Trailer struct {
	SiteID   string    `json:"site_id"`
	Name     string    `json:"name"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Pepwave  *Pepwave  `json:"pepwave,omitempty"`
}

// NormalizeName folds a trailer or device name for join lookups.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// StatusPolicy derives a trailer status from its telemetry.
type StatusPolicy struct {
	StaleAfter     time.Duration
	CriticalSOC    float64
	WarningSOC     float64
	WeakSignalBars int
}

// DefaultStatusPolicy returns the thresholds used by the dashboard.
func DefaultStatusPolicy() StatusPolicy {
	return StatusPolicy{
		StaleAfter:     15 * time.Minute,
		CriticalSOC:    10,
		WarningSOC:     25,
		WeakSignalBars: 1,
	}
}

// Evaluate returns the status of t at now.
//
// Offline: no telemetry at all, gateway reported offline, or a stale snapshot.
// Alarm: active alarms or SOC below CriticalSOC.
// Warning: SOC below WarningSOC or weak cellular signal.
func (p StatusPolicy) Evaluate(t Trailer, now time.Time) Status {
	if t.Snapshot == nil && t.Pepwave == nil {
		return StatusOffline
	}
	if t.Pepwave != nil && !t.Pepwave.Online {
		return StatusOffline
	}
	if t.Snapshot != nil && t.Snapshot.Stale(now, p.StaleAfter) {
		return StatusOffline
	}

	status := StatusOK
	if snap := t.Snapshot; snap != nil {
		if len(snap.Alarms) > 0 {
			return StatusAlarm
		}
		if snap.SOC != nil {
			switch {
			case *snap.SOC < p.CriticalSOC:
				return StatusAlarm
			case *snap.SOC < p.WarningSOC:
				status = StatusWarning
			}
		}
	}
	if pw := t.Pepwave; pw != nil && pw.SignalBars != nil && *pw.SignalBars <= p.WeakSignalBars {
		status = Worse(status, StatusWarning)
	}
	return status
}
