package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"fleet-dashboard/internal/fleet/domain"
)

// decodeCollection extracts the record list from a response that is either a
// bare array or an object carrying "records" or one of the named fields.
func decodeCollection(body json.RawMessage, fields ...string) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("upstream: decode collection: %w", err)
		}
		return items, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("upstream: decode collection: %w", err)
	}
	for _, field := range append([]string{"records"}, fields...) {
		raw, ok := envelope[field]
		if !ok {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil, nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("upstream: decode %s: %w", field, err)
		}
		return items, nil
	}
	return nil, ErrUnexpectedShape
}

// flexFloat accepts a JSON number, a numeric string or null.
type flexFloat struct {
	value *float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		f.value = nil
		return nil
	}
	text := strings.Trim(string(data), `"`)
	if text == "" {
		f.value = nil
		return nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		f.value = nil
		return nil
	}
	f.value = &v
	return nil
}

func firstFloat(values ...flexFloat) *float64 {
	for _, v := range values {
		if v.value != nil {
			out := *v.value
			return &out
		}
	}
	return nil
}

// flexID accepts a string or numeric identifier.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	*id = flexID(strings.Trim(string(data), `"`))
	return nil
}

func firstString[T ~string](values ...T) string {
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

func firstTime(values ...domain.Timestamp) domain.Timestamp {
	for _, v := range values {
		if !v.IsZero() {
			return v
		}
	}
	return domain.Timestamp{}
}

type trailerWire struct {
	SiteID   flexID        `json:"site_id"`
	ID       flexID        `json:"id"`
	Name     string        `json:"name"`
	SiteName string        `json:"site_name"`
	Snapshot *snapshotWire `json:"snapshot"`
	Pepwave  *pepwaveWire  `json:"pepwave"`
}

func (w trailerWire) toDomain() domain.Trailer {
	t := domain.Trailer{
		SiteID: firstString(w.SiteID, w.ID),
		Name:   firstString(w.Name, w.SiteName),
	}
	if w.Snapshot != nil {
		snap := w.Snapshot.toDomain()
		t.Snapshot = &snap
	}
	if w.Pepwave != nil {
		pw := w.Pepwave.toDomain()
		if pw.Name == "" {
			pw.Name = t.Name
		}
		t.Pepwave = &pw
	}
	return t
}

type snapshotWire struct {
	SOC            flexFloat        `json:"soc"`
	BatterySOC     flexFloat        `json:"battery_soc"`
	StateOfCharge  flexFloat        `json:"state_of_charge"`
	BatteryVoltage flexFloat        `json:"battery_voltage"`
	Voltage        flexFloat        `json:"voltage"`
	SolarWatts     flexFloat        `json:"solar_watts"`
	SolarPower     flexFloat        `json:"solar_power"`
	LoadWatts      flexFloat        `json:"load_watts"`
	LoadPower      flexFloat        `json:"load_power"`
	Alarms         []string         `json:"alarms"`
	Timestamp      domain.Timestamp `json:"timestamp"`
	TS             domain.Timestamp `json:"ts"`
	UpdatedAt      domain.Timestamp `json:"updated_at"`
}

func (w snapshotWire) toDomain() domain.Snapshot {
	return domain.Snapshot{
		SOC:            firstFloat(w.SOC, w.BatterySOC, w.StateOfCharge),
		BatteryVoltage: firstFloat(w.BatteryVoltage, w.Voltage),
		SolarWatts:     firstFloat(w.SolarWatts, w.SolarPower),
		LoadWatts:      firstFloat(w.LoadWatts, w.LoadPower),
		Alarms:         append([]string(nil), w.Alarms...),
		Timestamp:      firstTime(w.Timestamp, w.TS, w.UpdatedAt).Time,
	}
}

type pepwaveWire struct {
	Name         string           `json:"name"`
	DeviceName   string           `json:"device_name"`
	SN           string           `json:"sn"`
	SerialNumber string           `json:"serial_number"`
	Online       *bool            `json:"online"`
	Status       string           `json:"status"`
	Carrier      string           `json:"carrier"`
	SignalBars   flexFloat        `json:"signal_bars"`
	Signal       flexFloat        `json:"signal"`
	RSRP         flexFloat        `json:"rsrp"`
	LastSeen     domain.Timestamp `json:"last_seen"`
	LastOnline   domain.Timestamp `json:"last_online"`
	UpdatedAt    domain.Timestamp `json:"updated_at"`
}

func (w pepwaveWire) toDomain() domain.Pepwave {
	pw := domain.Pepwave{
		Name:         firstString(w.Name, w.DeviceName),
		SerialNumber: firstString(w.SerialNumber, w.SN),
		Carrier:      w.Carrier,
		RSRP:         firstFloat(w.RSRP),
		LastSeen:     firstTime(w.LastSeen, w.LastOnline, w.UpdatedAt).Time,
	}
	switch {
	case w.Online != nil:
		pw.Online = *w.Online
	default:
		pw.Online = domain.ParseStatus(w.Status) == domain.StatusOK
	}
	if bars := firstFloat(w.SignalBars, w.Signal); bars != nil {
		n := int(*bars)
		pw.SignalBars = &n
	}
	return pw
}

type jobSiteWire struct {
	ID       flexID           `json:"id"`
	Name     string           `json:"name"`
	Status   string           `json:"status"`
	Trailers []trailerRefWire `json:"trailers"`
}

type trailerRefWire struct {
	SiteID flexID `json:"site_id"`
	ID     flexID `json:"id"`
	Name   string `json:"name"`
}

func (w jobSiteWire) toDomain() domain.JobSite {
	site := domain.JobSite{
		ID:       string(w.ID),
		Name:     w.Name,
		Status:   w.Status,
		Trailers: make([]domain.TrailerRef, 0, len(w.Trailers)),
	}
	for _, ref := range w.Trailers {
		site.Trailers = append(site.Trailers, domain.TrailerRef{
			SiteID: firstString(ref.SiteID, ref.ID),
			Name:   ref.Name,
		})
	}
	return site
}

type actionWire struct {
	Key            flexID           `json:"key"`
	ID             flexID           `json:"id"`
	Priority       flexFloat        `json:"priority"`
	Category       string           `json:"category"`
	Type           string           `json:"type"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	SiteID         flexID           `json:"site_id"`
	CreatedAt      domain.Timestamp `json:"created_at"`
	AcknowledgedAt domain.Timestamp `json:"acknowledged_at"`
	AcknowledgedBy string           `json:"acknowledged_by"`
}

func (w actionWire) toDomain() domain.ActionItem {
	item := domain.ActionItem{
		Key:            firstString(w.Key, w.ID),
		Category:       firstString(w.Category, w.Type),
		Title:          firstString(w.Title, w.Message),
		SiteID:         string(w.SiteID),
		CreatedAt:      w.CreatedAt.Time,
		AcknowledgedBy: w.AcknowledgedBy,
	}
	if p := firstFloat(w.Priority); p != nil {
		item.Priority = int(*p)
	}
	if !w.AcknowledgedAt.IsZero() {
		ts := w.AcknowledgedAt.Time
		item.AcknowledgedAt = &ts
	}
	return item
}

var dailyMetaFields = map[string]struct{}{
	"date": {}, "day": {}, "site_id": {}, "siteId": {},
}

// decodeDailyPoint reads {date, site_id?, <numeric fields>...}. Non-numeric
// fields are ignored. ok is false when the date is missing or unparseable.
func decodeDailyPoint(raw json.RawMessage) (siteID string, point domain.DailyPoint, ok bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", domain.DailyPoint{}, false, fmt.Errorf("upstream: decode daily point: %w", err)
	}

	var date string
	for _, key := range []string{"date", "day"} {
		value, present := fields[key]
		if !present {
			continue
		}
		var ts domain.Timestamp
		var s string
		if json.Unmarshal(value, &s) == nil {
			if d, valid := domain.NormalizeDate(s); valid {
				date = d
			}
		} else if json.Unmarshal(value, &ts) == nil && !ts.IsZero() {
			date = domain.DateKey(ts.Time)
		}
		if date != "" {
			break
		}
	}
	if date == "" {
		return "", domain.DailyPoint{}, false, nil
	}

	for _, key := range []string{"site_id", "siteId"} {
		if value, present := fields[key]; present {
			var id flexID
			if json.Unmarshal(value, &id) == nil && id != "" {
				siteID = string(id)
				break
			}
		}
	}

	values := make(map[string]float64)
	for key, value := range fields {
		if _, meta := dailyMetaFields[key]; meta {
			continue
		}
		var n flexFloat
		if json.Unmarshal(value, &n) == nil && n.value != nil {
			values[key] = *n.value
		}
	}
	return siteID, domain.DailyPoint{Date: date, Values: values}, true, nil
}
