// Command fake_fleet_api serves a synthetic fleet backend for local runs of
// the dashboard.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"fleet-dashboard/internal/logging"
)

type fakeFleetAPI struct {
	start    time.Time
	latency  time.Duration
	failRate float64
	rng      *rand.Rand
	logger   zerolog.Logger

	mu         sync.Mutex
	byPath     map[string]int64
	totalCalls int64

	trailers []fakeTrailer
	jobSites map[string]*fakeJobSite
	actions  []*fakeAction
}

type fakeTrailer struct {
	SiteID  string
	Name    string
	Serial  string
	BaseSOC float64
}

type fakeJobSite struct {
	ID       string
	Name     string
	Trailers []string
}

type fakeAction struct {
	Key            string
	Priority       int
	Category       string
	Title          string
	SiteID         string
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
}

func main() {
	addr := getenvDefault("FAKE_FLEET_ADDR", ":18090")
	latencyMs := getenvIntDefault("FAKE_FLEET_LATENCY_MS", 0)
	failRate := getenvFloatDefault("FAKE_FLEET_FAIL_RATE", 0)
	count := getenvIntDefault("FAKE_FLEET_TRAILERS", 8)

	logger, err := logging.New(logging.Config{Level: "info", Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}

	srv := newFakeFleetAPI(count, time.Now().UTC(), time.Now().UnixNano())
	srv.latency = time.Duration(latencyMs) * time.Millisecond
	srv.failRate = failRate
	srv.logger = logger

	logger.Info().Str("addr", addr).Int("trailers", count).Msg("fake fleet api listening")
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		logger.Fatal().Err(err).Msg("fake fleet api stopped")
	}
}

func newFakeFleetAPI(count int, now time.Time, seed int64) *fakeFleetAPI {
	if count <= 0 {
		count = 1
	}
	s := &fakeFleetAPI{
		start:    now,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   zerolog.Nop(),
		byPath:   make(map[string]int64),
		jobSites: make(map[string]*fakeJobSite),
	}
	for i := 1; i <= count; i++ {
		s.trailers = append(s.trailers, fakeTrailer{
			SiteID:  fmt.Sprintf("site-%02d", i),
			Name:    fmt.Sprintf("PT-%02d", i),
			Serial:  fmt.Sprintf("PW-%04d", 1000+i),
			BaseSOC: float64(20 + (i*37)%75),
		})
	}
	s.jobSites["js-1"] = &fakeJobSite{ID: "js-1", Name: "North Yard"}
	s.jobSites["js-2"] = &fakeJobSite{ID: "js-2", Name: "Harbor Gate"}
	for i, t := range s.trailers {
		switch i % 3 {
		case 0:
			s.jobSites["js-1"].Trailers = append(s.jobSites["js-1"].Trailers, t.SiteID)
		case 1:
			s.jobSites["js-2"].Trailers = append(s.jobSites["js-2"].Trailers, t.SiteID)
		}
	}
	for i, t := range s.trailers {
		if i%2 != 0 {
			continue
		}
		s.actions = append(s.actions, &fakeAction{
			Key:       fmt.Sprintf("act-%d", i+1),
			Priority:  1 + i%3,
			Category:  []string{"battery", "network", "solar"}[i%3],
			Title:     "Check " + t.Name,
			SiteID:    t.SiteID,
			CreatedAt: now.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	return s
}

func (s *fakeFleetAPI) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/api/sites", s.wrap(s.handleSites))
	mux.HandleFunc("/api/sites/", s.wrap(s.handleSiteDaily))
	mux.HandleFunc("/api/pepwave/devices", s.wrap(s.handleDevices))
	mux.HandleFunc("/api/job-sites", s.wrap(s.handleJobSites))
	mux.HandleFunc("/api/job-sites/", s.wrap(s.handleJobSiteWrite))
	mux.HandleFunc("/api/action-items", s.wrap(s.handleActions))
	mux.HandleFunc("/api/action-items/", s.wrap(s.handleAcknowledge))
	mux.HandleFunc("/api/energy/daily", s.wrap(s.handleEnergy))
	return mux
}

func (s *fakeFleetAPI) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		s.recordCall(r.URL.Path)
		if s.shouldFail() {
			s.logger.Debug().Str("path", r.URL.Path).Msg("injected failure")
			http.Error(w, "injected failure", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

func (s *fakeFleetAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeFleetAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"total":      atomic.LoadInt64(&s.totalCalls),
		"by_path":    s.byPath,
	})
}

func (s *fakeFleetAPI) handleSites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	sites := make([]map[string]any, 0, len(s.trailers))
	for _, t := range s.trailers {
		soc := clamp(t.BaseSOC+s.rng.Float64()*6-3, 0, 100)
		sites = append(sites, map[string]any{
			"site_id": t.SiteID,
			"name":    t.Name,
			"snapshot": map[string]any{
				"battery_soc":     soc,
				"battery_voltage": 48 + soc/25,
				"solar_watts":     s.rng.Intn(2400),
				"load_watts":      200 + s.rng.Intn(600),
				"ts":              now.Add(-time.Duration(s.rng.Intn(120)) * time.Second).UnixMilli(),
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

func (s *fakeFleetAPI) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	devices := make([]map[string]any, 0, len(s.trailers))
	for i, t := range s.trailers {
		devices = append(devices, map[string]any{
			"name":        strings.ToLower(t.Name),
			"sn":          t.Serial,
			"online":      i%5 != 4,
			"carrier":     []string{"Verizon", "AT&T", "T-Mobile"}[i%3],
			"signal_bars": 1 + (i+s.rng.Intn(2))%5,
			"last_seen":   now.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *fakeFleetAPI) handleJobSites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobSites))
	for id := range s.jobSites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		js := s.jobSites[id]
		refs := make([]map[string]string, 0, len(js.Trailers))
		for _, siteID := range js.Trailers {
			refs = append(refs, map[string]string{"site_id": siteID})
		}
		out = append(out, map[string]any{"id": js.ID, "name": js.Name, "status": "active", "trailers": refs})
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_sites": out})
}

// handleJobSiteWrite serves rename, assign and unassign.
func (s *fakeFleetAPI) handleJobSiteWrite(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/job-sites/")
	parts := strings.Split(rest, "/")
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.Method == http.MethodDelete && len(parts) == 2 && parts[0] == "assignments":
		s.unassignLocked(parts[1])
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "trailers":
		js, ok := s.jobSites[parts[0]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			SiteID string `json:"site_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.SiteID == "" {
			http.Error(w, "site_id required", http.StatusBadRequest)
			return
		}
		s.unassignLocked(payload.SiteID)
		js.Trailers = append(js.Trailers, payload.SiteID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case r.Method == http.MethodPut && len(parts) == 1:
		js, ok := s.jobSites[parts[0]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || strings.TrimSpace(payload.Name) == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		js.Name = strings.TrimSpace(payload.Name)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.NotFound(w, r)
	}
}

func (s *fakeFleetAPI) unassignLocked(siteID string) {
	for _, js := range s.jobSites {
		kept := js.Trailers[:0]
		for _, id := range js.Trailers {
			if id != siteID {
				kept = append(kept, id)
			}
		}
		js.Trailers = kept
	}
}

func (s *fakeFleetAPI) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]map[string]any, 0, len(s.actions))
	for _, a := range s.actions {
		item := map[string]any{
			"key":        a.Key,
			"priority":   a.Priority,
			"category":   a.Category,
			"title":      a.Title,
			"site_id":    a.SiteID,
			"created_at": a.CreatedAt.Format(time.RFC3339),
		}
		if a.AcknowledgedAt != nil {
			item["acknowledged_at"] = a.AcknowledgedAt.Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *fakeFleetAPI) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	key, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/api/action-items/"), "/acknowledge")
	if r.Method != http.MethodPut || !ok {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.Key == key {
			now := time.Now().UTC()
			a.AcknowledgedAt = &now
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}
	http.NotFound(w, r)
}

func (s *fakeFleetAPI) handleEnergy(w http.ResponseWriter, r *http.Request) {
	days := parseDays(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.trailers)*days)
	for i, t := range s.trailers {
		for _, point := range dailySeries(i, days, time.Now().UTC()) {
			point["site_id"] = t.SiteID
			out = append(out, point)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": out})
}

func (s *fakeFleetAPI) handleSiteDaily(w http.ResponseWriter, r *http.Request) {
	siteID, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/api/sites/"), "/daily")
	if r.Method != http.MethodGet || !ok {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.trailers {
		if t.SiteID == siteID {
			writeJSON(w, http.StatusOK, map[string]any{"days": dailySeries(i, parseDays(r), time.Now().UTC())})
			return
		}
	}
	http.NotFound(w, r)
}

// dailySeries is deterministic per trailer index so charts stay stable
// across polls.
func dailySeries(index, days int, now time.Time) []map[string]any {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]map[string]any, 0, days)
	for d := days - 1; d >= 0; d-- {
		day := today.AddDate(0, 0, -d)
		wave := float64((day.YearDay()+index*3)%7) / 7
		out = append(out, map[string]any{
			"date":        day.Format("2006-01-02"),
			"yield_wh":    4000 + wave*6000 + float64(index*150),
			"consumed_wh": 3000 + (1-wave)*2500,
			"min_soc":     clamp(25+wave*30-float64(index%4)*5, 0, 100),
			"max_soc":     clamp(80+wave*20, 0, 100),
		})
	}
	return out
}

func parseDays(r *http.Request) int {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 {
		return 1
	}
	if days > 90 {
		return 90
	}
	return days
}

func (s *fakeFleetAPI) shouldFail() bool {
	if s.failRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.failRate
}

func (s *fakeFleetAPI) recordCall(path string) {
	atomic.AddInt64(&s.totalCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPath[path]++
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
