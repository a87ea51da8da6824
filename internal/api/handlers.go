package api

import (
	"database/sql"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/models"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
	"github.com/IWF-helio/PREDSTORM/internal/store"
)

type HealthStatus struct {
	Status     string     `json:"status"`
	Source     string     `json:"source"`
	LastSample *time.Time `json:"last_sample,omitempty"`
	AgeMinutes int        `json:"age_minutes"`
	Stale      bool       `json:"stale"`
	LatestRun  *time.Time `json:"latest_run,omitempty"`
	Errors     []string   `json:"errors,omitempty"`
}

type SeriesRange struct {
	Source  string    `json:"source"`
	Samples int       `json:"samples"`
	First   time.Time `json:"first"`
	Last    time.Time `json:"last"`
}

// SeriesData is an archived series. NaN samples are null.
type SeriesData struct {
	Source         string                `json:"source"`
	DataSource     string                `json:"data_source,omitempty"`
	ReferenceFrame string                `json:"reference_frame,omitempty"`
	SamplingRate   string                `json:"sampling_rate,omitempty"`
	Time           []time.Time           `json:"time"`
	Values         map[string][]*float64 `json:"values"`
}

type ForecastData struct {
	ID         string                    `json:"id"`
	Source     string                    `json:"source"`
	Status     string                    `json:"status"`
	IssuedAt   time.Time                 `json:"issued_at"`
	NowEnd     time.Time                 `json:"now_end"`
	TrainStart time.Time                 `json:"train_start"`
	TrainEnd   time.Time                 `json:"train_end"`
	Window     int                       `json:"window"`
	Horizon    int                       `json:"horizon"`
	Policy     string                    `json:"policy"`
	Variables  map[string]*ForecastTrack `json:"variables"`
	Scores     []Score                   `json:"scores,omitempty"`
}

// ForecastTrack is the horizon of one variable with its best analogue.
type ForecastTrack struct {
	ValidAt       []time.Time `json:"valid_at"`
	Value         []*float64  `json:"value"`
	Spread        []*float64  `json:"spread"`
	BestMatch     *time.Time  `json:"best_match,omitempty"`
	MatchDistance *float64    `json:"match_distance,omitempty"`
}

type Score struct {
	Variable string   `json:"variable"`
	Runs     int      `json:"runs,omitempty"`
	Count    int      `json:"n,omitempty"`
	RMSE     *float64 `json:"rmse"`
	Bias     *float64 `json:"bias"`
}

type Alert struct {
	ID       string    `json:"id"`
	Source   string    `json:"source"`
	Code     string    `json:"code"`
	Severity int       `json:"severity"`
	IssuedAt time.Time `json:"issued_at"`
	Headline string    `json:"headline"`
	Message  string    `json:"message,omitempty"`
	RunID    string    `json:"run_id,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

type ImportSummary struct {
	Health []store.ImportHealthSummary `json:"health"`
	Errors []ImportError               `json:"errors,omitempty"`
}

type ImportError struct {
	StartedAt time.Time `json:"started_at"`
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	Error     string    `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok", Source: s.Source, AgeMinutes: -1, Stale: true}

	ranges, err := s.store.GetSeriesRanges()
	if err != nil {
		health.Errors = append(health.Errors, "series: "+err.Error())
	}
	for _, rg := range ranges {
		if rg.Source != s.Source {
			continue
		}
		last := rg.Last
		age := s.now().Sub(last)
		health.LastSample = &last
		health.AgeMinutes = int(age.Minutes())
		health.Stale = age > s.StaleAfter
	}
	if health.Stale {
		health.Status = "degraded"
	}

	run, err := s.store.GetLatestForecastRun()
	if err != nil {
		health.Errors = append(health.Errors, "forecast: "+err.Error())
	} else if run != nil {
		issued := run.IssuedAt
		health.LatestRun = &issued
	}

	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("health: write response: %v", err)
	}
}

func (s *Server) handleSeriesRanges(w http.ResponseWriter, r *http.Request) {
	ranges, err := s.store.GetSeriesRanges()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]SeriesRange, len(ranges))
	for i, rg := range ranges {
		out[i] = SeriesRange{Source: rg.Source, Samples: rg.Samples, First: rg.First, Last: rg.Last}
	}
	writeJSON(w, out)
}

// handleSeries returns the samples of a source in [start, end). Both bounds
// are RFC 3339 query parameters; the default is the last three days.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	end := s.now().UTC()
	start := end.Add(-72 * time.Hour)
	var err error
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "bad end: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "bad start: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	series, err := s.store.LoadSeries(source, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if series.Len() == 0 {
		http.Error(w, "no samples for "+source, http.StatusNotFound)
		return
	}
	writeJSON(w, seriesData(series))
}

func seriesData(series *satdata.Series) SeriesData {
	out := SeriesData{
		Source:         series.Source,
		DataSource:     series.Header.DataSource,
		ReferenceFrame: series.Header.ReferenceFrame,
		Time:           series.Times(),
		Values:         make(map[string][]*float64),
	}
	if series.Header.SamplingRate > 0 {
		out.SamplingRate = series.Header.SamplingRate.String()
	}
	for _, v := range series.Vars() {
		values, err := series.Get(v)
		if err != nil {
			continue
		}
		col := make([]*float64, len(values))
		for i, x := range values {
			col[i] = finite(x)
		}
		out.Values[v.String()] = col
	}
	return out
}

func (s *Server) handleLatestForecast(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetLatestForecastRun()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeForecast(w, run)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetForecastRun(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeForecast(w, run)
}

func (s *Server) writeForecast(w http.ResponseWriter, run *models.ForecastRun) {
	if run == nil {
		http.Error(w, "forecast not found", http.StatusNotFound)
		return
	}
	data, err := s.forecastData(run)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, data)
}

func (s *Server) forecastData(run *models.ForecastRun) (*ForecastData, error) {
	values, err := s.store.GetForecastValues(run.ID)
	if err != nil {
		return nil, err
	}
	data := &ForecastData{
		ID:         run.ID,
		Source:     run.Source,
		Status:     run.Status,
		IssuedAt:   run.IssuedAt,
		NowEnd:     run.NowEnd,
		TrainStart: run.TrainStart,
		TrainEnd:   run.TrainEnd,
		Window:     run.Window,
		Horizon:    run.Horizon,
		Policy:     run.Policy,
		Variables:  make(map[string]*ForecastTrack),
	}
	for _, v := range values {
		track := data.Variables[v.Variable]
		if track == nil {
			track = &ForecastTrack{}
			data.Variables[v.Variable] = track
		}
		track.ValidAt = append(track.ValidAt, v.ValidAt)
		track.Value = append(track.Value, nullable(v.Value))
		track.Spread = append(track.Spread, nullable(v.Spread))
	}

	for name, track := range data.Variables {
		matches, err := s.store.GetForecastMatches(run.ID, name)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			best := matches[0]
			track.BestMatch = &best.StartTime
			track.MatchDistance = finite(best.Distance)
		}
	}

	scores, err := s.store.GetForecastVerification(run.ID)
	if err != nil {
		return nil, err
	}
	for _, sc := range scores {
		data.Scores = append(data.Scores, Score{Variable: sc.Variable, Count: sc.Count, RMSE: nullable(sc.RMSE), Bias: nullable(sc.Bias)})
	}
	return data, nil
}

func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	stats, err := s.store.GetVerificationStats(days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]Score, len(stats))
	for i, st := range stats {
		out[i] = Score{Variable: st.Variable, Runs: st.Runs, RMSE: nullable(st.MeanRMSE), Bias: nullable(st.MeanBias)}
	}
	writeJSON(w, out)
}

func (s *Server) handleImports(w http.ResponseWriter, r *http.Request) {
	health, err := s.store.GetImportHealth(queryInt(r, "days", 7))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	failures, err := s.store.GetRecentImportErrors(10)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := ImportSummary{Health: health}
	for _, f := range failures {
		out.Errors = append(out.Errors, ImportError{StartedAt: f.StartedAt, Source: f.Source, Path: f.Path, Error: f.ErrorMessage.String})
	}
	writeJSON(w, out)
}

// handleAlerts lists alerts seen in the last hours (default 24). With
// urgent=1 only alerts and warnings are returned.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	maxAge := time.Duration(queryInt(r, "hours", 24)) * time.Hour
	var alerts []models.StormAlert
	var err error
	if r.URL.Query().Get("urgent") == "1" {
		alerts, err = s.store.GetUrgentAlerts(maxAge)
	} else {
		alerts, err = s.store.GetActiveAlerts(maxAge)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]Alert, len(alerts))
	for i, a := range alerts {
		out[i] = Alert{
			ID: a.ID, Source: a.Source, Code: a.Code, Severity: a.Severity, IssuedAt: a.IssuedAt,
			Headline: a.Headline, Message: a.Message, RunID: a.RunID.String, LastSeen: a.LastSeenAt,
		}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// finite returns nil for NaN and infinities, which JSON cannot carry.
func finite(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return finite(v.Float64)
}
