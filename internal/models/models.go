package models

import (
	"database/sql"
	"time"
)

// SeriesMeta is the stored header of an archived series.
type SeriesMeta struct {
	Source          string
	DataSource      string
	SourceURL       string
	SamplingSeconds float64
	ReferenceFrame  string
	Instruments     []string
	FileVersion     map[string]string
	UpdatedAt       time.Time
}

// SeriesRange summarises the archived samples of one source.
type SeriesRange struct {
	Source  string
	Samples int
	First   time.Time
	Last    time.Time
}

type ForecastRun struct {
	ID           string // uuid
	Source       string // source of the now window, e.g. "noaa-rtsw"
	IssuedAt     time.Time
	NowEnd       time.Time // last observed sample
	TrainStart   time.Time
	TrainEnd     time.Time
	Window       int
	Horizon      int
	TopK         int
	Policy       string // "per-variable", "shared-btot"
	Status       string // "running", "ok", "failed"
	ErrorMessage sql.NullString
	FinishedAt   sql.NullTime
	CreatedAt    time.Time
}

// ForecastMatch is one ranked analogue of a forecast run.
type ForecastMatch struct {
	RunID      string
	Variable   string
	Rank       int // 0 is the best match
	StartTime  time.Time
	StartIndex int
	Distance   float64
}

// ForecastValue is one forecast sample; Lead counts steps after NowEnd.
type ForecastValue struct {
	RunID    string
	Variable string
	Lead     int
	ValidAt  time.Time
	Value    sql.NullFloat64
	Spread   sql.NullFloat64
}

type ForecastVerification struct {
	RunID      string
	Variable   string
	Count      int
	RMSE       sql.NullFloat64
	Bias       sql.NullFloat64
	VerifiedAt time.Time
}

type VerificationStats struct {
	Variable string
	Runs     int
	MeanRMSE sql.NullFloat64
	MeanBias sql.NullFloat64
}

// Alert severities, most severe first.
const (
	SeverityAlert = iota
	SeverityWarning
	SeverityWatch
	SeveritySummary
	SeverityUnknown
)

// StormAlert is a geomagnetic storm notice, either relayed from SWPC or
// raised by a forecast run.
type StormAlert struct {
	ID       string
	Source   string // "swpc" or "predstorm"
	Code     string // SWPC message code, e.g. "WARK05"
	Severity int
	IssuedAt time.Time
	Headline string
	Message  string
	// RunID links alerts raised by a forecast run.
	RunID       sql.NullString
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}
