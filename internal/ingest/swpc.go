package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/IWF-helio/PREDSTORM/internal/httputil"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

const DefaultSWPCBaseURL = "https://services.swpc.noaa.gov/products/solar-wind/"

// SourceRTSW is the archive source name of NOAA real-time solar wind.
const SourceRTSW = "noaa-rtsw"

// FetchResult contains metadata about one product download.
type FetchResult struct {
	Product      string
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	Body         []byte
}

// SWPC downloads the NOAA SWPC real-time solar wind products (DSCOVR or ACE
// at L1, magnetic field in GSM).
type SWPC struct {
	baseURL string
	client  *http.Client
	// MaxElapsedTime bounds the retries of one product download.
	MaxElapsedTime time.Duration
}

func NewSWPC(baseURL string) *SWPC {
	if baseURL == "" {
		baseURL = DefaultSWPCBaseURL
	}
	return &SWPC{
		baseURL:        strings.TrimSuffix(baseURL, "/") + "/",
		client:         httputil.NewClient(),
		MaxElapsedTime: 2 * time.Minute,
	}
}

// Fetch downloads the last days (1, 3 or 7) of magnetic field and plasma
// data and interpolates both onto a shared one-minute grid covering the
// span where both products have data.
func (c *SWPC) Fetch(ctx context.Context, days int) (*satdata.Series, []FetchResult, error) {
	switch days {
	case 1, 3, 7:
	default:
		return nil, nil, fmt.Errorf("swpc: products cover 1, 3 or 7 days, not %d", days)
	}

	mag, magResult, err := c.fetchProduct(ctx, fmt.Sprintf("mag-%d-day.json", days), map[string]satdata.Var{
		"bx_gsm": satdata.VarBx,
		"by_gsm": satdata.VarBy,
		"bz_gsm": satdata.VarBz,
		"bt":     satdata.VarBtot,
	})
	results := []FetchResult{magResult}
	if err != nil {
		return nil, results, err
	}
	plasma, plasmaResult, err := c.fetchProduct(ctx, fmt.Sprintf("plasma-%d-day.json", days), map[string]satdata.Var{
		"density":     satdata.VarDensity,
		"speed":       satdata.VarSpeed,
		"temperature": satdata.VarTemp,
	})
	results = append(results, plasmaResult)
	if err != nil {
		return nil, results, err
	}

	s, err := combineMinutes(mag, plasma)
	if err != nil {
		return nil, results, fmt.Errorf("swpc: %w", err)
	}
	return s, results, nil
}

func (c *SWPC) fetchProduct(ctx context.Context, product string, columns map[string]satdata.Var) (*satdata.Series, FetchResult, error) {
	result := FetchResult{Product: product}
	url := c.baseURL + product

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetch %s: %w", product, err)
		}
		defer resp.Body.Close()
		result.HTTPStatus = resp.StatusCode

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch %s: status %d", product, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", product, resp.StatusCode, truncateBody(b)))
		}

		result.Body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		result.ResponseSize = len(result.Body)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.MaxElapsedTime
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, result, err
	}

	s, err := parseProduct(result.Body, product, columns)
	if err != nil {
		return nil, result, err
	}
	result.RecordCount = s.Len()
	return s, result, nil
}

// parseProduct reads an SWPC table: a JSON array of rows whose first row
// names the columns. Cells are strings or null. Rows that do not advance
// the time are dropped.
func parseProduct(body []byte, product string, columns map[string]satdata.Var) (*satdata.Series, error) {
	var table [][]*string
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", product, err)
	}
	if len(table) < 2 {
		return nil, fmt.Errorf("%s has no data rows: %w", product, satdata.ErrDataQuality)
	}

	timeCol := -1
	cols := make(map[int]satdata.Var)
	for i, name := range table[0] {
		if name == nil {
			continue
		}
		if *name == "time_tag" {
			timeCol = i
		} else if v, ok := columns[*name]; ok {
			cols[i] = v
		}
	}
	if timeCol < 0 || len(cols) != len(columns) {
		return nil, fmt.Errorf("%s header %v misses expected columns: %w", product, deref(table[0]), satdata.ErrSchema)
	}

	var times []float64
	data := make(map[satdata.Var][]float64, len(cols))
	dropped := 0
	for _, row := range table[1:] {
		if len(row) != len(table[0]) || row[timeCol] == nil {
			dropped++
			continue
		}
		t, err := time.Parse("2006-01-02 15:04:05.000", *row[timeCol])
		if err != nil {
			return nil, fmt.Errorf("%s: parse time: %w", product, err)
		}
		x := satdata.TimeToNum(t)
		if len(times) > 0 && x <= times[len(times)-1] {
			dropped++
			continue
		}
		times = append(times, x)
		for i, v := range cols {
			data[v] = append(data[v], parseCell(row[i]))
		}
	}
	if dropped > 0 {
		log.Printf("ingest: %s: dropped %d malformed or out-of-order rows", product, dropped)
	}
	return satdata.NewFromVars(times, data, SourceRTSW, nil)
}

func parseCell(cell *string) float64 {
	if cell == nil {
		return math.NaN()
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(*cell), 64)
	if err != nil {
		return math.NaN()
	}
	return x
}

func deref(row []*string) []string {
	out := make([]string, len(row))
	for i, s := range row {
		if s != nil {
			out[i] = *s
		}
	}
	return out
}

// combineMinutes interpolates mag and plasma onto whole minutes within the
// span both cover.
func combineMinutes(mag, plasma *satdata.Series) (*satdata.Series, error) {
	if mag.Len() == 0 || plasma.Len() == 0 {
		return nil, fmt.Errorf("mag has %d rows, plasma %d: %w", mag.Len(), plasma.Len(), satdata.ErrDataQuality)
	}
	mt, pt := mag.Time(), plasma.Time()
	first := math.Ceil(max(mt[0], pt[0])/60) * 60
	last := min(mt[len(mt)-1], pt[len(pt)-1])
	if last < first {
		return nil, fmt.Errorf("mag and plasma do not overlap: %w", satdata.ErrDataQuality)
	}
	grid := make([]float64, int((last-first)/60)+1)
	for i := range grid {
		grid[i] = first + float64(i)*60
	}

	m, err := mag.InterpToTime(grid)
	if err != nil {
		return nil, err
	}
	p, err := plasma.InterpToTime(grid)
	if err != nil {
		return nil, err
	}
	for _, v := range p.Vars() {
		values, _ := p.Get(v)
		if err := m.Set(v, values); err != nil {
			return nil, err
		}
	}
	m.Header = satdata.Header{
		DataSource:     "DSCOVR (NOAA)",
		SourceURL:      DefaultSWPCBaseURL,
		SamplingRate:   time.Minute,
		ReferenceFrame: "GSM",
		Instruments:    []string{"MAG", "Faraday cup"},
	}
	return m, nil
}

const maxErrorBody = 512

func truncateBody(b []byte) string {
	if len(b) <= maxErrorBody {
		return string(b)
	}
	return string(b[:maxErrorBody]) + "...(truncated)"
}
