package ephem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/IWF-helio/PREDSTORM/internal/httputil"
	"github.com/IWF-helio/PREDSTORM/internal/metrics"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
)

// HTTPClient queries a remote trajectory service. The service takes a JSON
// request on POST {BaseURL}/trajectory and answers with Cartesian positions.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	// MaxElapsedTime bounds the retries of one call.
	MaxElapsedTime time.Duration
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         httputil.NewClient(),
		MaxElapsedTime: 2 * time.Minute,
	}
}

type TrajectoryRequest struct {
	Body     string   `json:"body"`
	Frame    string   `json:"frame"`
	Units    string   `json:"units"`
	Observer string   `json:"observer"`
	Times    []string `json:"times"`
}

type TrajectoryResponse struct {
	Frame     string       `json:"frame"`
	Units     string       `json:"units"`
	Observer  string       `json:"observer"`
	Positions [][3]float64 `json:"positions"`
}

func (c *HTTPClient) Trajectory(ctx context.Context, body string, times []float64, opts Options) (*satdata.Position, error) {
	req := TrajectoryRequest{
		Body:     NormalizeBody(body),
		Frame:    opts.Frame,
		Units:    opts.Units,
		Observer: opts.Observer,
		Times:    make([]string, len(times)),
	}
	for i, t := range times {
		req.Times[i] = satdata.NumToTime(t).Format(time.RFC3339Nano)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal trajectory request: %w", err)
	}

	start := time.Now()
	var respBody []byte
	status := "error"
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/trajectory", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetch trajectory: %w", err)
		}
		defer resp.Body.Close()
		status = strconv.Itoa(resp.StatusCode)

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch trajectory: status %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("trajectory %q: %w", body, ErrUnknownBody))
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch trajectory: status %d: %s", resp.StatusCode, string(b)))
		}

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.MaxElapsedTime
	err = backoff.Retry(operation, backoff.WithContext(bo, ctx))
	metrics.EphemerisCallsTotal.WithLabelValues(req.Body, status).Inc()
	metrics.EphemerisLatency.WithLabelValues(req.Body).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	var data TrajectoryResponse
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if len(data.Positions) != len(times) {
		return nil, fmt.Errorf("trajectory %q: got %d positions for %d times", body, len(data.Positions), len(times))
	}
	if data.Frame != "" && !strings.EqualFold(data.Frame, opts.Frame) {
		return nil, fmt.Errorf("trajectory %q: service answered in %s, want %s: %w", body, data.Frame, opts.Frame, ErrUnsupported)
	}
	units := data.Units
	if units == "" {
		units = opts.Units
	}

	var xyz [3][]float64
	for c := range xyz {
		xyz[c] = make([]float64, len(times))
	}
	for i, p := range data.Positions {
		xyz[0][i], xyz[1][i], xyz[2][i] = p[0], p[1], p[2]
	}
	return buildPosition(xyz, units, opts)
}
