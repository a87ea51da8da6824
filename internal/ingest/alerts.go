package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/httputil"
	"github.com/IWF-helio/PREDSTORM/internal/models"
)

const DefaultAlertsURL = "https://services.swpc.noaa.gov/products/alerts.json"

// swpcMessage is one entry of the SWPC alerts product.
type swpcMessage struct {
	ProductID     string `json:"product_id"`
	IssueDatetime string `json:"issue_datetime"`
	Message       string `json:"message"`
}

// AlertClient fetches and filters the SWPC space weather alerts down to
// geomagnetic notices.
type AlertClient struct {
	url        string
	httpClient *http.Client

	mu           sync.RWMutex
	cachedAlerts []models.StormAlert
	lastFetch    time.Time
}

func NewAlertClient(url string) *AlertClient {
	if url == "" {
		url = DefaultAlertsURL
	}
	return &AlertClient{url: url, httpClient: httputil.NewClient()}
}

// Alerts returns cached alerts, fetching fresh data if stale.
func (c *AlertClient) Alerts(ctx context.Context) ([]models.StormAlert, error) {
	c.mu.RLock()
	if time.Since(c.lastFetch) < 2*time.Minute && c.cachedAlerts != nil {
		alerts := c.cachedAlerts
		c.mu.RUnlock()
		return alerts, nil
	}
	c.mu.RUnlock()

	return c.Fetch(ctx)
}

// Fetch retrieves fresh alerts from SWPC.
func (c *AlertClient) Fetch(ctx context.Context) ([]models.StormAlert, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch alerts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var messages []swpcMessage
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}

	alerts := filterAlerts(messages)

	c.mu.Lock()
	c.cachedAlerts = alerts
	c.lastFetch = time.Now()
	c.mu.Unlock()

	return alerts, nil
}

// filterAlerts keeps the geomagnetic messages, one per message code and
// serial number.
func filterAlerts(messages []swpcMessage) []models.StormAlert {
	alerts := make([]models.StormAlert, 0, len(messages))
	seen := make(map[string]bool)

	for _, m := range messages {
		a := parseMessage(m)
		if !strings.Contains(strings.ToLower(a.Headline), "geomagnetic") {
			continue
		}
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		alerts = append(alerts, a)
	}
	return alerts
}

// parseMessage reads the header lines of an SWPC message:
//
//	Space Weather Message Code: WARK04
//	Serial Number: 4012
//	Issue Time: 2024 May 10 0102 UTC
//
//	WARNING: Geomagnetic K-index of 4 expected
func parseMessage(m swpcMessage) models.StormAlert {
	a := models.StormAlert{
		Source:   "swpc",
		Code:     m.ProductID,
		Message:  strings.ReplaceAll(m.Message, "\r\n", "\n"),
		Severity: models.SeverityUnknown,
	}
	// Fractional seconds are accepted after the seconds field.
	if t, err := time.Parse("2006-01-02 15:04:05", m.IssueDatetime); err == nil {
		a.IssuedAt = t.UTC()
	}

	var serial string
	sc := bufio.NewScanner(strings.NewReader(a.Message))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, value, found := strings.Cut(line, ":")
		switch {
		case line == "":
			continue
		case found && key == "Space Weather Message Code":
			a.Code = strings.TrimSpace(value)
			continue
		case found && key == "Serial Number":
			serial = strings.TrimSpace(value)
			continue
		case found && key == "Issue Time":
			continue
		}
		a.Headline = line
		a.Severity = severityOf(key)
		break
	}

	if serial != "" {
		a.ID = a.Code + "-" + serial
	} else {
		a.ID = m.ProductID + "-" + a.IssuedAt.Format("20060102T150405")
	}
	return a
}

func severityOf(kind string) int {
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case "ALERT":
		return models.SeverityAlert
	case "WARNING", "EXTENDED WARNING":
		return models.SeverityWarning
	case "WATCH":
		return models.SeverityWatch
	case "SUMMARY":
		return models.SeveritySummary
	}
	return models.SeverityUnknown
}
