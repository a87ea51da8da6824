package main

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/IWF-helio/PREDSTORM/internal/api"
	"github.com/IWF-helio/PREDSTORM/internal/archive"
	"github.com/IWF-helio/PREDSTORM/internal/forecast"
	"github.com/IWF-helio/PREDSTORM/internal/indices"
	"github.com/IWF-helio/PREDSTORM/internal/ingest"
	"github.com/IWF-helio/PREDSTORM/internal/models"
	"github.com/IWF-helio/PREDSTORM/internal/pipeline"
	"github.com/IWF-helio/PREDSTORM/internal/propagate"
	"github.com/IWF-helio/PREDSTORM/internal/satdata"
	"github.com/IWF-helio/PREDSTORM/internal/store"
)

type ImportCmd struct {
	Source string   `required:"" help:"Archive source name, e.g. omni or stereo-a."`
	Files  []string `arg:"" type:"existingfile" help:"Parquet, CSV, OMNI2 or realtime text files (optionally gzipped)."`
}

func (c *ImportCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	im := ingest.NewImporter(st)
	for _, path := range c.Files {
		res, err := im.ImportFile(path, c.Source)
		if err != nil {
			return err
		}
		if res.Skipped {
			fmt.Printf("%s: unchanged since last import\n", path)
			continue
		}
		fmt.Printf("%s: %d samples stored, %d values masked\n", path, res.Stored, res.Report.TotalMasked())
	}
	return nil
}

type FetchCmd struct {
	Days      int    `default:"1" enum:"1,3,7" help:"Days of history to download (${enum})."`
	BaseURL   string `name:"base-url" default:"${swpc_url}" env:"PREDSTORM_SWPC_URL" help:"SWPC products base URL."`
	Alerts    bool   `help:"Also store the current SWPC geomagnetic alerts."`
	AlertsURL string `name:"alerts-url" default:"${alerts_url}" env:"PREDSTORM_ALERTS_URL" help:"SWPC alerts product URL."`
}

func (c *FetchCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	im := ingest.NewImporter(st)
	res, err := im.ImportRealtime(g.ctx, ingest.NewSWPC(c.BaseURL), c.Days)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d samples stored, %d values masked\n", res.Source, res.Stored, res.Report.TotalMasked())

	if c.Alerts {
		n, err := im.ImportAlerts(g.ctx, ingest.NewAlertClient(c.AlertsURL))
		if err != nil {
			return err
		}
		fmt.Printf("swpc: %d geomagnetic alerts\n", n)
	}
	return nil
}

// RunFlags configure the forecast pipeline.
type RunFlags struct {
	NowSource      string        `name:"now-source" default:"noaa-rtsw" help:"Archived source of the recent observations."`
	TrainingSource string        `name:"training-source" default:"omni" help:"Archived source searched for analogues."`
	VerifySource   string        `name:"verify-source" help:"Archived source forecasts are scored against (default: now source)."`
	Window         int           `default:"24" help:"Now window length in steps."`
	Horizon        int           `default:"24" help:"Forecast horizon in steps."`
	TopK           int           `name:"top-k" default:"50" help:"Number of analogues kept per variable."`
	Step           time.Duration `default:"1h" help:"Sampling of the now window; must match the training source."`
	Lookback       time.Duration `default:"72h" help:"Observations loaded before the issue time."`
	TrainStart     time.Time     `name:"train-start" format:"2006-01-02" help:"Start of the training range (YYYY-MM-DD)."`
	TrainEnd       time.Time     `name:"train-end" format:"2006-01-02" help:"End of the training range, exclusive (YYYY-MM-DD)."`
	Policy         string        `default:"per-variable" enum:"per-variable,shared-btot" help:"How bx, by and bz pick their analogues (${enum})."`
	DstModel       string        `name:"dst-model" default:"obrien" enum:"burton,obrien" help:"Dst model for the forecast (${enum})."`
	ShiftToL1      bool          `name:"shift-to-l1" help:"Propagate the now source from its spacecraft to L1 first."`
	Output         string        `type:"path" help:"Also write the forecast here (.parquet, .txt or .txt.gz)."`
	RawRetention   int           `name:"raw-retention-days" default:"30" help:"Delete archived raw files older than this; 0 keeps them."`

	EphemerisFlags `embed:""`
}

func (f RunFlags) config() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	cfg.NowSource = f.NowSource
	cfg.TrainingSource = f.TrainingSource
	cfg.VerifySource = f.VerifySource
	cfg.Step = f.Step
	cfg.Lookback = f.Lookback
	cfg.ShiftToL1 = f.ShiftToL1
	cfg.OutputPath = f.Output
	cfg.RawRetentionDays = f.RawRetention

	cfg.Forecast.Window = f.Window
	cfg.Forecast.Horizon = f.Horizon
	cfg.Forecast.TopK = f.TopK
	cfg.Forecast.TrainStart = f.TrainStart
	cfg.Forecast.TrainEnd = f.TrainEnd

	var err error
	if cfg.Forecast.Policy, err = forecast.ParseMatchPolicy(f.Policy); err != nil {
		return cfg, err
	}
	if cfg.DstModel, err = indices.ParseDstModel(f.DstModel); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (f RunFlags) runner(st *store.Store) (*pipeline.Runner, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, err
	}
	var prop *propagate.Propagator
	if cfg.ShiftToL1 {
		if prop, err = f.propagator(); err != nil {
			return nil, err
		}
	}
	return pipeline.NewRunner(st, prop, cfg), nil
}

type ForecastCmd struct {
	RunFlags `embed:""`

	Issued time.Time `format:"2006-01-02T15:04" help:"Issue time in UTC (default: now)."`
}

func (c *ForecastCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	runner, err := c.runner(st)
	if err != nil {
		return err
	}
	issued := c.Issued
	if issued.IsZero() {
		issued = time.Now().UTC().Truncate(time.Minute)
	}
	out, err := runner.RunAll(g.ctx, issued)
	if err != nil {
		return err
	}
	printOutcome(out)
	return nil
}

type WatchCmd struct {
	RunFlags `embed:""`

	Interval  time.Duration `default:"1h" help:"Time between runs."`
	NoFetch   bool          `name:"no-fetch" help:"Do not download real-time data or alerts before each run."`
	BaseURL   string        `name:"base-url" default:"${swpc_url}" env:"PREDSTORM_SWPC_URL" help:"SWPC products base URL."`
	AlertsURL string        `name:"alerts-url" default:"${alerts_url}" env:"PREDSTORM_ALERTS_URL" help:"SWPC alerts product URL."`
	Listen    string        `env:"PREDSTORM_LISTEN" help:"Also serve the JSON API on this address, e.g. :8080."`
}

func (c *WatchCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	runner, err := c.runner(st)
	if err != nil {
		return err
	}
	var swpc *ingest.SWPC
	if !c.NoFetch {
		swpc = ingest.NewSWPC(c.BaseURL)
	}
	scheduler := pipeline.NewScheduler(runner, ingest.NewImporter(st), swpc, c.Interval)
	if !c.NoFetch {
		scheduler.SetAlertClient(ingest.NewAlertClient(c.AlertsURL))
	}

	if c.Listen == "" {
		scheduler.Run(g.ctx)
		return nil
	}
	go scheduler.Run(g.ctx)
	log.Printf("starting server on %s", c.Listen)
	return api.NewServer(st, c.Listen, c.NowSource).Run(g.ctx)
}

type ServeCmd struct {
	Listen string `default:":8080" env:"PREDSTORM_LISTEN" help:"Address to listen on."`
	Source string `default:"noaa-rtsw" help:"Archived source whose freshness /health reports."`
}

func (c *ServeCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	log.Printf("starting server on %s", c.Listen)
	return api.NewServer(st, c.Listen, c.Source).Run(g.ctx)
}

type VerifyCmd struct {
	RunFlags `embed:""`

	Until time.Time `format:"2006-01-02T15:04" help:"Only use observations before this UTC time (default: now)."`
	Days  int       `default:"30" help:"Summarise skill over runs issued in the last N days."`
}

func (c *VerifyCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	runner, err := c.runner(st)
	if err != nil {
		return err
	}
	until := c.Until
	if until.IsZero() {
		until = time.Now().UTC()
	}
	n, err := runner.VerifyPending(until)
	if err != nil {
		return err
	}
	fmt.Printf("verified %d runs\n", n)

	stats, err := st.GetVerificationStats(c.Days)
	if err != nil {
		return err
	}
	printStats(stats)
	return nil
}

type ExportCmd struct {
	Source string    `xor:"what" help:"Archived source to export."`
	RunID  string    `name:"run" xor:"what" help:"Forecast run ID to export ('latest' for the newest run)."`
	Start  time.Time `format:"2006-01-02" help:"Start of the exported range (YYYY-MM-DD)."`
	End    time.Time `format:"2006-01-02" help:"End of the exported range, exclusive (YYYY-MM-DD)."`
	Output string    `arg:"" type:"path" help:"Destination (.parquet, .txt or .txt.gz)."`
}

func (c *ExportCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	var s *satdata.Series
	switch {
	case c.Source != "":
		end := c.End
		if end.IsZero() {
			end = time.Now().UTC()
		}
		if s, err = st.LoadSeries(c.Source, c.Start, end); err != nil {
			return err
		}
	case c.RunID != "":
		if s, err = runSeries(st, c.RunID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("one of --source or --run is required")
	}
	if s.Len() == 0 {
		return fmt.Errorf("nothing to export: %w", satdata.ErrDataQuality)
	}
	if err := archive.WriteSeries(c.Output, s); err != nil {
		return err
	}
	fmt.Printf("wrote %d samples to %s\n", s.Len(), c.Output)
	return nil
}

// runSeries rebuilds the stored horizon of a forecast run as a series.
func runSeries(st *store.Store, id string) (*satdata.Series, error) {
	var run *models.ForecastRun
	var err error
	if id == "latest" {
		run, err = st.GetLatestForecastRun()
	} else {
		run, err = st.GetForecastRun(id)
	}
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("forecast run %q not found", id)
	}
	values, err := st.GetForecastValues(run.ID)
	if err != nil {
		return nil, err
	}

	byVar := make(map[satdata.Var][]float64)
	var times []float64
	for _, v := range values {
		variable, err := satdata.ParseVar(v.Variable)
		if err != nil {
			return nil, err
		}
		col := byVar[variable]
		if col == nil {
			col = make([]float64, run.Horizon)
			for i := range col {
				col[i] = math.NaN()
			}
			byVar[variable] = col
		}
		if v.Lead < 1 || v.Lead > run.Horizon {
			continue
		}
		if v.Value.Valid {
			col[v.Lead-1] = v.Value.Float64
		}
		if times == nil {
			times = make([]float64, run.Horizon)
		}
		times[v.Lead-1] = satdata.TimeToNum(v.ValidAt)
	}
	if times == nil {
		return nil, fmt.Errorf("forecast run %s has no values: %w", run.ID, satdata.ErrDataQuality)
	}

	var step time.Duration
	if run.Horizon > 1 {
		step = time.Duration((times[1] - times[0]) * float64(time.Second))
	}
	header := &satdata.Header{
		DataSource:   fmt.Sprintf("analogue forecast %s issued %s", run.ID, run.IssuedAt.UTC().Format(time.RFC3339)),
		SamplingRate: step,
	}
	return satdata.NewFromVars(times, byVar, "predstorm", header)
}

type DetailsCmd struct {
	Source string    `required:"" help:"Archived source recorded by the spacecraft, e.g. stereo-a."`
	At     time.Time `format:"2006-01-02T15:04" help:"UTC time to describe (default: last archived sample)."`
	Days   int       `default:"3" help:"Days of data loaded before the requested time."`

	EphemerisFlags `embed:""`
}

func (c *DetailsCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	prop, err := c.propagator()
	if err != nil {
		return err
	}
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s, err := st.LoadSeries(c.Source, at.Add(-time.Duration(c.Days)*24*time.Hour), at.Add(time.Second))
	if err != nil {
		return err
	}
	text, err := prop.Details(g.ctx, s, at)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

type StatusCmd struct {
	Days int `default:"7" help:"Days of import history to summarise."`
}

func (c *StatusCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	ranges, err := st.GetSeriesRanges()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSAMPLES\tFIRST\tLAST")
	for _, r := range ranges {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.Source, r.Samples, r.First.Format(time.RFC3339), r.Last.Format(time.RFC3339))
	}
	w.Flush()

	health, err := st.GetImportHealth(c.Days)
	if err != nil {
		return err
	}
	if len(health) > 0 {
		fmt.Println()
		fmt.Fprintln(w, "DATE\tSOURCE\tRUNS\tOK\tFAILED\tRECORDS\tMASKED")
		for _, h := range health {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n", h.Date, h.Source, h.TotalRuns, h.SuccessRuns, h.FailedRuns, h.TotalRecords, h.TotalMasked)
		}
		w.Flush()
	}

	failures, err := st.GetRecentImportErrors(5)
	if err != nil {
		return err
	}
	for _, f := range failures {
		fmt.Printf("import failed %s %s: %s\n", f.StartedAt.Format(time.RFC3339), f.Source, f.ErrorMessage.String)
	}

	alerts, err := st.GetUrgentAlerts(24 * time.Hour)
	if err != nil {
		return err
	}
	for _, a := range alerts {
		fmt.Printf("%s %s: %s\n", a.IssuedAt.Format("2006-01-02 15:04"), a.Code, a.Headline)
	}

	run, err := st.GetLatestForecastRun()
	if err != nil {
		return err
	}
	if run != nil {
		fmt.Printf("\nlatest forecast %s issued %s from %s (now window ends %s)\n",
			run.ID, run.IssuedAt.UTC().Format(time.RFC3339), run.Source, run.NowEnd.UTC().Format(time.RFC3339))
	}

	stats, err := st.GetVerificationStats(30)
	if err != nil {
		return err
	}
	printStats(stats)
	return nil
}

func printOutcome(out *pipeline.Outcome) {
	fmt.Printf("forecast %s issued %s, now window ends %s\n",
		out.Run.ID, out.Run.IssuedAt.UTC().Format(time.RFC3339), out.Run.NowEnd.UTC().Format(time.RFC3339))
	if !math.IsNaN(out.PeakDst) {
		fmt.Printf("minimum Dst %.0f nT at %s: %s\n", out.PeakDst, out.PeakTime.UTC().Format("2006-01-02 15:04"), out.Level)
	}

	vars := make([]satdata.Var, 0, len(out.Result.Matches))
	for v := range out.Result.Matches {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VARIABLE\tBEST MATCH\tDISTANCE")
	for _, v := range vars {
		m := out.Result.Matches[v]
		fmt.Fprintf(w, "%s\t%s\t%.3f\n", v, m.BestTime.UTC().Format("2006-01-02 15:04"), m.Distance)
	}
	w.Flush()
}

func printStats(stats []models.VerificationStats) {
	if len(stats) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VARIABLE\tRUNS\tMEAN RMSE\tMEAN BIAS")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.Variable, s.Runs, nullString(s.MeanRMSE), nullString(s.MeanBias))
	}
	w.Flush()
}

func nullString(v sql.NullFloat64) string {
	if !v.Valid {
		return "-"
	}
	return fmt.Sprintf("%.2f", v.Float64)
}
