package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/IWF-helio/PREDSTORM/internal/archive"
	"github.com/IWF-helio/PREDSTORM/internal/ephem"
	"github.com/IWF-helio/PREDSTORM/internal/ingest"
	"github.com/IWF-helio/PREDSTORM/internal/propagate"
	"github.com/IWF-helio/PREDSTORM/internal/store"
)

// Globals are shared by every command.
type Globals struct {
	EnvFile     kongdotenv.ENVFileConfig `name:"env-file" default:".env" help:"Load environment variables from this file."`
	DB          string                   `default:"data/predstorm.db" env:"PREDSTORM_DB" help:"Path to SQLite database."`
	MetricsAddr string                   `name:"metrics-addr" env:"PREDSTORM_METRICS_ADDR" help:"Serve Prometheus metrics on this address, e.g. :9090."`

	ctx context.Context `kong:"-"`
}

type CLI struct {
	Globals

	Import   ImportCmd   `cmd:"" help:"Import a solar wind file into the archive."`
	Fetch    FetchCmd    `cmd:"" help:"Download NOAA real-time solar wind into the archive."`
	Forecast ForecastCmd `cmd:"" help:"Issue one analogue forecast."`
	Watch    WatchCmd    `cmd:"" help:"Import real-time data and forecast on a schedule."`
	Verify   VerifyCmd   `cmd:"" help:"Score finished forecasts against observations."`
	Export   ExportCmd   `cmd:"" help:"Write an archived series or a forecast run to a file."`
	Details  DetailsCmd  `cmd:"" help:"Describe the L1 propagation geometry of a spacecraft."`
	Status   StatusCmd   `cmd:"" help:"Show archive coverage, import health and forecast skill."`
	Serve    ServeCmd    `cmd:"" help:"Serve the archive and forecasts as JSON."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("predstorm"),
		kong.Description("Solar wind analogue forecasting and L1 propagation."),
		kong.UsageOnError(),
		kong.Vars{
			"swpc_url":   ingest.DefaultSWPCBaseURL,
			"alerts_url": ingest.DefaultAlertsURL,
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cli.ctx = ctx

	if cli.MetricsAddr != "" {
		go serveMetrics(ctx, cli.MetricsAddr)
	}

	if err := kctx.Run(&cli.Globals); err != nil {
		log.Fatalf("%s: %v", kctx.Command(), err)
	}
}

// openStore opens and migrates the database.
func (g *Globals) openStore() (*store.Store, func(), error) {
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("metrics: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("metrics: %v", err)
	}
}

// EphemerisFlags configure where spacecraft positions come from. Trajectory
// files are consulted first, then the remote service, then the built-in
// analytic model of the planets.
type EphemerisFlags struct {
	Trajectories []string `name:"trajectory" type:"existingfile" help:"Parquet trajectory file for a spacecraft (repeatable)."`
	EphemerisURL string   `name:"ephemeris-url" env:"PREDSTORM_EPHEMERIS_URL" help:"Base URL of a trajectory service."`
	LagMethod    string   `name:"lag-method" enum:"per-sample,mean-speed" default:"per-sample" help:"How L1 time lags are computed (${enum})."`
	SynodicDays  float64  `name:"synodic-days" default:"26.24" help:"Solar rotation period seen from Earth, in days."`
}

func (f EphemerisFlags) propagator() (*propagate.Propagator, error) {
	var chain ephem.Chain
	if len(f.Trajectories) > 0 {
		table, err := archive.LoadTrajectories(f.Trajectories...)
		if err != nil {
			return nil, err
		}
		chain = append(chain, table)
	}
	if f.EphemerisURL != "" {
		chain = append(chain, ephem.NewHTTPClient(f.EphemerisURL))
	}
	chain = append(chain, ephem.Analytic{})

	method, err := propagate.ParseLagMethod(f.LagMethod)
	if err != nil {
		return nil, err
	}
	p := propagate.New(chain)
	p.Method = method
	p.SunSynodicDays = f.SynodicDays
	return p, nil
}
