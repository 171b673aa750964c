package main

import (
	"context"
	"sync"

	"github.com/alecthomas/kong"
	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Version is set via ldflags when building.
var Version = "dev"

type Globals struct {
	LogLevel string `help:"Log level (overrides LOG_LEVEL)." default:"${log_level}"`
}

// Env builds the application on first use so commands that fail flag
// validation never dial BigQuery.
type Env struct {
	cfg *config.Config
	log zerolog.Logger

	once sync.Once
	app  *app.App
	err  error
}

func (e *Env) App(ctx context.Context) (*app.App, error) {
	e.once.Do(func() {
		e.app, e.err = app.New(ctx, e.cfg, e.log)
	})
	return e.app, e.err
}

func (e *Env) Close() {
	if e.app != nil {
		e.app.Close()
	}
}

var cli struct {
	Globals

	Version kong.VersionFlag `help:"Show version information."`
	Commands
}

func main() {
	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	env := &Env{cfg: cfg}
	ctx := kong.Parse(&cli,
		kong.Vars{
			"version":   Version,
			"log_level": cfg.LogLevel,
		},
		kong.Name("ledgerctl"),
		kong.Description("Ingest ledger transactions and build financial reports."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals, env),
	)
	env.log = logger.NewWithLevel(cli.LogLevel)

	err = ctx.Run()
	env.Close()
	ctx.FatalIfErrorf(err)
}
