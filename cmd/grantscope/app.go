package main

import (
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/grantscope/grantscope/internal/bmf"
	"github.com/grantscope/grantscope/internal/budget"
	"github.com/grantscope/grantscope/internal/catalog"
	"github.com/grantscope/grantscope/internal/config"
	"github.com/grantscope/grantscope/internal/inference"
	"github.com/grantscope/grantscope/internal/intel"
	"github.com/grantscope/grantscope/internal/propublica"
	"github.com/grantscope/grantscope/internal/scoring"
	"github.com/grantscope/grantscope/internal/screening"
	"github.com/grantscope/grantscope/internal/store"
	"github.com/grantscope/grantscope/internal/store/postgres"
	"github.com/grantscope/grantscope/internal/tools"
	"github.com/grantscope/grantscope/internal/workflow"
)

// app is the wired application, built once per process in
// PersistentPreRunE and shared by every command handler.
type app struct {
	cfg     config.Config
	table   *bmf.Table
	store   store.Store
	cache   store.ResultCache
	tracker *budget.Tracker
	invoker *tools.Invoker
	engine  *workflow.Engine
	funnel  *screening.Funnel
	orch    *intel.Orchestrator
}

var theApp *app

func initApp(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if lvl, lerr := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); lerr == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	a := &app{cfg: cfg}

	if cfg.BMF.Path != "" {
		a.table, err = bmf.Load(cfg.BMF.Path)
		if err != nil {
			return err
		}
		log.Info().Int("orgs", a.table.Len()).Str("path", cfg.BMF.Path).Msg("master file loaded")
	} else {
		a.table = bmf.NewTable(nil)
	}

	// Persistence: Postgres when configured, memory otherwise, with an
	// optional Redis hot layer in front of the result cache.
	if cfg.Postgres.DSN != "" {
		pg, perr := postgres.Open(cfg.Postgres.DSN, 5*time.Second)
		if perr != nil {
			return perr
		}
		a.store = pg
	} else {
		a.store = store.NewMemory()
	}
	a.cache = a.store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		a.cache = &store.Tiered{
			Hot:  store.NewRedisResultCache(rdb, cfg.Redis.Prefix),
			Cold: a.store,
		}
	}

	a.tracker = budget.NewTracker(budget.Limits{
		Run:   budget.FromDollars(cfg.Budget.RunUSD),
		Day:   budget.FromDollars(cfg.Budget.DayUSD),
		Month: budget.FromDollars(cfg.Budget.MonthUSD),
	})

	pp := propublica.New(propublica.Config{
		BaseURL:     cfg.ProPublica.BaseURL,
		MinInterval: time.Duration(cfg.ProPublica.MinInterval),
		CacheTTL:    time.Duration(cfg.ProPublica.CacheTTL),
	}, nil)

	var inf *inference.Client
	if cfg.Inference.BaseURL != "" {
		inf = inference.New(inference.Config{
			BaseURL:    cfg.Inference.BaseURL,
			APIKey:     cfg.Inference.APIKey,
			Model:      cfg.Inference.Model,
			CostMicros: budget.FromDollars(cfg.Inference.CostUSD),
			RPS:        cfg.Inference.RPS,
		}, nil)
	}

	weights := scoring.DefaultWeights()
	if cfg.Scoring.WeightsPath != "" {
		weights, err = scoring.LoadWeights(cfg.Scoring.WeightsPath)
		if err != nil {
			return err
		}
	}
	foundation := scoring.FoundationConfig{Adjacency: scoring.DefaultAdjacency()}

	reg := tools.NewRegistry()
	if err := catalog.Register(reg, catalog.Deps{
		BMF:        a.table,
		Filings:    a.store,
		ProPublica: pp,
		Inference:  inf,
		Weights:    weights,
		Foundation: foundation,
	}); err != nil {
		return err
	}
	a.invoker = tools.NewInvoker(reg, a.cache, a.tracker, 24*time.Hour)
	a.engine = workflow.NewEngine(a.invoker, a.store, cfg.Workflow.MaxConcurrent)
	a.funnel = screening.NewFunnel(a.invoker, foundation)
	a.orch = intel.NewOrchestrator(a.invoker)
	if err := catalog.RegisterComposites(reg, a.funnel, a.orch); err != nil {
		return err
	}
	if dir := cfg.Tools.MetadataDir; dir != "" {
		metas, merr := tools.LoadMetadataDir(dir)
		if merr != nil {
			return merr
		}
		if verr := reg.VerifyDeclared(metas); verr != nil {
			return verr
		}
	}

	theApp = a
	return nil
}
