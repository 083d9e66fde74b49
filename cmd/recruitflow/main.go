package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"recruitflow/internal/api"
	"recruitflow/internal/automation"
	"recruitflow/internal/notify"
	"recruitflow/internal/scheduler"
	"recruitflow/internal/store"
)

func main() {
	_ = godotenv.Load()

	var (
		addr     = flag.String("addr", envOr("RECRUITFLOW_ADDR", ":8080"), "HTTP bind address")
		dbPath   = flag.String("db", envOr("RECRUITFLOW_DB", "recruitflow.db"), "SQLite DB path")
		interval = flag.Duration("automation-interval", envDurOr("RECRUITFLOW_AUTOMATION_INTERVAL", 15*time.Minute), "automation pass interval (0 disables the background runner)")
		debug    = flag.Bool("debug", false, "enable pprof debug routes")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	st := store.NewSQLiteStore(db)
	dir := store.NewDirectory(db)
	hub := notify.NewHub()
	sink := notify.NewSink(st, hub)
	core := scheduler.NewCore(st)
	engine := automation.NewEngine(st, dir, sink)
	dispatcher := automation.NewDispatcher(engine, core)

	ctx, cancel := context.WithCancel(context.Background())

	var runner *automation.Runner
	if *interval > 0 {
		runner = automation.NewRunner(dispatcher, *interval)
		go runner.Start(ctx)
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: api.NewServerWithDebug(st, core, sink, hub, dispatcher, *debug),
	}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	if runner != nil {
		runner.Stop()
	}
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
