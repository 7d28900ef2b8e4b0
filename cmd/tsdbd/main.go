// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/gops/agent"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/nhr-fau/gorilla-tsdb/internal/api"
	"github.com/nhr-fau/gorilla-tsdb/internal/config"
	"github.com/nhr-fau/gorilla-tsdb/internal/metrics"
	"github.com/nhr-fau/gorilla-tsdb/internal/runtimeenv"
	"github.com/nhr-fau/gorilla-tsdb/internal/tsdb"
	"github.com/nhr-fau/gorilla-tsdb/pkg/log"
)

const compactionInterval = 300 * time.Second

func main() {
	var flagGops bool
	var flagEnvFile string
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagEnvFile, "env-file", "./.env", "Path to an optional .env file overlaying the process environment")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeenv.LoadEnv(flagEnvFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing %q failed: %s", flagEnvFile, err.Error())
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(cfg.LogLevel)

	engine, err := tsdb.Open(cfg.DataDir, cfg.MemtableThreshold)
	if err != nil {
		log.Fatalf("opening engine at %q failed: %s", cfg.DataDir, err.Error())
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	engine.SetMetrics(collector)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("creating compaction scheduler failed: %s", err.Error())
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(compactionInterval),
		gocron.NewTask(func() {
			if err := engine.Compact(); err != nil {
				log.Errorf("scheduled compaction failed: %s", err.Error())
			}
		}),
	); err != nil {
		log.Fatalf("registering compaction job failed: %s", err.Error())
	}
	scheduler.Start()

	restAPI := &api.API{
		Engine:       engine,
		Metrics:      collector,
		Gatherer:     reg,
		CompactLimit: rate.NewLimiter(rate.Every(time.Minute), 1),
	}

	router := mux.NewRouter()
	restAPI.MountRoutes(router)
	router.Use(handlers.CompressHandler)
	router.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))

	accessLog := handlers.CustomLoggingHandler(io.Discard, router, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("%s %s (%d, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, time.Since(params.TimeStamp).Milliseconds())
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      accessLog,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("starting listener on %s failed: %s", addr, err.Error())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("tsdbd: listening on %s (data dir %s)", addr, cfg.DataDir)
		runtimeenv.SystemdNotify(true, "running")
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	runtimeenv.SystemdNotify(false, "shutting down")
	log.Info("tsdbd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown failed: %s", err.Error())
	}

	scheduler.Shutdown()

	if err := engine.Flush(); err != nil {
		log.Errorf("final flush failed: %s", err.Error())
	}

	wg.Wait()
}
