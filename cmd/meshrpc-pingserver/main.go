// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command meshrpc-pingserver is a runnable demo: it dials NATS, registers
// the pingservice example method on a processor, and serves it via
// natsserver, exposing Prometheus metrics over HTTP. It stands in for the
// generated server binary a real service would build (§4.10).
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"code.hybscloud.com/meshrpc"
	"code.hybscloud.com/meshrpc/broker"
	"code.hybscloud.com/meshrpc/codec/binary"
	"code.hybscloud.com/meshrpc/examples/pingservice"
	"code.hybscloud.com/meshrpc/log"
	"code.hybscloud.com/meshrpc/metrics"
	"code.hybscloud.com/meshrpc/processor"
	"code.hybscloud.com/meshrpc/server/natsserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := log.New()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	registerer := prometheus.NewRegistry()
	metrics.New(registerer)

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()
	conn := broker.NewNATS(nc)

	proc := processor.New(binary.Factory{}, logger)
	pingservice.RegisterServer(proc, func(ctx *meshrpc.Context, message string) (string, error) {
		return "pong: " + message, nil
	})

	srv := natsserver.New(conn, proc, cfg.QueueGroup, logger, cfg.Subject)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.Serve(); err != nil {
			logger.Error("nats server exited", zap.Error(err))
		}
	}()
	logger.Info("meshrpc-pingserver listening",
		zap.String("nats_url", cfg.NATSURL),
		zap.String("subject", cfg.Subject),
		zap.String("metrics_addr", cfg.MetricsAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	srv.Stop()
	_ = metricsServer.Close()
	return nil
}
