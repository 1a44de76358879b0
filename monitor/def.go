// Package monitor exposes pipeline and process metrics on a dedicated
// Prometheus endpoint. Counters and gauges are package-level so the
// stage code can increment them without holding a registry reference;
// they are safe to touch before StartMon runs.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	// FramesProduced counts frames accepted from the source.
	FramesProduced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_produced_total",
		Help: "Total frames produced by the source stage",
	})
	// BatchesDelivered counts batches fully consumed by the sink.
	BatchesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "batches_delivered_total",
		Help: "Total detection batches delivered to the sink",
	})
	// InferenceErrors counts non-fatal detector failures.
	InferenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inference_errors_total",
		Help: "Total inference failures absorbed as empty batches",
	})
	// FramesSkipped counts frames the adaptive detector did not run
	// inference on.
	FramesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frames_skipped_total",
		Help: "Total frames skipped by adaptive load shedding",
	})
	// FrameQueueDepth is the current fill of the source→detector queue.
	FrameQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "frame_queue_depth",
		Help: "Frames currently buffered between source and detector",
	})
	// BatchQueueDepth is the current fill of the detector→sink queue.
	BatchQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "batch_queue_depth",
		Help: "Batches currently buffered between detector and sink",
	})
)

var (
	pid process.Process
	srv *http.Server
)

func prom(port int) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(memUsage, cpuUsage,
		FramesProduced, BatchesDelivered, InferenceErrors, FramesSkipped,
		FrameQueueDepth, BatchQueueDepth)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Prometheus server ListenAndServe error: %v\n", err)
		}
	}()
}

func checkProcessInfo() {
	memInfo, err := pid.MemoryInfo()
	if err == nil && memInfo != nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	cpuPercent, err := pid.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples process cpu/mem every
// 500ms until ctx is cancelled.
func StartMon(port int, ctx context.Context) {
	pid = process.Process{Pid: int32(os.Getpid())}
	prom(port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			checkProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("Prometheus server Shutdown error: %v\n", err)
	}
}
