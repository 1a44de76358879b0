package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"VisionFlow/detector"
	iface "VisionFlow/interface"
	"VisionFlow/logger"
	"VisionFlow/monitor"
	"VisionFlow/pipeline"
	"VisionFlow/registry"
	"VisionFlow/sink"
	"VisionFlow/source"
	"VisionFlow/transport"
)

type configStruct struct {
	HTTPPort         int     `yaml:"HTTPPort"`
	MonitorPort      int     `yaml:"MonitorPort"`
	Width            int     `yaml:"width"`
	Height           int     `yaml:"height"`
	FrameRate        float64 `yaml:"frameRate"`
	ChannelCapacity  int     `yaml:"channelCapacity"`
	MaxFrames        uint64  `yaml:"maxFrames"`
	DetectorMode     string  `yaml:"detectorMode"`
	ReceiveTimeoutMs int     `yaml:"receiveTimeoutMs"`
	AdaptiveSkip     bool    `yaml:"adaptiveSkip"`
	LabelsFile       string  `yaml:"labelsFile"`
	InferenceURL     string  `yaml:"inferenceURL"`
	LogBatches       bool    `yaml:"logBatches"`
	RenderDir        string  `yaml:"renderDir"`
	ForwardURL       string  `yaml:"forwardURL"`
	UseRegServer     bool    `yaml:"UseRegServer"`
	RegServerHost    string  `yaml:"RegServerHost"`
	RegServerPort    int     `yaml:"RegServerPort"`
}

func GetOutboundIP() (string, error) {
	// 8.8.8.8 只是用来让内核选一条路由，拿到本机出口 IP，
	// 不需要真的联网（有路由表即可）
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

func buildDetector(config configStruct) (iface.Detector, int, error) {
	labels := detector.DefaultLabels
	if config.LabelsFile != "" {
		loaded, err := detector.LoadLabels(config.LabelsFile)
		if err != nil {
			return nil, 0, fmt.Errorf("load labels: %w", err)
		}
		labels = loaded
	}

	var det iface.Detector
	nodeClass := registry.StubNode
	switch config.DetectorMode {
	case "stub", "":
		det = detector.NewStub(labels, detector.DefaultMaxPerFrame)
	case "model":
		remote, err := detector.NewRemote(config.InferenceURL)
		if err != nil {
			return nil, 0, err
		}
		det, err = detector.NewModel(remote)
		if err != nil {
			return nil, 0, err
		}
		nodeClass = registry.ModelNode
	default:
		return nil, 0, fmt.Errorf("invalid detectorMode %q (want stub or model)", config.DetectorMode)
	}

	if config.AdaptiveSkip {
		det = detector.NewAdaptive(det)
	}
	return det, nodeClass, nil
}

func buildSinks(config configStruct, hub *wsHub) (iface.Sink, error) {
	sinks := []iface.Sink{hub}
	if config.LogBatches {
		sinks = append(sinks, sink.NewLogger())
	}
	if config.RenderDir != "" {
		render, err := sink.NewRender(config.RenderDir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, render)
	}
	if config.ForwardURL != "" {
		tr, err := transport.NewHTTP(config.ForwardURL)
		if err != nil {
			return nil, err
		}
		forward, err := sink.NewForward(tr)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, forward)
	}
	return sink.NewMulti(sinks...), nil
}

func main() {
	ip, err := GetOutboundIP()
	if err != nil {
		fmt.Println("Failed to get outbound IP:", err)
		return
	}
	fmt.Println("Outbound IP:", ip)

	var wg sync.WaitGroup
	if err := logger.InitProduction(); err != nil {
		fmt.Println("Failed to init logger:", err)
		return
	}
	defer logger.Sync()

	fmt.Println(strings.Repeat("#", 64))
	CPUNum := runtime.NumCPU()
	fmt.Printf("CPU Cores: %d\n", CPUNum)

	configData, err := os.ReadFile("config.yaml")
	if err != nil {
		fmt.Println("Failed to read config file:", err)
		return
	}
	config := configStruct{}
	if err := yaml.Unmarshal(configData, &config); err != nil {
		fmt.Println("Failed to parse config file:", err)
		return
	}
	fmt.Println("  HTTP  Port:", config.HTTPPort)
	fmt.Println("Monitor Port:", config.MonitorPort)
	fmt.Printf("  Resolution: %dx%d @ %.1f fps\n", config.Width, config.Height, config.FrameRate)
	fmt.Println("    Detector:", config.DetectorMode)
	fmt.Println(strings.Repeat("#", 64))

	if config.Width <= 0 || config.Height <= 0 {
		config.Width = source.DefaultWidth
		config.Height = source.DefaultHeight
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Invalid resolution in config, defaulting to 640x480")
		fmt.Println(strings.Repeat("!", 64))
	}
	if config.FrameRate <= 0 {
		config.FrameRate = source.DefaultFPS
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Invalid frameRate in config, defaulting to 30")
		fmt.Println(strings.Repeat("!", 64))
	}
	if config.ChannelCapacity <= 0 {
		fmt.Println("channelCapacity not set, using default")
	}

	src, err := source.NewSynthetic(source.Config{
		Width:     config.Width,
		Height:    config.Height,
		FPS:       config.FrameRate,
		MaxFrames: config.MaxFrames,
	})
	if err != nil {
		logger.Log().Error("source setup failed", zap.Error(err))
		return
	}

	det, nodeClass, err := buildDetector(config)
	if err != nil {
		logger.Log().Error("detector setup failed", zap.Error(err))
		return
	}

	hub := newWSHub()
	sinks, err := buildSinks(config, hub)
	if err != nil {
		logger.Log().Error("sink setup failed", zap.Error(err))
		return
	}

	p, err := pipeline.New(pipeline.Config{
		ChannelCapacity: config.ChannelCapacity,
		ReceiveTimeout:  time.Duration(config.ReceiveTimeoutMs) * time.Millisecond,
	}, src, det, sinks)
	if err != nil {
		logger.Log().Error("pipeline setup failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go monitor.StartMon(config.MonitorPort, ctx)

	wg.Add(1)
	if config.UseRegServer {
		status := func() (string, int) {
			stats := p.Stats()
			return stats.State, stats.FrameQueue
		}
		go registry.SendAliveMessage(
			registry.Config{Addr: config.RegServerHost, Port: config.RegServerPort},
			ip, config.HTTPPort, nodeClass, status, ctx, &wg)
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
		wg.Done()
	}

	// 把事件流排空到日志，防止只存不取
	go func() {
		for ev := range p.Events() {
			logger.Log().Debug("pipeline event",
				zap.Int("kind", int(ev.Kind)),
				zap.Uint64("seq", ev.Seq),
				zap.Error(ev.Err),
			)
		}
	}()

	srv := startHTTPServer(config.HTTPPort, p, hub)

	if err := p.Start(); err != nil {
		logger.Log().Error("pipeline start failed", zap.Error(err))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Log().Info("signal received, stopping pipeline")
		if err := p.Stop(); err != nil {
			logger.Log().Warn("stop failed", zap.Error(err))
		}
	case <-p.Done():
		logger.Log().Info("pipeline finished on its own")
	}
	p.Wait()

	cancel()
	hub.closeAll()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Warn("http server shutdown", zap.Error(err))
	}
	wg.Wait()
	fmt.Println("Safely exited")
}
