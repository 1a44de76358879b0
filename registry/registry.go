// Package registry announces this pipeline node to a fleet registry so an
// orchestrator can discover running nodes and their health. Registration
// is fire-and-forget over HTTP; losing the registry never affects the
// pipeline itself.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"VisionFlow/logger"
)

// Node classes reported to the registry.
const (
	StubNode       = 0x3001
	ModelNode      = 0x3002
	TimeOutSeconds = 5
)

// RegisterRequest is the heartbeat body.
type RegisterRequest struct {
	Id         string `json:"id"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	NodeClass  int    `json:"nodeClass"`
	State      string `json:"state"`
	FrameQueue int    `json:"frameQueue"`
	TimeStamp  int64  `json:"timestamp"`
}

// RegisterResponse is the registry acknowledgement.
type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// StatusFunc supplies the live node state included in each heartbeat.
type StatusFunc func() (state string, frameQueue int)

// Config addresses the registry endpoint.
type Config struct {
	Addr string
	Port int
}

// SendAliveMessage posts one heartbeat immediately and then every
// TimeOutSeconds until ctx is cancelled. status may be nil.
func SendAliveMessage(cfg Config, ip string, port int, nodeClass int, status StatusFunc, ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	addr := fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port)
	url := fmt.Sprintf("http://%s/api/register", addr)
	ticker := time.NewTicker(TimeOutSeconds * time.Second)
	defer ticker.Stop()
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second) // 总超时
	id := uuid.NewString()

	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error(fmt.Sprintf("SendAliveMessage panic recovered: %v", r))
			}
		}()
		state := ""
		queue := 0
		if status != nil {
			state, queue = status()
		}
		var respBody RegisterResponse
		reqBody := RegisterRequest{
			Id:         id,
			IP:         ip,
			Port:       port,
			NodeClass:  nodeClass,
			State:      state,
			FrameQueue: queue,
			TimeStamp:  time.Now().Unix(),
		}
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(reqBody).
			SetResult(&respBody).
			Post(url)
		if err != nil {
			logger.Log().Error(fmt.Sprintf("request error: %v", err))
			return
		}
		if resp.IsError() {
			logger.Log().Error(fmt.Sprintf("registry returned error: %s, body: %s", resp.Status(), resp.String()))
		}
	}

	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
