package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	iface "VisionFlow/interface"
	"VisionFlow/logger"
	"VisionFlow/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 1 * time.Second

// viewer is one connected /ws/live client.
type viewer struct {
	id        string
	conn      *websocket.Conn
	mu        sync.Mutex // 串行化对同一连接的写
	closeOnce sync.Once
}

func (v *viewer) write(messageType int, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return v.conn.WriteMessage(messageType, data)
}

func (v *viewer) close(reason string) {
	v.closeOnce.Do(func() {
		_ = v.write(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		_ = v.conn.Close()
	})
}

// wsHub fans detection batches out to every connected websocket viewer.
// It plugs into the pipeline as a sink; a slow or dead viewer is dropped
// rather than allowed to stall delivery.
type wsHub struct {
	mu      sync.RWMutex
	viewers map[string]*viewer
}

func newWSHub() *wsHub {
	return &wsHub{viewers: map[string]*viewer{}}
}

type livePayload struct {
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Detections []iface.Detection `json:"detections"`
	ElapsedMs  float64           `json:"elapsedMs"`
}

// Consume implements iface.Sink. The payload carries detections only,
// never pixel data.
func (h *wsHub) Consume(batch iface.DetectionBatch) error {
	h.mu.RLock()
	if len(h.viewers) == 0 {
		h.mu.RUnlock()
		return nil
	}
	targets := make([]*viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		targets = append(targets, v)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(livePayload{
		Seq:        batch.Frame.Seq,
		Timestamp:  batch.Frame.Timestamp,
		Width:      batch.Frame.Width,
		Height:     batch.Frame.Height,
		Detections: batch.Detections,
		ElapsedMs:  float64(batch.Elapsed.Microseconds()) / 1000.0,
	})
	if err != nil {
		return err
	}

	for _, v := range targets {
		if err := v.write(websocket.TextMessage, data); err != nil {
			logger.Log().Info("dropping slow viewer",
				zap.String("session", v.id), zap.Error(err))
			h.release(v.id, "write failed")
		}
	}
	return nil
}

func (h *wsHub) add(conn *websocket.Conn) *viewer {
	v := &viewer{id: uuid.New().String(), conn: conn}
	h.mu.Lock()
	h.viewers[v.id] = v
	h.mu.Unlock()
	return v
}

func (h *wsHub) release(id string, reason string) bool {
	h.mu.Lock()
	v, ok := h.viewers[id]
	if ok {
		delete(h.viewers, id)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	v.close(reason)
	return true
}

func (h *wsHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	viewers := h.viewers
	h.viewers = map[string]*viewer{}
	h.mu.Unlock()
	for _, v := range viewers {
		v.close("server shutting down")
	}
}

func startHTTPServer(port int, p *pipeline.Pipeline, hub *wsHub) *http.Server {
	r := gin.Default()
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/pipeline/start", func(c *gin.Context) {
		if err := p.Start(); err != nil {
			if errors.Is(err, pipeline.ErrInvalidState) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "pipeline started"})
	})
	r.POST("/api/pipeline/stop", func(c *gin.Context) {
		if err := p.Stop(); err != nil {
			if errors.Is(err, pipeline.ErrInvalidState) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "pipeline draining"})
	})
	r.GET("/api/pipeline/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": pipeline.StateName(p.State())})
	})
	r.GET("/api/pipeline/stats", func(c *gin.Context) {
		stats := p.Stats()
		c.JSON(http.StatusOK, gin.H{
			"data":    stats,
			"viewers": hub.count(),
		})
	})
	r.GET("/ws/live", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// 升级失败，不要再写 JSON
			return
		}
		v := hub.add(conn)
		logger.Log().Info("viewer connected", zap.String("session", v.id))

		// 读循环只用来发现客户端断开，消息内容忽略
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					hub.release(v.id, "client disconnected")
					logger.Log().Info("viewer disconnected", zap.String("session", v.id))
					return
				}
			}
		}()
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("http server failed", zap.Error(err))
		}
	}()
	return srv
}
