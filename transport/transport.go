// Package transport implements the cross-node delivery primitive used by
// the forwarding sink. The HTTP transport posts payloads to a collector
// endpoint; whatever moves the bytes on the far side is not our concern.
package transport

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"VisionFlow/logger"
)

const deliverTimeout = 5 * time.Second

// HTTP delivers payloads by POSTing them as JSON bodies.
type HTTP struct {
	client *resty.Client
	url    string
}

// NewHTTP creates a transport targeting url.
func NewHTTP(url string) (*HTTP, error) {
	if url == "" {
		return nil, fmt.Errorf("transport url cannot be empty")
	}
	return &HTTP{
		client: resty.New().SetTimeout(deliverTimeout),
		url:    url,
	}, nil
}

// Deliver implements iface.Transport: true means the far side accepted
// the payload (2xx). Failures are logged, not retried; the caller decides
// what a refused delivery means.
func (h *HTTP) Deliver(payload []byte) bool {
	resp, err := h.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(h.url)
	if err != nil {
		logger.S().Warnf("deliver error: %v", err)
		return false
	}
	if resp.IsError() {
		logger.S().Warnf("deliver rejected: %s, body: %s", resp.Status(), resp.String())
		return false
	}
	return true
}
