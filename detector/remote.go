package detector

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"gocv.io/x/gocv"

	iface "VisionFlow/interface"
)

const remoteTimeout = 5 * time.Second

// inferenceRequest is the JSON body posted to the inference service.
type inferenceRequest struct {
	Seq     uint64 `json:"seq"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	ImgData string `json:"imgData"` // base64 JPEG
}

// inferenceResponse mirrors the inference service reply.
type inferenceResponse struct {
	Success bool                 `json:"success"`
	Results []iface.RawDetection `json:"results"`
	Message string               `json:"message"`
}

// Remote is an InferenceClient that posts JPEG-encoded frames to an HTTP
// inference service and returns its raw detections. It exists so the
// model detector can delegate to an out-of-process backend without
// linking any inference runtime into this binary.
type Remote struct {
	client *resty.Client
	url    string
}

// NewRemote creates a client for the inference endpoint at url.
func NewRemote(url string) (*Remote, error) {
	if url == "" {
		return nil, fmt.Errorf("inference url cannot be empty")
	}
	return &Remote{
		client: resty.New().SetTimeout(remoteTimeout),
		url:    url,
	}, nil
}

// Infer implements iface.InferenceClient.
func (r *Remote) Infer(frame iface.Frame) ([]iface.RawDetection, error) {
	jpeg, err := encodeJPEG(frame)
	if err != nil {
		return nil, err
	}

	var respBody inferenceResponse
	resp, err := r.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(inferenceRequest{
			Seq:     frame.Seq,
			Width:   frame.Width,
			Height:  frame.Height,
			ImgData: base64.StdEncoding.EncodeToString(jpeg),
		}).
		SetResult(&respBody).
		Post(r.url)
	if err != nil {
		return nil, fmt.Errorf("inference request error: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("inference server returned %s", resp.Status())
	}
	if !respBody.Success {
		return nil, fmt.Errorf("inference rejected frame %d: %s", frame.Seq, respBody.Message)
	}
	return respBody.Results, nil
}

// encodeJPEG turns the raw BGR24 buffer into a JPEG for the wire.
func encodeJPEG(frame iface.Frame) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", frame.Seq, err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("frame %d: empty pixel buffer", frame.Seq)
	}
	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("frame %d: jpeg encode: %w", frame.Seq, err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
