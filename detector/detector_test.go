package detector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	iface "VisionFlow/interface"
)

func testFrame(seq uint64) iface.Frame {
	return iface.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     640,
		Height:    480,
		Data:      make([]byte, 640*480*3),
	}
}

func TestStub_All(t *testing.T) {
	t.Run("Test deterministic per sequence number", func(t *testing.T) {
		a := NewStub(nil, 0)
		b := NewStub(nil, 0)
		first, err := a.Detect(testFrame(42))
		assert.NoError(t, err)
		second, err := b.Detect(testFrame(42))
		assert.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("Test different seeds differ eventually", func(t *testing.T) {
		s := NewStub(nil, 0)
		same := true
		base, _ := s.Detect(testFrame(1))
		for seq := uint64(2); seq <= 20; seq++ {
			got, _ := s.Detect(testFrame(seq))
			if !assert.ObjectsAreEqual(base, got) {
				same = false
				break
			}
		}
		assert.False(t, same, "20 consecutive frames produced identical detections")
	})

	t.Run("Test output within contract", func(t *testing.T) {
		s := NewStub([]string{"person", "car", "bike"}, 6)
		for seq := uint64(1); seq <= 200; seq++ {
			dets, err := s.Detect(testFrame(seq))
			assert.NoError(t, err)
			assert.LessOrEqual(t, len(dets), 6)
			for _, d := range dets {
				assert.NotEmpty(t, d.Label)
				assert.GreaterOrEqual(t, d.Confidence, float32(0))
				assert.LessOrEqual(t, d.Confidence, float32(1))
				for _, v := range [4]float32{d.CX, d.CY, d.W, d.H} {
					assert.GreaterOrEqual(t, v, float32(0))
					assert.LessOrEqual(t, v, float32(1))
				}
			}
		}
	})
}

type fakeClient struct {
	raws []iface.RawDetection
	err  error
}

func (f *fakeClient) Infer(frame iface.Frame) ([]iface.RawDetection, error) {
	return f.raws, f.err
}

func TestModel_All(t *testing.T) {
	t.Run("Test nil client rejected", func(t *testing.T) {
		_, err := NewModel(nil)
		assert.Error(t, err)
	})

	t.Run("Test normalized passthrough", func(t *testing.T) {
		m, _ := NewModel(&fakeClient{raws: []iface.RawDetection{
			{Label: "person", Confidence: 0.9, CX: 0.5, CY: 0.5, W: 0.2, H: 0.4, Normalized: true},
		}})
		dets, err := m.Detect(testFrame(1))
		assert.NoError(t, err)
		if assert.Len(t, dets, 1) {
			assert.Equal(t, "person", dets[0].Label)
			assert.InDelta(t, 0.9, dets[0].Confidence, 0.0001)
			assert.InDelta(t, 0.5, dets[0].CX, 0.0001)
		}
	})

	t.Run("Test pixel coordinates normalized", func(t *testing.T) {
		m, _ := NewModel(&fakeClient{raws: []iface.RawDetection{
			{Label: "car", Confidence: 0.8, CX: 320, CY: 240, W: 64, H: 48},
		}})
		dets, err := m.Detect(testFrame(1)) // 640x480
		assert.NoError(t, err)
		if assert.Len(t, dets, 1) {
			assert.InDelta(t, 0.5, dets[0].CX, 0.0001)
			assert.InDelta(t, 0.5, dets[0].CY, 0.0001)
			assert.InDelta(t, 0.1, dets[0].W, 0.0001)
			assert.InDelta(t, 0.1, dets[0].H, 0.0001)
		}
	})

	t.Run("Test confidence clamped", func(t *testing.T) {
		m, _ := NewModel(&fakeClient{raws: []iface.RawDetection{
			{Label: "dog", Confidence: 1.7, CX: 0.5, CY: 0.5, W: 0.1, H: 0.1, Normalized: true},
			{Label: "cat", Confidence: -0.3, CX: 0.5, CY: 0.5, W: 0.1, H: 0.1, Normalized: true},
		}})
		dets, err := m.Detect(testFrame(1))
		assert.NoError(t, err)
		if assert.Len(t, dets, 2) {
			assert.Equal(t, float32(1), dets[0].Confidence)
			assert.Equal(t, float32(0), dets[1].Confidence)
		}
	})

	t.Run("Test unlabeled entries dropped", func(t *testing.T) {
		m, _ := NewModel(&fakeClient{raws: []iface.RawDetection{
			{Label: "", Confidence: 0.9, CX: 0.5, CY: 0.5, W: 0.1, H: 0.1, Normalized: true},
			{Label: "bike", Confidence: 0.6, CX: 0.5, CY: 0.5, W: 0.1, H: 0.1, Normalized: true},
		}})
		dets, err := m.Detect(testFrame(1))
		assert.NoError(t, err)
		assert.Len(t, dets, 1)
	})

	t.Run("Test collaborator error surfaces", func(t *testing.T) {
		boom := errors.New("backend down")
		m, _ := NewModel(&fakeClient{err: boom})
		dets, err := m.Detect(testFrame(7))
		assert.Nil(t, dets)
		assert.ErrorIs(t, err, boom)
	})
}

type pacedDetector struct {
	delay time.Duration
	calls int
}

func (p *pacedDetector) Detect(frame iface.Frame) ([]iface.Detection, error) {
	p.calls++
	time.Sleep(p.delay)
	return []iface.Detection{{Label: "person", Confidence: 0.9, CX: 0.5, CY: 0.5, W: 0.1, H: 0.1}}, nil
}

func TestAdaptive_All(t *testing.T) {
	t.Run("Test slow detector raises interval", func(t *testing.T) {
		inner := &pacedDetector{delay: slowThreshold + 20*time.Millisecond}
		a := NewAdaptive(inner)
		// 第一帧处理后 interval 变 2，第二帧被跳过
		dets, err := a.Detect(testFrame(1))
		assert.NoError(t, err)
		assert.Len(t, dets, 1)
		assert.Equal(t, 2, a.Interval())

		dets, err = a.Detect(testFrame(2))
		assert.NoError(t, err)
		assert.Empty(t, dets)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("Test fast detector recovers", func(t *testing.T) {
		inner := &pacedDetector{delay: 0}
		a := NewAdaptive(inner)
		a.interval = 3
		// counter=0 → 处理，interval 应降为 2
		_, err := a.Detect(testFrame(1))
		assert.NoError(t, err)
		assert.Equal(t, 2, a.Interval())
	})

	t.Run("Test interval bounded", func(t *testing.T) {
		inner := &pacedDetector{delay: slowThreshold + 10*time.Millisecond}
		a := NewAdaptive(inner)
		a.interval = maxInterval
		_, _ = a.Detect(testFrame(1))
		assert.Equal(t, maxInterval, a.Interval())
	})
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "names.txt")
	assert.NoError(t, os.WriteFile(path, []byte("person\r\ncar\n\nbike\n"), 0o644))

	labels, err := LoadLabels(path)
	assert.NoError(t, err)
	assert.Equal(t, []string{"person", "car", "bike"}, labels)

	_, err = LoadLabels(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.txt")
	assert.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = LoadLabels(empty)
	assert.Error(t, err)
}

func TestCocoLabels(t *testing.T) {
	assert.Len(t, CocoLabels, 80)
	assert.Equal(t, "person", CocoLabels[0])
	assert.Equal(t, "toothbrush", CocoLabels[79])
	fmt.Println("coco classes:", len(CocoLabels))
}
