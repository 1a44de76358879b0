package sink

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	iface "VisionFlow/interface"
)

// Box colors per class. Unlisted classes get blue.
var (
	colorPerson  = color.RGBA{R: 0, G: 255, B: 0}
	colorVehicle = color.RGBA{R: 255, G: 0, B: 0}
	colorOther   = color.RGBA{R: 0, G: 0, B: 255}
)

// Render draws detection boxes onto frames and writes them as JPEG files
// under a directory, one file per frame (frame_<seq>.jpg). It stands in
// for an interactive display window in headless deployments.
type Render struct {
	dir string
}

// NewRender creates the output directory if needed.
func NewRender(dir string) (*Render, error) {
	if dir == "" {
		return nil, fmt.Errorf("render directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	return &Render{dir: dir}, nil
}

// Consume implements iface.Sink.
func (r *Render) Consume(batch iface.DetectionBatch) error {
	frame := batch.Frame
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return fmt.Errorf("frame %d: %w", frame.Seq, err)
	}
	defer mat.Close()
	if mat.Empty() {
		// 空 Mat 说明像素数据不完整
		return fmt.Errorf("frame %d: empty pixel buffer", frame.Seq)
	}

	for _, d := range batch.Detections {
		rect := boxToRect(d, frame.Width, frame.Height)
		c := classColor(d.Label)
		gocv.Rectangle(&mat, rect, c, 2)
		label := fmt.Sprintf("%s: %.2f", d.Label, d.Confidence)
		org := image.Pt(rect.Min.X, rect.Min.Y-10)
		gocv.PutText(&mat, label, org, gocv.FontHersheySimplex, 0.5, c, 1)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("frame_%06d.jpg", frame.Seq))
	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("frame %d: write %s failed", frame.Seq, path)
	}
	return nil
}

// boxToRect converts a normalized center/size box into pixel coordinates,
// clamped to the frame.
func boxToRect(d iface.Detection, width, height int) image.Rectangle {
	w := float64(d.W) * float64(width)
	h := float64(d.H) * float64(height)
	x0 := float64(d.CX)*float64(width) - w/2
	y0 := float64(d.CY)*float64(height) - h/2
	rect := image.Rect(int(x0), int(y0), int(x0+w), int(y0+h))
	return rect.Intersect(image.Rect(0, 0, width, height))
}

func classColor(label string) color.RGBA {
	switch label {
	case "person":
		return colorPerson
	case "car", "truck", "bus", "motorcycle", "bike", "bicycle":
		return colorVehicle
	default:
		return colorOther
	}
}
