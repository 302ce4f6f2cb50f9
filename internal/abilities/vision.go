package abilities

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/syne-agent/syne/internal/bus"
)

// maxImageEdge is the longest edge sent to vision models. Larger photos are
// downscaled to cut token cost without hurting recognition.
const maxImageEdge = 1568

// Vision prepares image attachments for vision-capable models: decodes,
// downscales oversized photos, and re-encodes as JPEG. The message itself is
// not consumed, so handled is always false and the conversation proceeds
// with the processed attachment.
type Vision struct{}

func (Vision) Name() string        { return "vision" }
func (Vision) Version() string     { return "1.1.0" }
func (Vision) Description() string { return "Image understanding for photo attachments" }

func (Vision) Process(ctx context.Context, msg *bus.InboundMessage, cfg map[string]any) (bool, error) {
	maxEdge := maxImageEdge
	if v, ok := cfg["max_edge"].(float64); ok && v > 0 {
		maxEdge = int(v)
	}

	for i := range msg.Media {
		m := &msg.Media[i]
		if m.Type != "image" || len(m.Data) == 0 {
			continue
		}
		processed, mime, err := normalizeImage(m.Data, maxEdge)
		if err != nil {
			return false, fmt.Errorf("decode image: %w", err)
		}
		m.Data = processed
		m.MimeType = mime
	}
	return false, nil
}

func normalizeImage(data []byte, maxEdge int) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", err
	}

	bounds := img.Bounds()
	if w, h := bounds.Dx(), bounds.Dy(); w > maxEdge || h > maxEdge {
		if w >= h {
			img = imaging.Resize(img, maxEdge, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxEdge, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}
