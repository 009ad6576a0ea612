// internal/imaging/imaging.go
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"
	"time"
)

const ContentType = "image/jpeg"

const defaultQuality = 90

// DefaultDateFormat usa os tokens YYYY MM DD hh mm ss.
const DefaultDateFormat = "YYYY-MM-DD hh:mm:ss"

// Options descreve o pipeline resize -> rotate -> overlay. Campos zerados
// desligam o estágio correspondente.
type Options struct {
	Width  int
	Height int
	Angle  int

	AddTime    bool
	DateFormat string
	Title      string

	Quality int
	Now     func() time.Time
}

type stage func(image.Image) image.Image

func (o Options) stages() []stage {
	var out []stage
	if o.Width > 0 || o.Height > 0 {
		out = append(out, func(img image.Image) image.Image { return Resize(img, o.Width, o.Height) })
	}
	if o.Angle%360 != 0 {
		out = append(out, func(img image.Image) image.Image { return Rotate(img, o.Angle) })
	}
	if lines := o.overlayLines(); len(lines) > 0 {
		out = append(out, func(img image.Image) image.Image { return Overlay(img, lines) })
	}
	return out
}

func (o Options) overlayLines() []string {
	var lines []string
	if o.AddTime {
		now := time.Now
		if o.Now != nil {
			now = o.Now
		}
		format := o.DateFormat
		if format == "" {
			format = DefaultDateFormat
		}
		lines = append(lines, now().Format(GoLayout(format)))
	}
	if t := strings.TrimSpace(o.Title); t != "" {
		lines = append(lines, t)
	}
	return lines
}

// Process decodifica, aplica os estágios e sempre re-encoda em JPEG.
func Process(src []byte, opts Options) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	for _, st := range opts.stages() {
		img = st(img)
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Dimensions lê só o cabeçalho da imagem.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

var dateTokens = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"hh", "15",
	"mm", "04",
	"ss", "05",
)

// GoLayout traduz "YYYY-MM-DD hh:mm:ss" para o layout do pacote time.
func GoLayout(format string) string {
	return dateTokens.Replace(format)
}
