package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func dims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	w, h, err := Dimensions(data)
	if err != nil {
		t.Fatalf("Dimensions: %v", err)
	}
	return w, h
}

func TestProcessNoOpReencodes(t *testing.T) {
	src := testJPEG(t, 40, 20)
	out, err := Process(src, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if w, h := dims(t, out); w != 40 || h != 20 {
		t.Fatalf("got %dx%d, want 40x20", w, h)
	}
}

func TestProcessResizeKeepsAspect(t *testing.T) {
	src := testJPEG(t, 40, 20)
	out, err := Process(src, Options{Width: 20})
	if err != nil {
		t.Fatal(err)
	}
	if w, h := dims(t, out); w != 20 || h != 10 {
		t.Fatalf("got %dx%d, want 20x10", w, h)
	}

	out, err = Process(src, Options{Width: 30, Height: 30})
	if err != nil {
		t.Fatal(err)
	}
	if w, h := dims(t, out); w != 30 || h != 30 {
		t.Fatalf("got %dx%d, want 30x30", w, h)
	}
}

func TestProcessResizeThenRotate(t *testing.T) {
	src := testJPEG(t, 40, 20)
	out, err := Process(src, Options{Width: 20, Angle: 90})
	if err != nil {
		t.Fatal(err)
	}
	if w, h := dims(t, out); w != 10 || h != 20 {
		t.Fatalf("got %dx%d, want 10x20", w, h)
	}
}

func TestRotateQuarterTurns(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	marker := color.RGBA{R: 255, A: 255}
	img.Set(0, 0, marker) // canto superior esquerdo

	r90 := Rotate(img, 90)
	if b := r90.Bounds(); b.Dx() != 2 || b.Dy() != 3 {
		t.Fatalf("90: bounds %v", b)
	}
	if got := color.RGBAModel.Convert(r90.At(1, 0)); got != marker {
		t.Errorf("90: top-left should move to top-right, got %v", got)
	}

	r180 := Rotate(img, 180)
	if got := color.RGBAModel.Convert(r180.At(2, 1)); got != marker {
		t.Errorf("180: top-left should move to bottom-right, got %v", got)
	}

	r270 := Rotate(img, -90)
	if got := color.RGBAModel.Convert(r270.At(0, 2)); got != marker {
		t.Errorf("270: top-left should move to bottom-left, got %v", got)
	}
}

func TestRotateArbitraryExpands(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	r := Rotate(img, 45)
	if b := r.Bounds(); b.Dx() <= 40 || b.Dy() <= 20 {
		t.Fatalf("45: expected expanded bounds, got %v", b)
	}
}

func TestOverlayDrawsText(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 120, 40))
	out := Overlay(img, []string{"front door"})

	lit := false
	for y := 0; y < 20 && !lit; y++ {
		for x := 0; x < 80; x++ {
			r, _, _, _ := out.At(x, y).RGBA()
			if r > 0xC000 {
				lit = true
				break
			}
		}
	}
	if !lit {
		t.Fatal("expected white text pixels in the overlay box")
	}
	if Overlay(img, nil) != image.Image(img) {
		t.Fatal("empty overlay should return the input image")
	}
}

func TestOverlayLines(t *testing.T) {
	fixed := time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC)
	opts := Options{AddTime: true, Title: "  garage ", Now: func() time.Time { return fixed }}
	lines := opts.overlayLines()
	if len(lines) != 2 || lines[0] != "2024-03-05 07:08:09" || lines[1] != "garage" {
		t.Fatalf("lines = %q", lines)
	}

	opts.DateFormat = "DD.MM.YY hh:mm"
	if got := opts.overlayLines()[0]; got != "05.03.24 07:08" {
		t.Fatalf("custom format = %q", got)
	}
}

func TestProcessRejectsGarbage(t *testing.T) {
	if _, err := Process([]byte("not an image"), Options{}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRotateArbitraryKeepsCenterAndFillsCorners(t *testing.T) {
	red := color.RGBA{R: 200, G: 40, B: 40, A: 255}
	img := image.NewRGBA(image.Rect(10, 10, 50, 30)) // origem fora de (0,0)
	for y := 10; y < 30; y++ {
		for x := 10; x < 50; x++ {
			img.Set(x, y, red)
		}
	}
	r := Rotate(img, 30)
	b := r.Bounds()

	center := color.RGBAModel.Convert(r.At(b.Dx()/2, b.Dy()/2)).(color.RGBA)
	if center.R < 180 || center.G > 60 {
		t.Fatalf("center should stay red, got %v", center)
	}
	corner := color.RGBAModel.Convert(r.At(0, 0)).(color.RGBA)
	if corner.R != 0 || corner.G != 0 || corner.B != 0 {
		t.Fatalf("corner should be black fill, got %v", corner)
	}
}

func TestRotateQuarterTurnWithOffsetBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(5, 7, 8, 9)) // 3x2 com origem deslocada
	marker := color.RGBA{G: 255, A: 255}
	img.Set(5, 7, marker)

	r := Rotate(img, 90)
	if b := r.Bounds(); b.Dx() != 2 || b.Dy() != 3 {
		t.Fatalf("bounds %v", b)
	}
	if got := color.RGBAModel.Convert(r.At(1, 0)); got != marker {
		t.Fatalf("top-left should move to top-right, got %v", got)
	}
}
