// internal/imaging/transform.go
package imaging

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
)

// Resize escala para w x h. Com um dos lados zerado, mantém a proporção.
func Resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if w <= 0 && h <= 0 || b.Dx() == 0 || b.Dy() == 0 {
		return img
	}
	if w <= 0 {
		w = int(math.Round(float64(b.Dx()) * float64(h) / float64(b.Dy())))
	}
	if h <= 0 {
		h = int(math.Round(float64(b.Dy()) * float64(w) / float64(b.Dx())))
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Rotate gira no sentido horário. Múltiplos de 90 são exatos (matriz
// inteira com NearestNeighbor); outros ângulos expandem o quadro, usam
// BiLinear e preenchem o resto com preto.
func Rotate(img image.Image, angle int) image.Image {
	angle %= 360
	if angle < 0 {
		angle += 360
	}
	if angle == 0 {
		return img
	}
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	minX, minY := float64(b.Min.X), float64(b.Min.Y)

	var m f64.Aff3
	switch angle {
	case 90:
		m = f64.Aff3{0, -1, h + minY, 1, 0, -minX}
	case 180:
		m = f64.Aff3{-1, 0, w + minX, 0, -1, h + minY}
	case 270:
		m = f64.Aff3{0, 1, -minY, -1, 0, w + minX}
	}
	if angle%90 == 0 {
		size := image.Rect(0, 0, b.Dx(), b.Dy())
		if angle != 180 {
			size = image.Rect(0, 0, b.Dy(), b.Dx())
		}
		dst := image.NewRGBA(size)
		draw.NearestNeighbor.Transform(dst, m, img, b, draw.Src, nil)
		return dst
	}

	rad := float64(angle) * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	nw := int(math.Ceil(math.Abs(w*cos) + math.Abs(h*sin)))
	nh := int(math.Ceil(math.Abs(w*sin) + math.Abs(h*cos)))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	// gira em torno do centro da origem e leva para o centro do destino
	cxs, cys := minX+w/2, minY+h/2
	cxd, cyd := float64(nw)/2, float64(nh)/2
	m = f64.Aff3{
		cos, -sin, cxd - cos*cxs + sin*cys,
		sin, cos, cyd - sin*cxs - cos*cys,
	}
	draw.BiLinear.Transform(dst, m, img, b, draw.Src, nil)
	return dst
}

const (
	overlayPadding = 4
	lineHeight     = 13
)

// Overlay escreve as linhas no canto superior esquerdo sobre uma faixa escura.
func Overlay(img image.Image, lines []string) image.Image {
	if len(lines) == 0 {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	face := basicfont.Face7x13
	textW := 0
	for _, l := range lines {
		if lw := font.MeasureString(face, l).Ceil(); lw > textW {
			textW = lw
		}
	}
	box := image.Rect(0, 0, textW+2*overlayPadding, len(lines)*lineHeight+2*overlayPadding).Intersect(dst.Bounds())
	draw.Draw(dst, box, image.NewUniform(color.RGBA{A: 160}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: face,
	}
	for i, l := range lines {
		d.Dot = fixed.P(overlayPadding, overlayPadding+(i+1)*lineHeight-3)
		d.DrawString(l)
	}
	return dst
}
