// internal/stream/extractor.go
package stream

import (
	"bytes"
	"log"
)

// SOI (start of image) do JPEG, usado para separar frames do MJPEG bruto.
var soi = []byte{0xFF, 0xD8}

const maxPending = 10 << 20

// Extractor corta um fluxo contínuo em frames: tudo entre dois marcadores
// SOI consecutivos é um frame. O que vem depois do último marcador fica
// pendente até o próximo chegar.
type Extractor struct {
	buf     []byte
	scanned int // offset a partir do qual o próximo marcador ainda não foi procurado
}

// Feed devolve os frames completados por chunk, na ordem de chegada.
func (e *Extractor) Feed(chunk []byte) [][]byte {
	e.buf = append(e.buf, chunk...)

	if !bytes.HasPrefix(e.buf, soi) {
		start := bytes.Index(e.buf, soi)
		if start < 0 {
			// lixo antes do primeiro marcador; guarda só um possível 0xFF final
			if n := len(e.buf); n > 0 && e.buf[n-1] == soi[0] {
				e.buf = append(e.buf[:0], soi[0])
			} else {
				e.buf = e.buf[:0]
			}
			e.scanned = 0
			return nil
		}
		e.buf = e.buf[start:]
		e.scanned = 0
	}

	var frames [][]byte
	for {
		from := e.scanned
		if from < len(soi) {
			from = len(soi)
		}
		next := bytes.Index(e.buf[from:], soi)
		if next < 0 {
			// o marcador pode estar dividido entre dois chunks
			e.scanned = len(e.buf) - 1
			break
		}
		end := from + next
		frame := make([]byte, end)
		copy(frame, e.buf[:end])
		frames = append(frames, frame)

		e.buf = append(e.buf[:0], e.buf[end:]...)
		e.scanned = 0
	}

	if len(e.buf) > maxPending {
		log.Printf("[stream] buffer pendente passou de %d bytes sem marcador; descartando", maxPending)
		e.Reset()
	}
	return frames
}

// Pending é o frame parcial ainda sem marcador de fim.
func (e *Extractor) Pending() []byte {
	return e.buf
}

func (e *Extractor) Reset() {
	e.buf = nil
	e.scanned = 0
}
