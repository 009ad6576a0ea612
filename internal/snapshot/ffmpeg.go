// internal/snapshot/ffmpeg.go
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sua-org/cam-gateway/internal/core"
)

// Runner executa o binário e só retorna quando ele terminou.
type Runner func(ctx context.Context, bin string, args []string) error

// ExecRunner roda o ffmpeg de verdade. Quando o ctx expira o processo leva
// SIGKILL (exec.CommandContext) e o erro do ctx é devolvido.
func ExecRunner(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s saiu com código %d: %s",
				core.ErrFetchFailure, filepath.Base(bin), exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("%w: start %s: %v", core.ErrFetchFailure, bin, err)
	}
	return nil
}

// FFmpegEngine tira um frame do RTSP e troca pelo arquivo temporário.
type FFmpegEngine struct {
	Bin     string
	Desc    core.ConnectionDescriptor
	Prefix  []string
	Suffix  []string
	Width   int // scale opcional aplicado pelo próprio ffmpeg
	Height  int
	TempDir string
	Run     Runner
}

// OutputPath é determinístico por host: o arquivo é só ponto de troca.
func (e *FFmpegEngine) OutputPath() string {
	dir := e.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, e.Desc.HostID()+".jpg")
}

// Args monta o argv:
// -y [prefix] -rtsp_transport P -i URL -loglevel error [-vf scale=W:H] -vframes 1 [suffix] OUT
func (e *FFmpegEngine) Args(out string) []string {
	return e.args(e.Desc.RTSPURL(), out)
}

func (e *FFmpegEngine) maskedArgs(out string) []string {
	return e.args(e.Desc.MaskedRTSPURL(), out)
}

func (e *FFmpegEngine) args(input, out string) []string {
	args := []string{"-y"}
	args = append(args, e.Prefix...)
	args = append(args,
		"-rtsp_transport", string(e.Desc.Protocol),
		"-i", input,
		"-loglevel", "error",
	)
	if e.Width > 0 || e.Height > 0 {
		args = append(args, "-vf", scaleFilter(e.Width, e.Height))
	}
	args = append(args, "-vframes", "1")
	args = append(args, e.Suffix...)
	return append(args, out)
}

func (e *FFmpegEngine) Acquire(ctx context.Context) (*Image, error) {
	run := e.Run
	if run == nil {
		run = ExecRunner
	}
	bin := e.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	out := e.OutputPath()

	log.Printf("[snapshot] %s %s", bin, strings.Join(e.maskedArgs(out), " "))
	if err := run(ctx, bin, e.Args(out)); err != nil {
		// o stderr do ffmpeg repete a URL de entrada, com senha
		return nil, scrubError(err, e.Desc.Scrub)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%w: leitura de %s: %v", core.ErrFetchFailure, out, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s vazio", core.ErrFetchFailure, out)
	}
	return &Image{Data: data, ContentType: "image/jpeg", CapturedAt: time.Now()}, nil
}

// scrubbedError mantém a cadeia de errors.Is com a mensagem mascarada.
type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

func scrubError(err error, scrub func(string) string) error {
	msg := scrub(err.Error())
	if msg == err.Error() {
		return err
	}
	return &scrubbedError{msg: msg, err: err}
}

// scaleFilter usa -1 para manter a proporção quando só um lado foi dado.
func scaleFilter(w, h int) string {
	if w <= 0 {
		w = -1
	}
	if h <= 0 {
		h = -1
	}
	return fmt.Sprintf("scale=%d:%d", w, h)
}

// SplitArgs quebra os campos prefix/suffix da config.
func SplitArgs(s string) []string {
	return strings.Fields(s)
}
