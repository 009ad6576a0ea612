// internal/stream/process.go
package stream

import (
	"context"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"
)

// Process é o ffmpeg de streaming em execução.
type Process interface {
	Stdout() io.Reader
	Wait() error
	Kill() error
}

type Launcher interface {
	Launch(ctx context.Context, bin string, args []string) (Process, error)
}

type LauncherFunc func(ctx context.Context, bin string, args []string) (Process, error)

func (f LauncherFunc) Launch(ctx context.Context, bin string, args []string) (Process, error) {
	return f(ctx, bin, args)
}

// ExecLauncher sobe o processo real. O stderr do ffmpeg vai para o log com
// o prefixo da câmera, passando antes por Mask.
type ExecLauncher struct {
	Camera string
	Mask   func(string) string
}

func (l ExecLauncher) Launch(ctx context.Context, bin string, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = 2 * time.Second
	cmd.Stderr = stderrLogger{camera: l.Camera, mask: l.Mask}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdout: stdout}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

type stderrLogger struct {
	camera string
	mask   func(string) string
}

func (w stderrLogger) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if w.mask != nil {
				line = w.mask(line)
			}
			log.Printf("[stream] %s ffmpeg: %s", w.camera, line)
		}
	}
	return len(p), nil
}
