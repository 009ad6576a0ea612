// internal/gateway/server.go
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"

	"github.com/sua-org/cam-gateway/internal/core"
	"github.com/sua-org/cam-gateway/internal/push"
	"github.com/sua-org/cam-gateway/internal/snapshot"
)

type Cameras interface {
	Snapshot(ctx context.Context, camera string, req core.RequestParams) (*snapshot.Image, error)
	Has(camera string) bool
}

type LastValues interface {
	Last(camera string) ([]byte, time.Time, bool)
}

// Stored devolve o último snapshot espelhado em disco.
type Stored interface {
	Load(camera string) ([]byte, error)
}

type LiveHub interface {
	Serve(w http.ResponseWriter, r *http.Request, camera string, width int, subs push.Subscriptions) error
}

type Server struct {
	addr  string
	cams  Cameras
	guard *Guard
	board  LastValues
	stored Stored
	hub    LiveHub
	subs   push.Subscriptions
}

type Option func(*Server)

// WithLive habilita GET /:camera/stream (último valor) e /:camera/live (websocket).
func WithLive(board LastValues, hub LiveHub, subs push.Subscriptions) Option {
	return func(s *Server) {
		s.board, s.hub, s.subs = board, hub, subs
	}
}

// WithStored faz GET /:camera/stream servir o último snapshot espelhado
// enquanto o stream ainda não publicou nenhum frame.
func WithStored(stored Stored) Option {
	return func(s *Server) { s.stored = stored }
}

func New(addr string, cams Cameras, guard *Guard, opts ...Option) *Server {
	s := &Server{addr: addr, cams: cams, guard: guard}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register monta as rotas em r, com o guard na frente de todas.
func (s *Server) Register(r gin.IRouter) {
	r.Use(s.guard.Middleware())
	r.GET("/:camera", s.handleSnapshot)
	if s.board != nil {
		r.GET("/:camera/stream", s.handleStreamValue)
	}
	if s.hub != nil {
		r.GET("/:camera/live", s.handleLive)
	}
}

// Run sobe o servidor e bloqueia até ctx acabar (shutdown graceful).
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard
	router, err := graceful.Default(graceful.WithAddr(s.addr))
	if err != nil {
		return err
	}
	// ClientIP vem do RemoteAddr; não confia em X-Forwarded-For
	if err := router.SetTrustedProxies(nil); err != nil {
		return err
	}
	s.Register(router)

	go s.guard.Run(ctx, SweepInterval)

	log.Printf("[gateway] ouvindo em %s", s.addr)
	if err := router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) handleSnapshot(c *gin.Context) {
	camera := c.Param("camera")
	req, err := parseRequest(c)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	img, err := s.cams.Snapshot(c.Request.Context(), camera, req)
	if err != nil {
		s.fail(c, camera, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, img.ContentType, img.Data)
}

func (s *Server) handleStreamValue(c *gin.Context) {
	camera := c.Param("camera")
	if !s.cams.Has(camera) {
		s.fail(c, camera, fmt.Errorf("%w: %s", core.ErrUnknownCamera, camera))
		return
	}
	frame, at, ok := s.board.Last(camera)
	if !ok || len(frame) == 0 {
		if s.stored != nil {
			if data, err := s.stored.Load(camera); err == nil && len(data) > 0 {
				c.Header("Cache-Control", "no-store")
				c.Header("X-Frame-Source", "snapshot")
				c.Data(http.StatusOK, "image/jpeg", data)
				return
			}
		}
		c.Status(http.StatusNoContent)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Last-Modified", at.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, "image/jpeg", frame)
}

func (s *Server) handleLive(c *gin.Context) {
	camera := c.Param("camera")
	if !s.cams.Has(camera) {
		s.fail(c, camera, fmt.Errorf("%w: %s", core.ErrUnknownCamera, camera))
		return
	}
	width, err := intParam(c, "w")
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	if err := s.hub.Serve(c.Writer, c.Request, camera, width, s.subs); err != nil {
		log.Printf("[gateway] live %s: %v", camera, err)
	}
}

// fail é o único ponto que traduz erro interno em status HTTP.
func (s *Server) fail(c *gin.Context, camera string, err error) {
	switch {
	case errors.Is(err, core.ErrUnknownCamera):
		c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled):
		// cliente foi embora
		c.Status(499)
	default:
		log.Printf("[gateway] %s: %v", camera, err)
		c.String(http.StatusInternalServerError, err.Error())
	}
}

func parseRequest(c *gin.Context) (core.RequestParams, error) {
	var req core.RequestParams
	var err error
	if req.Width, err = intParam(c, "w"); err != nil {
		return req, err
	}
	if req.Height, err = intParam(c, "h"); err != nil {
		return req, err
	}
	if req.Angle, err = intParam(c, "angle"); err != nil {
		return req, err
	}
	if v, ok := c.GetQuery("noCache"); ok {
		if v == "" {
			req.NoCache = true
		} else if req.NoCache, err = strconv.ParseBool(v); err != nil {
			return req, fmt.Errorf("noCache inválido: %q", v)
		}
	}
	return req, nil
}

func intParam(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || (name != "angle" && n < 0) {
		return 0, fmt.Errorf("%s inválido: %q", name, v)
	}
	return n, nil
}
