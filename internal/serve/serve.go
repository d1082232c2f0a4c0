// Package serve puts the compiler, the canned descriptors and the
// descriptor documentation behind HTTP.
package serve

import (
	"context"
	"io"
	"net/http"
	"time"

	"convtex/internal/compile"
	"convtex/internal/doc"
	"convtex/internal/errmsg"
	"convtex/internal/example"
	"convtex/internal/logger"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

const (
	maxDescriptor = 1 << 20
	mimeYAML      = "application/yaml"
	mimeText      = "text/plain; charset=utf-8"
)

type Server struct {
	log logger.Logger
}

func NewServer(log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/compile", s.handleCompile, middleware.BodyLimit(maxDescriptor))
	e.GET("/v1/examples", s.handleExamples)
	e.GET("/v1/examples/:name", s.handleExample)
	e.POST("/v1/examples/:name/compile", s.handleCompileExample)
	e.GET("/v1/doc", s.handleDoc)
}

// CompileResponse carries the kernel source and its manifest.
type CompileResponse struct {
	Name     string          `json:"name"`
	Source   string          `json:"source"`
	Manifest json.RawMessage `json:"manifest"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(c *echo.Context, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(status, echo.MIMEApplicationJSON, b)
}

func writeError(c *echo.Context, status int, kind, msg string) error {
	return writeJSON(c, status, map[string]ErrorBody{
		"error": {Kind: kind, Message: msg},
	})
}

// statusOf maps a failure to a response status. A bad descriptor is the
// client's fault, a descriptor the device cannot run is unprocessable.
func statusOf(err error) int {
	switch errmsg.KindOf(err) {
	case errmsg.Descriptor:
		return http.StatusBadRequest
	case errmsg.Unknown:
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func (s *Server) compile(c *echo.Context, text []byte) error {
	ctx := c.Request().Context()
	r, err := compile.Compile(ctx, text, s.log)
	if err != nil {
		s.log.Debug("compile request failed", "err", err)
		return writeError(c, statusOf(err), errmsg.KindOf(err).String(), err.Error())
	}
	s.log.Info("compiled", "name", r.Name, "bytes", len(r.Source))
	return writeJSON(c, http.StatusOK, CompileResponse{
		Name:     r.Name,
		Source:   string(r.Source),
		Manifest: r.Manifest,
	})
}

func (s *Server) handleCompile(c *echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	return s.compile(c, body)
}

func (s *Server) handleExamples(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string][]string{
		"examples": example.Names(),
	})
}

func (s *Server) handleExample(c *echo.Context) error {
	text := example.Generate(c.Param("name"))
	if text == nil {
		return writeError(c, http.StatusNotFound, "request", "example not found")
	}
	return c.Blob(http.StatusOK, mimeYAML, text)
}

func (s *Server) handleCompileExample(c *echo.Context) error {
	text := example.Generate(c.Param("name"))
	if text == nil {
		return writeError(c, http.StatusNotFound, "request", "example not found")
	}
	return s.compile(c, text)
}

func (s *Server) handleDoc(c *echo.Context) error {
	return c.Blob(http.StatusOK, mimeText, doc.Bytes())
}

// New builds the echo instance with request logging and panic recovery.
func New(log logger.Logger) *echo.Echo {
	e := echo.New()
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	NewServer(log).Register(e)
	return e
}

// Serve runs until ctx is done.
func Serve(ctx context.Context, addr string, readTimeout time.Duration, log logger.Logger) error {
	if log == nil {
		log = logger.Discard()
	}
	e := New(log)
	log.Info("starting server", "address", addr)
	sc := echo.StartConfig{
		Address: addr,
		BeforeServeFunc: func(srv *http.Server) error {
			srv.ReadHeaderTimeout = readTimeout
			return nil
		},
	}
	return sc.Start(ctx, e)
}
