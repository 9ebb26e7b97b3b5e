// Package httpapi is the thin Echo-based HTTP surface over the repository
// and search engine: it negotiates content type, renders OperationOutcome,
// and maps the repository/search error taxonomy to HTTP status codes. It
// owns no persistence logic of its own.
package httpapi

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirstore/internal/platform/middleware"
	"github.com/ehr/fhirstore/internal/registry"
	"github.com/ehr/fhirstore/internal/repository"
	"github.com/ehr/fhirstore/internal/search"
)

// Server wires the repository and search engine to Echo routes.
type Server struct {
	repo   *repository.Repository
	engine *search.Engine
	reg    *registry.Registry
	logger zerolog.Logger
}

func NewServer(repo *repository.Repository, engine *search.Engine, reg *registry.Registry, logger zerolog.Logger) *Server {
	return &Server{repo: repo, engine: engine, reg: reg, logger: logger}
}

// NewRouter builds an *echo.Echo with every §6 route registered behind the
// teacher's logging/recovery/timeout middleware stack.
func (s *Server) NewRouter(requestTimeout time.Duration) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.Logger(s.logger))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(contentNegotiation())

	e.GET("/metadata", s.handleCapability)
	e.POST("/", s.handleBundle)

	e.POST("/:type", s.handleCreate)
	e.GET("/:type/:id", s.handleRead)
	e.PUT("/:type/:id", s.handleUpdate)
	e.DELETE("/:type/:id", s.handleDelete)
	e.GET("/:type", s.handleSearch)
	e.GET("/:type/:id/_history", s.handleHistory)
	e.GET("/:type/:id/_history/:vid", s.handleVersionRead)
	e.GET("/:type/_history", s.handleTypeHistory)

	return e
}
