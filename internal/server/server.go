package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/emrgen/salesdb/internal/migration"
	"github.com/emrgen/salesdb/internal/module"
	"github.com/emrgen/salesdb/internal/service"
	"github.com/emrgen/salesdb/internal/store"
	"github.com/emrgen/salesdb/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Services are the components the HTTP surface exposes.
type Services struct {
	Store         store.Store
	Relationships *service.RelationshipManager
	Duplicates    *service.DuplicateService
	Migrations    *migration.Manager
	Validation    *validation.Framework
	Tokens        *module.TokenService
	Gatherer      prometheus.Gatherer
}

// Server is the admin HTTP surface.
type Server struct {
	store         store.Store
	relationships *service.RelationshipManager
	duplicates    *service.DuplicateService
	migrations    *migration.Manager
	validation    *validation.Framework
	tokens        *module.TokenService
	gatherer      prometheus.Gatherer
}

func NewServer(s Services) *Server {
	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		store:         s.Store,
		relationships: s.Relationships,
		duplicates:    s.Duplicates,
		migrations:    s.Migrations,
		validation:    s.Validation,
		tokens:        s.Tokens,
		gatherer:      gatherer,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestTime)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(principal(s.tokens))
		r.Use(middleware.Timeout(2 * time.Minute))

		r.Get("/sales/{saleID}", s.handleGetSale)
		r.Delete("/sales/{saleID}", s.handleDeleteSale)
		r.Post("/sales/{saleID}/children/{type}", s.handleAddChild)
		r.Patch("/children/{childID}", s.handleUpdateChild)
		r.Delete("/children/{childID}", s.handleRemoveChild)
		r.Get("/statistics/appliances", s.handleStatistics)
		r.Post("/duplicates/check", s.handleDuplicateCheck)

		r.Post("/migrations", s.handleMigrate)
		r.Post("/migrations/{migrationID}/rollback", s.handleRollback)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/migrations/backups", s.handleListBackups)
			r.Post("/validation/run", s.handleValidation)
		})
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	return c.Handler(r)
}

// Start serves on port until SIGTERM or SIGINT, then shuts down gracefully.
func (s *Server) Start(port string) error {
	l, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logrus.Info("starting http server on: ", l.Addr())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	logrus.Infof("Press Ctrl+C to stop the server")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(sigs)

	select {
	case err := <-errs:
		return err
	case <-sigs:
		// clean Ctrl+C output
		fmt.Println()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("error stopping http server: %w", err)
	}
	logrus.Infof("http server stopped")

	return <-errs
}
