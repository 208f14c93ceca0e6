package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	api "github.com/ledgerprep/tbs/internal/api/http"
	"github.com/ledgerprep/tbs/internal/auth"
	"github.com/ledgerprep/tbs/internal/config"
	"github.com/ledgerprep/tbs/internal/db"
	"github.com/ledgerprep/tbs/internal/grading"
	"github.com/ledgerprep/tbs/internal/rbac"
	"github.com/ledgerprep/tbs/internal/session"
	"github.com/ledgerprep/tbs/internal/storage"
	"github.com/ledgerprep/tbs/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	st := store.NewSQLStore(dbh, cfg.DBDriver)

	// --- Session runtime ---
	engine := grading.NewEngine()
	reg := session.NewRegistry(engine, st)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go reg.Run(runCtx)

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Exhibits ---
	es, err := storage.NewFSStore(cfg.ExhibitBasePath)
	if err != nil {
		log.Fatalf("exhibit store: %v", err)
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := cfg.CORSOriginsOffline
	if cfg.Mode == config.ModeOnline {
		origins = cfg.CORSOriginsOnline
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, auth.AuthorCreds{
		User:     cfg.AuthorUser,
		PassHash: cfg.AuthorPassHash,
	}))

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		// Authoring
		pr.With(rbac.Require("simulation:create")).
			Post("/simulations", api.UploadSimulationHandler(st))
		pr.With(rbac.Require("simulation:list")).
			Get("/simulations", api.ListSimulationsHandler(st))
		pr.With(rbac.Require("simulation:view")).
			Get("/simulations/{simID}", api.GetSimulationHandler(st))

		// Taker flow
		pr.With(rbac.Require("session:create")).
			Post("/sessions", api.CreateSessionHandler(reg, st))
		pr.Route("/sessions/{sessionID}", func(sr chi.Router) {
			sr.Use(rbac.Require("session:interact"))
			sr.Use(rbac.RequireOwnerOr("session:manage", api.SessionOwner(reg)))
			sr.Get("/", api.GetSessionHandler(reg))
			sr.Put("/responses/{reqID}", api.SaveResponseHandler(reg))
			sr.Delete("/responses/{reqID}", api.ClearResponseHandler(reg))
			sr.Post("/undo", api.UndoHandler(reg))
			sr.Post("/redo", api.RedoHandler(reg))
			sr.Post("/pause", api.PauseHandler(reg))
			sr.Post("/resume", api.ResumeHandler(reg))
			sr.Post("/flag", api.FlagHandler(reg))
			sr.Post("/exhibit", api.ExhibitFocusHandler(reg))
			sr.Post("/review", api.ReviewHandler(reg))
			sr.Post("/return", api.ReturnHandler(reg))
			sr.With(rbac.Require("session:submit")).Post("/submit", api.SubmitHandler(reg))
			sr.Delete("/", api.AbandonHandler(reg))
		})

		// Graded attempts
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetAttemptHandler(st))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", api.ListAttemptsHandler(st))

		// Exhibit documents
		pr.Route("/exhibits", func(er chi.Router) {
			er.With(rbac.Require("exhibit:upload")).Post("/{simID}", api.UploadExhibitHandler(es))
			er.Get("/*", api.ServeExhibitHandler(es))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		<-runCtx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		reg.Close()
	}()

	log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
}
