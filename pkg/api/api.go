// Package api is the HTTP surface employees use: sign-in, folder browsing,
// uploads and downloads. Every file route is confined to the caller's
// namespace folder before it reaches the virtual folder layer.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/staffdrive/staffdrive/pkg/auth"
	"github.com/staffdrive/staffdrive/pkg/backend"
	"github.com/staffdrive/staffdrive/pkg/directory"
	"github.com/staffdrive/staffdrive/pkg/metrics"
	"github.com/staffdrive/staffdrive/pkg/vfs"
)

// Config tunes the API.
type Config struct {
	// MaxUploadSize caps a single-request upload and a single chunk (default: 100MB)
	MaxUploadSize int64

	// ChunkDir holds in-progress chunked uploads (default: os.TempDir()/staffdrive-chunks)
	ChunkDir string

	// ChunkExpiry is how long an idle chunked upload is kept (default: 1h)
	ChunkExpiry time.Duration

	// MaxChunks bounds totalChunks of a chunked upload (default: 10000)
	MaxChunks int

	// IDPrefix, IDWidth and MaxEmployees shape the ids handed out by
	// GET /api/employee-id, e.g. "3S" + 3 digits up to 12.
	IDPrefix     string
	IDWidth      int
	MaxEmployees int

	// AllowRegistration enables PUT /api/auth.
	AllowRegistration bool

	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string
}

func (c *Config) applyDefaults() {
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = 100 << 20
	}
	if c.ChunkExpiry <= 0 {
		c.ChunkExpiry = time.Hour
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 10000
	}
	if c.IDWidth <= 0 {
		c.IDWidth = 3
	}
	if c.MaxEmployees <= 0 {
		c.MaxEmployees = 12
	}
}

// TokenVerifier resolves a signed download token to a node id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Deps are the collaborators the API calls into.
type Deps struct {
	FS          *vfs.FS
	Credentials backend.Credentials
	Directory   directory.Store
	Auth        *auth.Authenticator

	// Links verifies tokens of GET /api/download/{token}. nil disables the
	// route, which is only meaningful for the local backend.
	Links TokenVerifier

	Metrics metrics.HTTPMetrics
}

// API serves the HTTP routes.
//
// Thread Safety: Safe for concurrent use.
type API struct {
	config   Config
	fs       *vfs.FS
	creds    backend.Credentials
	dir      directory.Store
	auth     *auth.Authenticator
	links    TokenVerifier
	content  backend.ContentReader
	metrics  metrics.HTTPMetrics
	chunks   *chunkManager
	validate *validator.Validate
}

// New builds the API and starts the chunk sweeper. Call Close to stop it.
func New(cfg Config, deps Deps) (*API, error) {
	switch {
	case deps.FS == nil:
		return nil, errors.New("api: filesystem is required")
	case deps.Directory == nil:
		return nil, errors.New("api: employee directory is required")
	case deps.Auth == nil:
		return nil, errors.New("api: authenticator is required")
	}
	cfg.applyDefaults()

	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoopHTTPMetrics()
	}

	chunks, err := newChunkManager(cfg.ChunkDir, cfg.ChunkExpiry)
	if err != nil {
		return nil, err
	}

	a := &API{
		config:   cfg,
		fs:       deps.FS,
		creds:    deps.Credentials,
		dir:      deps.Directory,
		auth:     deps.Auth,
		links:    deps.Links,
		metrics:  m,
		chunks:   chunks,
		validate: newValidator(),
	}
	if cr, ok := deps.FS.Backend().(backend.ContentReader); ok {
		a.content = cr
	}

	chunks.start()
	return a, nil
}

// Close stops background work and removes pending chunk sessions.
func (a *API) Close() error {
	return a.chunks.close()
}

// Routes returns the router with all middleware applied.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(a.observe)
	r.Use(chimiddleware.Recoverer)

	origins := a.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth", a.handleLogin)
		r.Put("/auth", a.handleRegister)
		r.Get("/employee-id", a.handleNextEmployeeID)
		r.Get("/download/{token}", a.handleDownload)

		r.Group(func(r chi.Router) {
			r.Use(a.auth.Middleware)
			r.Use(a.requireFS)

			r.Get("/files", a.handleList)
			r.Post("/files", a.handleCreateFolder)
			r.Delete("/files", a.handleDelete)
			r.Delete("/folders", a.handleDeleteFolder)

			r.Post("/upload", a.handleUpload)
			r.Post("/upload/chunk", a.handleChunk)
			r.Post("/upload/finalize", a.handleFinalize)
		})
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := "ok"
	if !a.fs.Ready() {
		state = "starting"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  state,
		"backend": a.fs.Ready(),
	})
}
