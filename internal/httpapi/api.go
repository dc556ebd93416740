// Package httpapi is the HTTP surface: the request gate chain (rate limit,
// CSRF, token verification, role and ownership gates), the /api/auth
// endpoints and the gRPC health service.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/obs"
	"crmdesk.io/internal/todo"
)

// Options tunes the router. Zero values fall back to development defaults.
type Options struct {
	Version        string
	Production     bool
	CORSOrigins    []string
	MaxBodyBytes   int64
	RateMax        int
	RateWindow     time.Duration
	RateCounter    WindowCounter
	LoginPerSecond float64
	LoginBurst     int

	// TrustProxy honours X-Forwarded-For / X-Real-IP. Enable only behind a
	// proxy that overwrites those headers.
	TrustProxy bool
}

func (o *Options) setDefaults() {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.RateMax <= 0 {
		o.RateMax = 100
	}
	if o.RateWindow <= 0 {
		o.RateWindow = 15 * time.Minute
	}
	if o.LoginPerSecond <= 0 {
		o.LoginPerSecond = 1
	}
	if o.LoginBurst <= 0 {
		o.LoginBurst = 10
	}
}

// API is the HTTP layer.
type API struct {
	svc     *auth.Service
	todos   todo.Finder
	ready   ReadyProbe
	opts    Options
	cookies cookieJar
	limiter *FixedWindowLimiter
	login   *Throttle
	router  chi.Router
}

func New(svc *auth.Service, todos todo.Finder, rp ReadyProbe, opts Options) *API {
	opts.setDefaults()
	if todos == nil {
		todos = todo.NewInMemory()
	}
	a := &API{
		svc:   svc,
		todos: todos,
		ready: rp,
		opts:  opts,
		cookies: cookieJar{
			secure:     opts.Production,
			accessTTL:  svc.AccessTTL(),
			refreshTTL: svc.RefreshTTL(),
		},
		limiter: NewFixedWindowLimiter(opts.RateMax, opts.RateWindow),
		login:   NewThrottle("login", opts.LoginPerSecond, opts.LoginBurst),
	}
	if opts.RateCounter != nil {
		a.limiter.WithShared(opts.RateCounter)
	}
	a.router = a.routes()
	return a
}

func (a *API) Handler() http.Handler { return a.router }

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	if a.opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(obs.Instrument)
	r.Use(Logging)
	r.Use(SecurityHeaders(a.opts.Production))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", csrfHeader, sessionHeader, requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           600,
	}))
	r.Use(MaxBodyBytes(a.opts.MaxBodyBytes))
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(a.limiter.Middleware(a.identify))
		r.Use(CSRF(a.opts.Production))

		r.Route("/auth", func(r chi.Router) {
			r.With(a.login.Middleware).Post("/login", a.handleLogin)
			r.Post("/refresh", a.handleRefresh)
			r.Group(func(r chi.Router) {
				r.Use(Authenticate(a.svc))
				r.Post("/logout", a.handleLogout)
				r.Get("/me", a.handleMe)
				r.With(RequireUpperRole()).Post("/register", a.handleRegister)
			})
		})

		r.Route("/todos", func(r chi.Router) {
			r.Use(Authenticate(a.svc))
			r.With(RequireAssigneeOrUpperRole(a.lookupTodo)).Get("/{id}", a.handleGetTodo)
		})
	})
	return r
}

// identify keys rate limiting by user when the request carries a valid
// access token.
func (a *API) identify(r *http.Request) (string, bool) {
	token, err := tokenFromRequest(r)
	if err != nil {
		return "", false
	}
	return a.svc.PeekUserID(token)
}

func (a *API) lookupTodo(r *http.Request) (auth.Assignees, error) {
	t, err := a.todos.FindTodo(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, todo.ErrNotFound) {
		return auth.Assignees{}, ErrEntityNotFound
	}
	if err != nil {
		return auth.Assignees{}, err
	}
	return t.Assignees(), nil
}
