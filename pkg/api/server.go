package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/credentials"
	"github.com/platinummonkey/registrygate/pkg/httputil"
	"github.com/platinummonkey/registrygate/pkg/middleware"
	"github.com/platinummonkey/registrygate/pkg/observability"
	"github.com/platinummonkey/registrygate/pkg/packages"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

// Store is the persistence the handlers read and write directly
type Store interface {
	storage.ResourceReader
	storage.ProtectionRuleStore
}

// Dependencies wires a Server. Metrics and Auditor may be nil.
type Dependencies struct {
	Gate      *middleware.Gate
	Evaluator middleware.Evaluator
	Resolver  *credentials.Resolver
	Store     Store
	Packages  *packages.Index
	Auditor   audit.Logger
	Logger    *observability.Logger
	Metrics   *observability.Metrics

	// MaxUploadBytes caps package file uploads; 0 means unlimited
	MaxUploadBytes int64
	// TrustedProxies decides whose forwarding headers set the audited client
	// address
	TrustedProxies *audit.TrustedProxies
}

// Server serves the registry API behind the access gate
type Server struct {
	router    *mux.Router
	gate      *middleware.Gate
	evaluator middleware.Evaluator
	resolver  *credentials.Resolver
	store     Store
	packages  *packages.Index
	auditor   audit.Logger
	logger    *observability.Logger
	metrics   *observability.Metrics
	maxUpload int64
	proxies   *audit.TrustedProxies
}

// NewServer creates a server with its routes registered
func NewServer(deps Dependencies) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		gate:      deps.Gate,
		evaluator: deps.Evaluator,
		resolver:  deps.Resolver,
		store:     deps.Store,
		packages:  deps.Packages,
		auditor:   deps.Auditor,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		maxUpload: deps.MaxUploadBytes,
		proxies:   deps.TrustedProxies,
	}
	if s.auditor == nil {
		s.auditor = audit.NoOp()
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteMessage(w, http.StatusNotFound, "404 Not Found")
	})

	v4 := s.router.PathPrefix("/api/v4").Subrouter()

	// Projects
	v4.Handle("/projects/{id:[0-9]+}", s.gate.Protect(projectPolicy(access.FeatureProject, ""), http.HandlerFunc(s.getProject))).Methods(http.MethodGet)
	v4.Handle("/projects/{id:[0-9]+}/repository/commits", s.gate.Protect(projectPolicy(access.FeatureRepository, ""), http.HandlerFunc(s.listCommits))).Methods(http.MethodGet)

	// Protection rules, registered before the package file routes so that
	// "protection" is never read as a package type
	rules := projectPolicy(access.FeaturePackageRegistry, access.ActionAdmin)
	v4.Handle("/projects/{id:[0-9]+}/packages/protection/rules", s.gate.Protect(rules, http.HandlerFunc(s.listRules))).Methods(http.MethodGet)
	v4.Handle("/projects/{id:[0-9]+}/packages/protection/rules", s.gate.Protect(rules, http.HandlerFunc(s.createRule))).Methods(http.MethodPost)
	v4.Handle("/projects/{id:[0-9]+}/packages/protection/rules/{rule_id:[0-9]+}", s.gate.Protect(rules, http.HandlerFunc(s.deleteRule))).Methods(http.MethodDelete)

	// Packages
	registry := projectPolicy(access.FeaturePackageRegistry, "")
	registry.Package = packageFromPath
	v4.Handle("/projects/{id:[0-9]+}/packages", s.gate.Protect(registry, http.HandlerFunc(s.listProjectPackages))).Methods(http.MethodGet)
	v4.Handle("/projects/{id:[0-9]+}/packages/{type}/{name}/{version}/{file}", s.gate.Protect(registry, http.HandlerFunc(s.downloadFile))).Methods(http.MethodGet)
	v4.Handle("/projects/{id:[0-9]+}/packages/{type}/{name}/{version}/{file}", s.gate.Protect(registry, s.limitUpload(http.HandlerFunc(s.uploadFile)))).Methods(http.MethodPut)
	v4.Handle("/projects/{id:[0-9]+}/packages/{type}/{name}/{version}", s.gate.Protect(registry, http.HandlerFunc(s.deletePackage))).Methods(http.MethodDelete)

	// Groups
	group := middleware.Policy{Target: groupTarget, Feature: access.FeaturePackageRegistry}
	v4.Handle("/groups/{id:[0-9]+}/-/packages", s.gate.Protect(group, http.HandlerFunc(s.listGroupPackages))).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the router so callers can add middleware
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) limitUpload(next http.Handler) http.Handler {
	if s.maxUpload <= 0 {
		return next
	}
	return httputil.MaxBytesMiddleware(s.maxUpload)(next)
}

func projectPolicy(feature access.Feature, action access.Action) middleware.Policy {
	return middleware.Policy{Target: projectTarget, Feature: feature, Action: action}
}

func projectTarget(r *http.Request) (access.ResourceRef, error) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		return access.ResourceRef{}, err
	}
	return access.ProjectRef(id), nil
}

func groupTarget(r *http.Request) (access.ResourceRef, error) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		return access.ResourceRef{}, err
	}
	return access.GroupRef(id), nil
}

func packageFromPath(r *http.Request) (packageType, packageName string) {
	vars := mux.Vars(r)
	return vars["type"], vars["name"]
}

// routeTemplate labels metrics with the matched route, never the raw path
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
