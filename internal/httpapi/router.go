package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lhbill/assppweb/internal/auth"
	"github.com/lhbill/assppweb/internal/blobstore"
	"github.com/lhbill/assppweb/internal/config"
	"github.com/lhbill/assppweb/internal/janitor"
	"github.com/lhbill/assppweb/internal/ratelimit"
	"github.com/lhbill/assppweb/internal/taskstore"
)

// Deps are the components the API surface is wired against. Deps
// themselves, not a narrower interface, because httpapi sits at the
// top of the dependency graph — nothing else imports it, so there is
// no cycle to avoid by narrowing.
type Deps struct {
	Tasks   *taskstore.Store
	Blobs   blobstore.Store
	Auth    *auth.Gate
	Janitor *janitor.Janitor
	Config  *config.Config
}

// NewRouter builds the full /api surface, grounded on the teacher's
// noisefs-webui main.go: a gorilla/mux router with a PathPrefix("/api")
// subrouter and one HandleFunc per RPC.
func NewRouter(deps Deps) *mux.Router {
	api := &api{deps: deps, authLimiter: ratelimit.New(ratelimit.DefaultConfig())}

	router := mux.NewRouter()
	apiRouter := router.PathPrefix("/api").Subrouter()

	apiRouter.HandleFunc("/auth/status", api.authStatus).Methods("GET")
	apiRouter.HandleFunc("/auth/challenge", api.authLimiter.Middleware(api.authChallenge)).Methods("GET")
	apiRouter.HandleFunc("/auth/setup", api.authLimiter.Middleware(api.authSetup)).Methods("POST")
	apiRouter.HandleFunc("/auth/login", api.authLimiter.Middleware(api.authLogin)).Methods("POST")
	apiRouter.HandleFunc("/auth/logout", api.authLogout).Methods("POST")
	apiRouter.HandleFunc("/auth/change-password", api.authLimiter.Middleware(api.authChangePassword)).Methods("POST")

	apiRouter.HandleFunc("/downloads", api.requireAuth(api.createDownload)).Methods("POST")
	apiRouter.HandleFunc("/downloads", api.requireAuth(api.listDownloads)).Methods("GET")
	apiRouter.HandleFunc("/downloads/{id}", api.requireAuth(api.getDownload)).Methods("GET")
	apiRouter.HandleFunc("/downloads/{id}", api.requireAuth(api.deleteDownload)).Methods("DELETE")
	apiRouter.HandleFunc("/downloads/{id}/pause", api.requireAuth(api.pauseDownload)).Methods("POST")
	apiRouter.HandleFunc("/downloads/{id}/resume", api.requireAuth(api.resumeDownload)).Methods("POST")

	apiRouter.HandleFunc("/packages", api.requireAuth(api.listPackages)).Methods("GET")
	apiRouter.HandleFunc("/packages/{id}/file", api.requireAuth(api.packageFile)).Methods("GET")

	apiRouter.HandleFunc("/settings", api.requireAuth(api.getSettings)).Methods("GET")
	apiRouter.HandleFunc("/settings", api.requireAuth(api.putSettings)).Methods("PUT")

	apiRouter.HandleFunc("/install/{id}/manifest.plist", api.installManifest).Methods("GET")
	apiRouter.HandleFunc("/install/{id}/payload.ipa", api.installPayload).Methods("GET")

	apiRouter.HandleFunc("/tunnel", api.requireAuth(api.tunnel)).Methods("GET")

	return router
}

type api struct {
	deps        Deps
	authLimiter *ratelimit.Limiter
}

// requireAuth gates the tunnel and task RPCs behind a valid session
// token, per spec.md §4.H ("Tunnel and task RPCs require a valid
// token; the challenge, setup, and installation endpoints do not.").
func (a *api) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.SessionTokenFromRequest(r)
		if err := a.deps.Auth.Authenticate(r.Context(), token); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	}
}

// accountHash reads the "accountHash" query parameter most single-task
// RPCs carry for tenancy scoping.
func accountHash(r *http.Request) string {
	return r.URL.Query().Get("accountHash")
}

func taskID(r *http.Request) string {
	return mux.Vars(r)["id"]
}
