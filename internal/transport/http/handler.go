// Package http exposes the bridge's HTTP surface: the install flow, the
// proxied CRM endpoints and the workflow callback endpoints. Handlers stay
// thin; all decisions live in the services they call.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"hubbridge/internal/actions"
	"hubbridge/internal/hubspot"
	"hubbridge/internal/session"
	dErrors "hubbridge/pkg/domain-errors"
	"hubbridge/pkg/platform/httputil"
)

// stateCookie carries the install state back through the OAuth redirect so
// the callback can be tied to the browser that started the flow.
const stateCookie = "hubbridge_state"

// InstallService drives the install session lifecycle.
type InstallService interface {
	BeginInstall(ctx context.Context) (state string, authorizeURL string, err error)
	CompleteInstall(ctx context.Context, state, code string) (*session.Session, error)
}

// TokenResolver supplies a valid access token for a portal.
type TokenResolver interface {
	Resolve(ctx context.Context, portalID int64) (string, error)
}

// CRMClient is the slice of the HubSpot client the proxy endpoints use.
type CRMClient interface {
	Companies(ctx context.Context, accessToken string) (*hubspot.CompanyPage, error)
	Associations(ctx context.Context, accessToken, contactID string) ([]hubspot.Association, error)
	SaveAssociations(ctx context.Context, accessToken, contactID string, companyIDs []string) (json.RawMessage, error)
}

// ActionService manages workflow callbacks.
type ActionService interface {
	Add(ctx context.Context, cb actions.Callback) error
	Retry(ctx context.Context, callbackID string) (attempt int, err error)
	Register(ctx context.Context, actionName string) error
}

// Handler wires the HTTP surface to the services behind it.
type Handler struct {
	installs   InstallService
	tokens     TokenResolver
	crm        CRMClient
	actions    ActionService
	logger     *slog.Logger
	installTTL time.Duration
}

func NewHandler(installs InstallService, tokens TokenResolver, crm CRMClient, acts ActionService, logger *slog.Logger, installTTL time.Duration) *Handler {
	return &Handler{
		installs:   installs,
		tokens:     tokens,
		crm:        crm,
		actions:    acts,
		logger:     logger,
		installTTL: installTTL,
	}
}

// Register mounts all routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/install", h.install)
	r.Get("/oauth-callback", h.oauthCallback)
	r.Get("/error", h.errorPage)

	r.Get("/companies", h.companies)
	r.Get("/associations/{contactID}", h.associations)
	r.Post("/save-associations", h.saveAssociations)

	r.Post("/callbacks", h.addCallback)
	r.Post("/callbacks/{callbackID}/retry", h.retryCallback)
	r.Post("/actions/register", h.registerAction)
}

// install mints a fresh state, parks it in a short-lived cookie and sends
// the browser to the consent screen.
func (h *Handler) install(w http.ResponseWriter, r *http.Request) {
	state, authorizeURL, err := h.installs.BeginInstall(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(h.installTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// oauthCallback completes the install. The state in the query must match
// the cookie minted at /install; a mismatch means the callback did not
// come from the browser that started the flow.
func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value != state {
		h.redirectError(w, r, "install state mismatch, restart the install")
		return
	}

	sess, err := h.installs.CompleteInstall(r.Context(), state, code)
	if err != nil {
		h.logger.WarnContext(r.Context(), "install callback failed", "error", err)
		h.redirectError(w, r, "installation failed, restart the install")
		return
	}

	// The cookie has done its job.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "installed",
		"portal_id": sess.PortalID,
	})
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, "/error?message="+url.QueryEscape(message), http.StatusFound)
}

func (h *Handler) errorPage(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" {
		message = "something went wrong"
	}
	httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

func (h *Handler) companies(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := h.portalToken(w, r)
	if !ok {
		return
	}
	page, err := h.crm.Companies(r.Context(), accessToken)
	if err != nil {
		httputil.WriteError(w, upstream(err, "list companies"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) associations(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := h.portalToken(w, r)
	if !ok {
		return
	}
	result, err := h.crm.Associations(r.Context(), accessToken, chi.URLParam(r, "contactID"))
	if err != nil {
		httputil.WriteError(w, upstream(err, "list associations"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": result})
}

func (h *Handler) saveAssociations(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ContactID  string   `json:"contactId"`
		CompanyIDs []string `json:"companyIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ContactID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "contactId and companyIds are required"))
		return
	}

	accessToken, ok := h.portalToken(w, r)
	if !ok {
		return
	}
	result, err := h.crm.SaveAssociations(r.Context(), accessToken, body.ContactID, body.CompanyIDs)
	if err != nil {
		httputil.WriteError(w, upstream(err, "save associations"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// addCallback accepts the workflow action execution payload HubSpot posts
// when an action is blocked.
func (h *Handler) addCallback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CallbackID string `json:"callbackId"`
		Origin     struct {
			PortalID int64 `json:"portalId"`
		} `json:"origin"`
		Object struct {
			ObjectID json.Number `json:"objectId"`
		} `json:"object"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed callback payload"))
		return
	}

	err := h.actions.Add(r.Context(), actions.Callback{
		ID:       body.CallbackID,
		PortalID: body.Origin.PortalID,
		ObjectID: body.Object.ObjectID.String(),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *Handler) retryCallback(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.actions.Retry(r.Context(), chi.URLParam(r, "callbackID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "retried", "attempt": attempt})
}

func (h *Handler) registerAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActionName string `json:"actionName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}
	if err := h.actions.Register(r.Context(), body.ActionName); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

// portalToken reads portalId from the query and resolves its access token.
// Writes the error response itself when resolution fails.
func (h *Handler) portalToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	portalID, err := strconv.ParseInt(r.URL.Query().Get("portalId"), 10, 64)
	if err != nil || portalID <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "portalId query parameter is required"))
		return "", false
	}
	accessToken, err := h.tokens.Resolve(r.Context(), portalID)
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	return accessToken, true
}

// upstream wraps CRM client failures so they surface as 502s with the
// operation, not the raw transport error.
func upstream(err error, op string) error {
	return dErrors.Wrap(err, dErrors.CodeUpstream, op+" failed")
}
