// Package admin serves the operator portal over the tailnet: first-run setup,
// session login, form management, API key issuance, and the audit trail.
package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/matt-riley/routz/internal/repository"
	"github.com/matt-riley/routz/internal/service"
)

type adminContextKey string

const sessionContextKey adminContextKey = "admin_session"

const adminAuditWriteTimeout = 2 * time.Second

type Handler struct {
	Repo          *repository.PostgresRepository
	Service       *service.Service
	SessionMgr    *SessionManager
	AdminHostname string
	log           *slog.Logger
	mux           *http.ServeMux
}

func NewHandler(repo *repository.PostgresRepository, svc *service.Service, sessionMgr *SessionManager, adminHostname string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		Repo:          repo,
		Service:       svc,
		SessionMgr:    sessionMgr,
		AdminHostname: adminHostname,
		log:           log,
	}
	h.mux = h.buildMux()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("/login", h.handleLogin)
	mux.HandleFunc("/setup", h.handleSetup)
	mux.HandleFunc("/logout", h.handleLogout)

	// Protected routes
	mux.HandleFunc("/", h.requireAuth(h.handleDashboard))
	mux.HandleFunc("/forms", h.requireAuth(h.handleForms))
	mux.HandleFunc("/forms/", h.requireAuth(h.handleFormDetail))
	mux.HandleFunc("/api-keys", h.requireAuth(h.handleAPIKeys))
	mux.HandleFunc("/api-keys/delete", h.requireAuth(h.handleDeleteAPIKey))
	mux.HandleFunc("/audit-log", h.requireAuth(h.handleAuditLog))

	// Static assets
	mux.Handle("/static/", http.FileServer(http.FS(content)))

	return mux
}

// requireAuth middleware ensures a valid session exists and validates
// CSRF tokens on state-changing requests.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		session, err := h.SessionMgr.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		// Validate CSRF token on state-changing requests
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete {
			csrfToken := r.FormValue("csrf_token")
			if csrfToken == "" {
				csrfToken = r.Header.Get("X-CSRF-Token")
			}
			if subtle.ConstantTimeCompare([]byte(csrfToken), []byte(session.CSRFToken)) != 1 {
				http.Error(w, "Forbidden: invalid CSRF token", http.StatusForbidden)
				return
			}
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next(w, r.WithContext(ctx))
	}
}

func (h *Handler) handleSetup(w http.ResponseWriter, r *http.Request) {
	// Check if admin user exists
	exists, err := h.Repo.HasAdminUsers(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if exists {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	if r.Method == "GET" {
		csrfToken := h.generateCSRFToken()
		isSecure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
		http.SetCookie(w, &http.Cookie{
			Name:     "routz_csrf",
			Value:    csrfToken,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
			Secure:   isSecure,
		})
		if err := Render(w, "setup.html", map[string]any{
			"CSRFToken": csrfToken,
		}); err != nil {
			h.log.Error("render error", "error", err)
		}
		return
	}

	if r.Method == "POST" {
		if !h.validateDoubleSubmitCSRF(r) {
			http.Error(w, "Forbidden: invalid CSRF token", http.StatusForbidden)
			return
		}
		username := strings.TrimSpace(r.FormValue("username"))
		password := r.FormValue("password")
		confirm := r.FormValue("confirm_password")

		if len(username) < 3 || len(username) > 50 {
			if err := Render(w, "setup.html", map[string]any{"Error": "Username must be between 3 and 50 characters"}); err != nil {
				h.log.Error("render error", "error", err)
			}
			return
		}
		for _, c := range username {
			if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' || c == '.') {
				if err := Render(w, "setup.html", map[string]any{"Error": "Username may only contain letters, digits, underscores, hyphens, and dots"}); err != nil {
					h.log.Error("render error", "error", err)
				}
				return
			}
		}

		if password != confirm {
			if err := Render(w, "setup.html", map[string]any{"Error": "Passwords do not match"}); err != nil {
				h.log.Error("render error", "error", err)
			}
			return
		}

		if len(password) < 12 {
			if err := Render(w, "setup.html", map[string]any{"Error": "Password must be at least 12 characters"}); err != nil {
				h.log.Error("render error", "error", err)
			}
			return
		}

		hash, err := HashPassword(password)
		if err != nil {
			http.Error(w, "Failed to hash password", http.StatusInternalServerError)
			return
		}

		user, err := h.Repo.CreateAdminUser(r.Context(), username, hash)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			h.log.Error("failed to create admin user", "error", err)
			if err := Render(w, "setup.html", map[string]any{"Error": "Failed to create user"}); err != nil {
				h.log.Error("render error", "error", err)
			}
			return
		}

		h.logAudit(r.Context(), user.ID, "admin_setup", "", map[string]string{"username": username})

		http.Redirect(w, r, "/login", http.StatusFound)
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == "GET" {
		csrfToken := h.generateCSRFToken()
		isSecure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
		http.SetCookie(w, &http.Cookie{
			Name:     "routz_csrf",
			Value:    csrfToken,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
			Secure:   isSecure,
		})
		if err := Render(w, "login.html", map[string]any{
			"CSRFToken": csrfToken,
		}); err != nil {
			h.log.Error("render error", "error", err)
		}
		return
	}

	if r.Method == "POST" {
		if !h.validateDoubleSubmitCSRF(r) {
			http.Error(w, "Forbidden: invalid CSRF token", http.StatusForbidden)
			return
		}
		username := r.FormValue("username")
		password := r.FormValue("password")

		// Only trust proxy headers when the request comes from a
		// loopback or private address (i.e., a trusted reverse proxy).
		remoteAddr := r.RemoteAddr
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
			remoteAddr = host
		}
		if ip := net.ParseIP(remoteAddr); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
			if xri := r.Header.Get("X-Real-IP"); xri != "" {
				remoteAddr = xri
			} else if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				remoteAddr = strings.TrimSpace(first)
			}
		}

		if allowed := h.SessionMgr.CheckLoginRateLimit(remoteAddr); !allowed {
			if err := Render(w, "login.html", map[string]any{"Error": "Too many attempts. Please try again later."}); err != nil {
				h.log.Error("render error", "error", err)
			}
			return
		}

		user, err := h.Repo.GetAdminUserByUsername(r.Context(), username)
		if err != nil {
			h.SessionMgr.RecordLoginAttempt(remoteAddr)
			// Don't reveal if user exists vs db error; a generic error
			// is fine for the admin portal.
			if err := Render(w, "login.html", map[string]any{"Error": "Invalid credentials"}); err != nil {
				h.log.Error("render error", "error", err)
			}
			return
		}

		match, err := VerifyPassword(password, user.PasswordHash)
		if err != nil || !match {
			h.SessionMgr.RecordLoginAttempt(remoteAddr)
			if err := Render(w, "login.html", map[string]any{"Error": "Invalid credentials"}); err != nil {
				h.log.Error("render error", "error", err)
			}
			return
		}

		token, err := h.SessionMgr.GenerateSession(r.Context(), user.ID)
		if err != nil {
			http.Error(w, "Failed to create session", http.StatusInternalServerError)
			return
		}
		h.SessionMgr.SetSessionCookie(w, token)

		h.logAudit(r.Context(), user.ID, "admin_login", "", nil)

		http.Redirect(w, r, "/", http.StatusFound)
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method == "POST" {
		cookie, err := r.Cookie(sessionCookieName)
		if err == nil {
			_ = h.SessionMgr.InvalidateSession(r.Context(), cookie.Value)
		}
		h.SessionMgr.ClearSessionCookie(w)
		http.Redirect(w, r, "/login", http.StatusFound)
	}
}

// formSummary pairs a form with its submission counts for the dashboard.
type formSummary struct {
	Form     repository.Form
	Total    int64
	Booking  int64
	URL      int64
	Message  int64
	NoMatch  int64
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	session, ok := r.Context().Value(sessionContextKey).(repository.AdminSession)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	user, err := h.Repo.GetAdminUserByID(r.Context(), session.AdminUserID)
	if err != nil {
		if cookie, cerr := r.Cookie(sessionCookieName); cerr == nil {
			_ = h.SessionMgr.InvalidateSession(r.Context(), cookie.Value)
		}
		h.SessionMgr.ClearSessionCookie(w)
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	forms, err := h.Service.ListForms(r.Context())
	if err != nil {
		http.Error(w, "Failed to list forms", http.StatusInternalServerError)
		return
	}

	summaries := make([]formSummary, 0, len(forms))
	for _, form := range forms {
		summary := formSummary{Form: form}
		counts, err := h.Repo.CountSubmissionsByOutcome(r.Context(), form.ID)
		if err != nil {
			h.log.Error("failed to count submissions", "form", form.Slug, "error", err)
		} else {
			summary.Booking = counts["booking"]
			summary.URL = counts["url"]
			summary.Message = counts["message"]
			summary.NoMatch = counts["no_match"]
			for _, n := range counts {
				summary.Total += n
			}
		}
		summaries = append(summaries, summary)
	}

	if err := Render(w, "dashboard.html", map[string]any{
		"User":      user,
		"Forms":     summaries,
		"CSRFToken": session.CSRFToken,
	}); err != nil {
		h.log.Error("render error", "error", err)
	}
}

func (h *Handler) handleForms(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	session, ok := r.Context().Value(sessionContextKey).(repository.AdminSession)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	slug := strings.TrimSpace(r.FormValue("slug"))
	name := strings.TrimSpace(r.FormValue("name"))

	form, err := h.Service.CreateForm(r.Context(), repository.Form{
		Slug:   slug,
		Name:   name,
		Active: true,
	})
	if err != nil {
		http.Error(w, "Failed to create form: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.logAudit(r.Context(), session.AdminUserID, "form_create", form.Slug, map[string]string{"name": name})

	http.Redirect(w, r, "/forms/"+form.Slug, http.StatusFound)
}

func (h *Handler) handleFormDetail(w http.ResponseWriter, r *http.Request) {
	session, ok := r.Context().Value(sessionContextKey).(repository.AdminSession)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	// URL pattern: /forms/{slug} or /forms/{slug}/toggle etc.
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/forms/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		http.NotFound(w, r)
		return
	}
	slug := pathParts[0]

	snapshot, err := h.Service.GetSnapshot(r.Context(), slug)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	user, err := h.Repo.GetAdminUserByID(r.Context(), session.AdminUserID)
	if err != nil {
		http.Error(w, "User not found", http.StatusUnauthorized)
		return
	}

	// POST /forms/{slug}/toggle
	if len(pathParts) == 2 && pathParts[1] == "toggle" && r.Method == "POST" {
		h.handleFormToggle(w, r, session, snapshot.Form)
		return
	}

	// POST /forms/{slug}/delete
	if len(pathParts) == 2 && pathParts[1] == "delete" && r.Method == "POST" {
		if err := h.Service.DeleteForm(r.Context(), slug); err != nil {
			http.Error(w, "Failed to delete form", http.StatusInternalServerError)
			return
		}
		h.logAudit(r.Context(), session.AdminUserID, "form_delete", slug, nil)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	// GET /forms/{slug} -> Show detail
	danglingRuleIDs, err := h.Service.DanglingRuleIDs(r.Context(), slug)
	if err != nil {
		h.log.Error("failed to compute dangling rules", "form", slug, "error", err)
	}

	submissions, err := h.Service.ListSubmissions(r.Context(), slug, 25, 0)
	if err != nil {
		h.log.Error("failed to list submissions", "form", slug, "error", err)
	}

	if err := Render(w, "form.html", map[string]any{
		"User":            user,
		"Form":            snapshot.Form,
		"Questions":       snapshot.Questions,
		"Rules":           snapshot.Rules,
		"DanglingRuleIDs": danglingRuleIDs,
		"Submissions":     submissions,
		"CSRFToken":       session.CSRFToken,
	}); err != nil {
		h.log.Error("render error", "error", err)
	}
}

func (h *Handler) handleFormToggle(w http.ResponseWriter, r *http.Request, session repository.AdminSession, form repository.Form) {
	form.Active = !form.Active
	updated, err := h.Service.UpdateForm(r.Context(), form)
	if err != nil {
		http.Error(w, "Failed to update form", http.StatusInternalServerError)
		return
	}

	h.logAudit(r.Context(), session.AdminUserID, "form_toggle", form.Slug, map[string]bool{"active": updated.Active})

	// Render just the button if HTMX request
	if r.Header.Get("HX-Request") == "true" {
		colorClass := "badge badge-inactive"
		text := "Inactive"
		if updated.Active {
			colorClass = "badge badge-active"
			text = "Active"
		}

		tmpl := template.Must(template.New("toggle").Parse(
			`<button hx-post="/forms/{{.Slug}}/toggle" ` +
				`hx-vals='{"csrf_token": "{{.CSRFToken}}"}' hx-target="this" hx-swap="outerHTML" ` +
				`class="{{.ColorClass}}">{{.Text}}</button>`))

		w.Header().Set("Content-Type", "text/html")
		_ = tmpl.Execute(w, map[string]string{
			"Slug":       form.Slug,
			"CSRFToken":  r.FormValue("csrf_token"),
			"ColorClass": colorClass,
			"Text":       text,
		})
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/forms/%s", form.Slug), http.StatusFound)
}

func (h *Handler) handleAPIKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := r.Context().Value(sessionContextKey).(repository.AdminSession)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	user, err := h.Repo.GetAdminUserByID(r.Context(), session.AdminUserID)
	if err != nil {
		http.Error(w, "User not found", http.StatusUnauthorized)
		return
	}

	if r.Method == "POST" {
		name := strings.TrimSpace(r.FormValue("name"))
		keyID, rawSecret, createErr := h.Repo.CreateAPIKey(r.Context(), name)
		if createErr != nil {
			http.Error(w, "Failed to create API key", http.StatusInternalServerError)
			return
		}
		h.logAudit(r.Context(), session.AdminUserID, "api_key_create", "", map[string]string{"api_key_id": keyID})

		// Stash the secret so the redirect target can show it once.
		h.SessionMgr.SetAPIKeyFlash(session.IDHash, keyID, rawSecret)
		http.Redirect(w, r, "/api-keys", http.StatusFound)
		return
	}

	keys, err := h.Repo.ListAPIKeys(r.Context())
	if err != nil {
		http.Error(w, "Failed to list API keys", http.StatusInternalServerError)
		return
	}

	data := map[string]any{
		"User":      user,
		"APIKeys":   keys,
		"CSRFToken": session.CSRFToken,
	}
	if keyID, secret, ok := h.SessionMgr.PopAPIKeyFlash(session.IDHash); ok {
		data["NewKeyID"] = keyID
		data["NewSecret"] = secret
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if renderErr := Render(w, "api_keys.html", data); renderErr != nil {
		h.log.Error("render error", "error", renderErr)
	}
}

func (h *Handler) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := r.Context().Value(sessionContextKey).(repository.AdminSession)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	keyID := r.FormValue("key_id")
	if keyID == "" {
		http.Error(w, "Missing key_id", http.StatusBadRequest)
		return
	}

	if err := h.Repo.RevokeAPIKey(r.Context(), keyID); err != nil {
		http.Error(w, "Failed to revoke API key", http.StatusInternalServerError)
		return
	}
	h.logAudit(r.Context(), session.AdminUserID, "api_key_revoke", "", map[string]string{"api_key_id": keyID})

	http.Redirect(w, r, "/api-keys", http.StatusFound)
}

func (h *Handler) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := r.Context().Value(sessionContextKey).(repository.AdminSession)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	user, err := h.Repo.GetAdminUserByID(r.Context(), session.AdminUserID)
	if err != nil {
		http.Error(w, "User not found", http.StatusUnauthorized)
		return
	}

	entries, err := h.Repo.ListAuditLog(r.Context(), 100)
	if err != nil {
		http.Error(w, "Failed to load audit log", http.StatusInternalServerError)
		return
	}

	if renderErr := Render(w, "audit_log.html", map[string]any{
		"User":      user,
		"Entries":   entries,
		"CSRFToken": session.CSRFToken,
	}); renderErr != nil {
		h.log.Error("render error", "error", renderErr)
	}
}

func (h *Handler) generateCSRFToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("failed to generate CSRF token: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// validateDoubleSubmitCSRF checks that the CSRF form value matches the
// routz_csrf cookie, implementing the double-submit cookie pattern for
// pre-authentication forms (login, setup).
func (h *Handler) validateDoubleSubmitCSRF(r *http.Request) bool {
	cookie, err := r.Cookie("routz_csrf")
	if err != nil || cookie.Value == "" {
		return false
	}
	formToken := r.FormValue("csrf_token")
	if formToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(formToken)) == 1
}

// logAudit writes an audit log entry on a best-effort basis.
// Failures are logged but never propagated to the caller.
func (h *Handler) logAudit(ctx context.Context, actor, action, formSlug string, details any) {
	entry, err := buildAuditEntry(actor, action, formSlug, details)
	if err != nil {
		h.log.Error("audit log: marshal details",
			"error", err,
			"action", action,
			"form_slug", formSlug,
			"actor", actor,
		)
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adminAuditWriteTimeout)
	defer cancel()

	if err := h.Repo.InsertAuditLog(writeCtx, entry); err != nil {
		h.log.Error("audit log write failed",
			"error", err,
			"action", action,
			"form_slug", formSlug,
			"actor", actor,
		)
	}
}
