package engine

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"secure-dialer/internal/auth"
	"secure-dialer/internal/contacts"
	"secure-dialer/internal/events"
	"secure-dialer/internal/firewall"
	"secure-dialer/internal/models"
	"secure-dialer/internal/reports"
	"secure-dialer/internal/ringcentral"
	"secure-dialer/internal/router"
	"secure-dialer/internal/store"
	"secure-dialer/pkg/utils"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIDeps are the components the HTTP API serves.
type APIDeps struct {
	Store       *store.Store
	Auth        *auth.Service
	Book        *contacts.Reconciler
	Importer    *contacts.Importer
	Dialer      *Dialer
	Tracker     *CallTracker
	Bus         *events.Bus
	Reports     *reports.Service
	RingCentral *ringcentral.Client
	Adapter     *ringcentral.Adapter
	Firewall    *firewall.Firewall
	CORSOrigins []string
	DefaultSMS  string
}

type API struct {
	store      *store.Store
	auth       *auth.Service
	book       *contacts.Reconciler
	importer   *contacts.Importer
	dialer     *Dialer
	tracker    *CallTracker
	bus        *events.Bus
	reports    *reports.Service
	rc         *ringcentral.Client
	adapter    *ringcentral.Adapter
	fw         *firewall.Firewall
	origins    []string
	defaultSMS string

	echo *echo.Echo
}

func NewAPI(d APIDeps) *API {
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}
	if d.DefaultSMS == "" {
		d.DefaultSMS = DefaultSMSTemplate
	}
	a := &API{
		store:      d.Store,
		auth:       d.Auth,
		book:       d.Book,
		importer:   d.Importer,
		dialer:     d.Dialer,
		tracker:    d.Tracker,
		bus:        d.Bus,
		reports:    d.Reports,
		rc:         d.RingCentral,
		adapter:    d.Adapter,
		fw:         d.Firewall,
		origins:    d.CORSOrigins,
		defaultSMS: d.DefaultSMS,
	}
	a.echo = a.routes()
	return a
}

func (a *API) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[API] ${method} ${uri} ${status} ${latency_human}\n",
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz" || c.Path() == "/metrics"
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: a.origins,
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.PATCH, echo.DELETE},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
	}))

	e.GET("/healthz", a.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	user := a.auth.RequireUser
	admin := auth.RequireAdmin

	// ─── Auth ────────────────────────────────────────────
	e.POST("/api/auth/signup", a.signUp)
	e.POST("/api/auth/signin", a.signIn)
	e.POST("/api/auth/signout", a.signOut, user)
	e.GET("/api/auth/session", a.session, user)
	e.POST("/api/auth/password/reset", a.requestReset)
	e.POST("/api/auth/password/confirm", a.confirmReset)

	// ─── Contacts ────────────────────────────────────────
	e.GET("/api/contacts", a.listContacts, user)
	e.PATCH("/api/contacts/:id", a.updateContact, user)
	e.POST("/api/contacts/:id/call", a.callContact, user)
	e.POST("/api/contacts/:id/text", a.textContact, user)

	// ─── Call status ─────────────────────────────────────
	e.GET("/api/calls/status", a.listCallStatus, user)
	e.DELETE("/api/calls/status/:id", a.clearCallStatus, user)
	e.GET("/ws/calls", a.callFeed, user)

	// ─── Sessions ────────────────────────────────────────
	e.GET("/api/sessions", a.listSessions, user)
	e.POST("/api/sessions/import", a.importSession, user, admin)
	e.GET("/api/sessions/:id/sms", a.getSessionSMS, user)
	e.PUT("/api/sessions/:id/sms", a.putSessionSMS, user, admin)

	// ─── Settings ────────────────────────────────────────
	e.GET("/api/settings/caller", a.getCaller, user)
	e.PUT("/api/settings/caller", a.putCaller, user)

	// ─── Admin ───────────────────────────────────────────
	e.GET("/api/admin/reports", a.getReports, user, admin)
	e.GET("/api/admin/firewall", a.listBlocked, user, admin)
	e.DELETE("/api/admin/firewall/:ip", a.unblock, user, admin)

	// ─── RingCentral ─────────────────────────────────────
	e.GET("/api/ringcentral/config", a.ringCentralConfig, user)
	e.POST("/api/ringcentral/call", a.ringCentralCall, user)
	e.GET("/api/ringcentral/authorize", a.ringCentralAuthorize, user, admin)
	e.GET("/api/ringcentral/callback", a.ringCentralCallback)
	e.POST("/api/ringcentral/logout", a.ringCentralLogout, user, admin)

	return e
}

// Handler exposes the routes for tests and embedding.
func (a *API) Handler() http.Handler { return a.echo }

func (a *API) Start(addr string) error {
	return a.echo.Start(addr)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.echo.Shutdown(ctx)
}

// ─── Errors ──────────────────────────────────────────────────────────────────

func statusFor(err error) int {
	switch {
	case errors.Is(err, contacts.ErrUnknownContact), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCallInProgress), errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, ErrSelfCall), errors.Is(err, router.ErrInvalidNumber):
		return http.StatusUnprocessableEntity
	case errors.Is(err, contacts.ErrNoContacts), errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrBlocked):
		return http.StatusTooManyRequests
	}

	var rcErr *ringcentral.Error
	if errors.As(err, &rcErr) {
		switch rcErr.Kind {
		case ringcentral.KindConfig:
			return http.StatusPreconditionFailed
		case ringcentral.KindAuth:
			if rcErr.Status != 0 {
				return http.StatusBadGateway
			}
			return http.StatusUnauthorized
		case ringcentral.KindSMSCapability:
			return http.StatusUnprocessableEntity
		case ringcentral.KindProvider:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

// errorMessage is the text sent to clients. Internal failures are not detailed.
func errorMessage(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "internal error"
	}
	if ringcentral.KindOf(err) != ringcentral.KindUnknown || errors.Is(err, ErrSelfCall) || errors.Is(err, router.ErrInvalidNumber) {
		return Reason(err)
	}
	return err.Error()
}

func fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] %s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, map[string]string{"error": errorMessage(err)})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

// ─── Masking ─────────────────────────────────────────────────────────────────
// Callers see first names, initials and the last four digits only.

func (a *API) maskContact(claims *auth.Claims, ct models.Contact) models.Contact {
	if claims != nil && claims.IsAdmin() {
		return ct
	}
	ct.LastName = utils.MaskLastName(ct.LastName)
	ct.Phone = utils.MaskPhoneNumber(ct.Phone)
	ct.Email = ""
	return ct
}

func (a *API) maskStatus(claims *auth.Claims, st models.CallStatus) models.CallStatus {
	if claims != nil && claims.IsAdmin() {
		return st
	}
	st.Phone = utils.MaskPhoneNumber(st.Phone)
	if ct, ok := a.book.Contact(st.ContactID); ok {
		masked := a.maskContact(claims, ct)
		st.ContactName = masked.FullName()
	} else if i := strings.Index(st.ContactName, " "); i > 0 {
		st.ContactName = st.ContactName[:i+1] + utils.MaskLastName(st.ContactName[i+1:])
	}
	return st
}

func (a *API) maskStatuses(claims *auth.Claims, list []models.CallStatus) []models.CallStatus {
	out := make([]models.CallStatus, 0, len(list))
	for _, st := range list {
		out = append(out, a.maskStatus(claims, st))
	}
	return out
}

// ─── Health ──────────────────────────────────────────────────────────────────
func (a *API) health(c echo.Context) error {
	if err := a.store.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "database unreachable"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"active_calls": len(a.tracker.List()),
	})
}

// ─── Auth ────────────────────────────────────────────────────────────────────
type credentials struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (a *API) signUp(c echo.Context) error {
	var req credentials
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	p, err := a.auth.SignUp(c.Request().Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (a *API) signIn(c echo.Context) error {
	var req credentials
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	token, p, err := a.auth.SignIn(c.Request().Context(), c.RealIP(), req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"token":   token,
		"profile": p,
	})
}

func (a *API) signOut(c echo.Context) error {
	if err := a.auth.SignOut(c.Request().Context(), auth.BearerToken(c)); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) session(c echo.Context) error {
	claims := auth.ClaimsFrom(c)
	p, err := a.auth.Profile(c.Request().Context(), claims.UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"profile":    p,
		"expires_at": claims.ExpiresAt.Time,
	})
}

// requestReset never reveals whether the email exists. An administrator
// asking gets the token back to hand over.
func (a *API) requestReset(c echo.Context) error {
	var req credentials
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	ctx := c.Request().Context()
	token, err := a.auth.RequestPasswordReset(ctx, req.Email)
	if err != nil {
		return fail(c, err)
	}
	resp := map[string]string{"status": "if the account exists, a reset has been issued"}
	if bearer := auth.BearerToken(c); bearer != "" && token != "" {
		if claims, err := a.auth.Session(ctx, bearer); err == nil && claims.IsAdmin() {
			resp["reset_token"] = token
		}
	}
	return c.JSON(http.StatusAccepted, resp)
}

func (a *API) confirmReset(c echo.Context) error {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if err := a.auth.ResetPassword(c.Request().Context(), req.Token, req.Password); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ─── Contacts ────────────────────────────────────────────────────────────────
func (a *API) listContacts(c echo.Context) error {
	claims := auth.ClaimsFrom(c)
	list := contacts.Filter(a.book.Contacts(), contacts.Criteria{
		SessionID: c.QueryParam("session"),
		Search:    c.QueryParam("q"),
		Attending: c.QueryParam("attending"),
	})
	for i := range list {
		list[i] = a.maskContact(claims, list[i])
	}
	return c.JSON(http.StatusOK, list)
}

func (a *API) updateContact(c echo.Context) error {
	claims := auth.ClaimsFrom(c)
	var patch models.ContactPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c, err.Error())
	}
	if patch.Empty() {
		return badRequest(c, "nothing to update")
	}
	if patch.Attending != nil && !patch.Attending.Valid() {
		return badRequest(c, "attending must be yes or no")
	}
	// Callers record outcomes; identity and call state belong to admins and the dialer.
	if !claims.IsAdmin() {
		patch = models.ContactPatch{Attending: patch.Attending, Comments: patch.Comments}
		if patch.Empty() {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "only attending and comments can be changed"})
		}
	}
	ct, err := a.book.UpdateContact(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, a.maskContact(claims, ct))
}

func (a *API) callContact(c echo.Context) error {
	claims := auth.ClaimsFrom(c)
	st, err := a.dialer.Call(c.Request().Context(), claims.UserID, c.Param("id"))
	if err != nil {
		body := map[string]interface{}{"error": errorMessage(err)}
		if st.ID != "" {
			body["call"] = a.maskStatus(claims, st)
		}
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Printf("[API] call %s: %v", c.Param("id"), err)
		}
		return c.JSON(status, body)
	}
	return c.JSON(http.StatusOK, a.maskStatus(claims, st))
}

func (a *API) textContact(c echo.Context) error {
	claims := auth.ClaimsFrom(c)
	ct, err := a.dialer.Text(c.Request().Context(), claims.UserID, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, a.maskContact(claims, ct))
}

// ─── Call status ─────────────────────────────────────────────────────────────
func (a *API) listCallStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, a.maskStatuses(auth.ClaimsFrom(c), a.tracker.List()))
}

func (a *API) clearCallStatus(c echo.Context) error {
	a.tracker.Clear(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// ─── Sessions ────────────────────────────────────────────────────────────────
func (a *API) listSessions(c echo.Context) error {
	list, err := a.store.ListCallSessions(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (a *API) importSession(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "a CSV file is required in the \"file\" field")
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, err.Error())
	}
	defer f.Close()

	parsed, err := contacts.ParseCSV(f)
	if err != nil {
		if errors.Is(err, contacts.ErrNoContacts) {
			return fail(c, err)
		}
		return badRequest(c, err.Error())
	}
	session, err := a.importer.Import(c.Request().Context(), auth.ClaimsFrom(c).UserID, c.FormValue("name"), parsed)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

func (a *API) getSessionSMS(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := a.store.GetCallSession(ctx, id); err != nil {
		return fail(c, err)
	}
	sms, err := a.store.SessionSMS(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"call_session_id": id,
			"sms_content":     a.defaultSMS,
			"is_default":      true,
		})
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sms)
}

func (a *API) putSessionSMS(c echo.Context) error {
	var req struct {
		SMSContent string `json:"sms_content"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if strings.TrimSpace(req.SMSContent) == "" {
		return badRequest(c, "sms_content is required")
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := a.store.GetCallSession(ctx, id); err != nil {
		return fail(c, err)
	}
	sms, err := a.store.UpsertSessionSMS(ctx, id, req.SMSContent)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sms)
}

// ─── Settings ────────────────────────────────────────────────────────────────
func (a *API) getCaller(c echo.Context) error {
	n, err := a.store.CallerNumber(c.Request().Context(), auth.ClaimsFrom(c).UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"caller_number": n})
}

func (a *API) putCaller(c echo.Context) error {
	var req struct {
		CallerNumber string `json:"caller_number"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	n, err := router.Normalize(req.CallerNumber)
	if err != nil {
		return fail(c, err)
	}
	st, err := a.store.UpsertCallerNumber(c.Request().Context(), auth.ClaimsFrom(c).UserID, n)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// ─── Admin ───────────────────────────────────────────────────────────────────
func (a *API) getReports(c echo.Context) error {
	sum, err := a.reports.Summary(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (a *API) listBlocked(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"blocked": a.fw.GetBlacklist()})
}

func (a *API) unblock(c echo.Context) error {
	if !a.fw.Unblock(c.Param("ip")) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "ip is not blocked"})
	}
	return c.NoContent(http.StatusNoContent)
}

// ─── RingCentral ─────────────────────────────────────────────────────────────
func (a *API) ringCentralConfig(c echo.Context) error {
	ctx := c.Request().Context()
	s := a.rc.Settings()
	missing := s.Validate()
	resp := map[string]interface{}{
		"server_url":    s.ServerURL,
		"client_id":     s.ClientID,
		"auth_mode":     s.AuthMode,
		"configured":    len(missing) == 0,
		"authenticated": a.rc.Authenticated(ctx),
	}
	if claims := auth.ClaimsFrom(c); claims.IsAdmin() {
		resp["missing"] = missing
		resp["default_caller"] = s.DefaultCaller
		resp["redirect_uri"] = s.RedirectURI
	}
	_, err := a.adapter.CallerFor(ctx, auth.ClaimsFrom(c).UserID)
	resp["has_caller_number"] = err == nil
	return c.JSON(http.StatusOK, resp)
}

func (a *API) ringCentralCall(c echo.Context) error {
	var req struct {
		ToNumber   string `json:"toNumber"`
		FromNumber string `json:"fromNumber"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if strings.TrimSpace(req.ToNumber) == "" {
		return badRequest(c, "Phone number is required")
	}
	ctx := c.Request().Context()
	to, err := router.Normalize(req.ToNumber)
	if err != nil {
		return fail(c, err)
	}
	from := strings.TrimSpace(req.FromNumber)
	if from == "" {
		if from, err = a.adapter.CallerFor(ctx, auth.ClaimsFrom(c).UserID); err != nil {
			return fail(c, err)
		}
	}
	handle, err := a.adapter.PlaceCallFrom(ctx, from, to)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    handle,
	})
}

func (a *API) ringCentralAuthorize(c echo.Context) error {
	u, err := a.rc.AuthorizeURL(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"url": u})
}

func (a *API) ringCentralCallback(c echo.Context) error {
	if msg := c.QueryParam("error"); msg != "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "RingCentral authorization denied: " + msg})
	}
	if err := a.rc.Exchange(c.Request().Context(), c.QueryParam("code"), c.QueryParam("state")); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "connected"})
}

func (a *API) ringCentralLogout(c echo.Context) error {
	a.rc.Logout(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}
