package ringcentral

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"secure-dialer/internal/cache"
	"secure-dialer/internal/config"
	"secure-dialer/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenPath  = "/restapi/oauth/token"
	authPath   = "/restapi/oauth/authorize"
	ringOutAPI = "/restapi/v1.0/account/~/extension/~/ring-out"
	smsAPI     = "/restapi/v1.0/account/~/extension/~/sms"

	tokenKey    = "ringcentral:token"
	stateKey    = "ringcentral:state:"
	stateTTL    = 10 * time.Minute
	expirySkew  = 30 * time.Second
	jwtBearer   = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	httpTimeout = 30 * time.Second
)

// Token is the OAuth token as issued by RingCentral, plus the absolute expiry.
type Token struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token,omitempty"`
	TokenType             string    `json:"token_type"`
	ExpiresIn             int       `json:"expires_in"`
	RefreshTokenExpiresIn int       `json:"refresh_token_expires_in,omitempty"`
	ExpiresAt             time.Time `json:"expires_at"`
}

// CallHandle identifies a ring-out request accepted by the provider.
type CallHandle struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Client talks to the RingCentral REST API. Token state is private to each
// client and shared with other replicas through the cache.
type Client struct {
	cfg config.RingCentral
	hc  *http.Client
	kv  cache.Store
	now func() time.Time

	mu    sync.Mutex
	token *Token
}

func NewClient(cfg config.RingCentral, kv cache.Store, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: httpTimeout}
	}
	if kv == nil {
		kv = cache.NewMemoryStore()
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = config.DefaultServerURL
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	return &Client{cfg: cfg, hc: hc, kv: kv, now: time.Now}
}

// Settings returns the provider configuration without secrets.
func (c *Client) Settings() config.RingCentral {
	out := c.cfg
	out.ClientSecret = ""
	out.Password = ""
	out.JWTToken = ""
	return out
}

// Authenticated reports whether a usable token is held or persisted.
func (c *Client) Authenticated(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreLocked(ctx)
	return c.token != nil && c.validLocked()
}

// ─── Calls & messages ───────────────────────────────────────────────────────

// PlaceCall asks RingCentral to ring `from` and then connect it to `to`.
func (c *Client) PlaceCall(ctx context.Context, from, to string) (CallHandle, error) {
	body := map[string]any{
		"from":       map[string]string{"phoneNumber": from},
		"to":         map[string]string{"phoneNumber": to},
		"playPrompt": false,
	}
	var resp struct {
		ID     string `json:"id"`
		Status struct {
			CallStatus string `json:"callStatus"`
		} `json:"status"`
	}
	if err := c.do(ctx, "ring-out", ringOutAPI, body, &resp); err != nil {
		return CallHandle{}, err
	}
	log.Printf("[RingCentral] Ring-out %s queued to %s (%s)", resp.ID, utils.MaskPhoneNumber(to), resp.Status.CallStatus)
	return CallHandle{ID: resp.ID, Status: resp.Status.CallStatus}, nil
}

func (c *Client) SendText(ctx context.Context, from, to, text string) error {
	body := map[string]any{
		"from": map[string]string{"phoneNumber": from},
		"to":   []map[string]string{{"phoneNumber": to}},
		"text": text,
	}
	if err := c.do(ctx, "sms", smsAPI, body, nil); err != nil {
		return err
	}
	log.Printf("[RingCentral] SMS sent to %s", utils.MaskPhoneNumber(to))
	return nil
}

func (c *Client) do(ctx context.Context, endpoint, path string, body, out any) error {
	access, err := c.accessToken(ctx)
	if err != nil {
		utils.ProviderRequestsTotal.WithLabelValues(endpoint, KindOf(err).String()).Inc()
		return err
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := c.hc.Do(req)
	if err != nil {
		utils.ProviderRequestsTotal.WithLabelValues(endpoint, "transport").Inc()
		return &Error{Kind: KindProvider, Message: endpoint + " request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		code, msg := readAPIError(resp.Body)
		c.dropToken(ctx)
		utils.ProviderRequestsTotal.WithLabelValues(endpoint, KindAuth.String()).Inc()
		log.Printf("[RingCentral] %s rejected token (%s), cleared", endpoint, code)
		return authError(resp.StatusCode, code, or(msg, "access token rejected"))
	}
	if resp.StatusCode >= 300 {
		code, msg := readAPIError(resp.Body)
		perr := providerError(resp.StatusCode, code, msg)
		utils.ProviderRequestsTotal.WithLabelValues(endpoint, perr.Kind.String()).Inc()
		return perr
	}
	utils.ProviderRequestsTotal.WithLabelValues(endpoint, "ok").Inc()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindProvider, Status: resp.StatusCode, Message: "unreadable " + endpoint + " response", Err: err}
	}
	return nil
}

// readAPIError pulls errorCode/message out of the RingCentral error envelope.
// OAuth endpoints use error/error_description instead.
func readAPIError(r io.Reader) (code, msg string) {
	raw, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var env struct {
		ErrorCode        string `json:"errorCode"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Errors           []struct {
			ErrorCode string `json:"errorCode"`
			Message   string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", strings.TrimSpace(string(raw))
	}
	code = or(env.ErrorCode, env.Error)
	msg = or(env.Message, env.ErrorDescription)
	if len(env.Errors) > 0 {
		code = or(code, env.Errors[0].ErrorCode)
		if env.Errors[0].ErrorCode == "MSG-304" {
			code = "MSG-304"
		}
		msg = or(msg, env.Errors[0].Message)
	}
	return code, msg
}

// ─── Tokens ─────────────────────────────────────────────────────────────────

func (c *Client) accessToken(ctx context.Context) (string, error) {
	if missing := c.cfg.Validate(); len(missing) > 0 {
		return "", configError("missing %s", strings.Join(missing, ", "))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.restoreLocked(ctx)
	if c.token != nil && c.validLocked() {
		return c.token.AccessToken, nil
	}

	if c.token != nil && c.token.RefreshToken != "" {
		tok, err := c.grant(ctx, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {c.token.RefreshToken},
		})
		if err == nil {
			c.saveLocked(ctx, tok)
			log.Printf("[RingCentral] Token refreshed")
			return tok.AccessToken, nil
		}
		log.Printf("[RingCentral] Refresh failed: %v", err)
	}
	if c.token != nil {
		c.clearLocked(ctx)
	}

	var form url.Values
	switch c.cfg.AuthMode {
	case config.AuthModePassword:
		form = url.Values{
			"grant_type": {"password"},
			"username":   {c.cfg.Username},
			"password":   {c.cfg.Password},
		}
		if c.cfg.Extension != "" {
			form.Set("extension", c.cfg.Extension)
		}
	case config.AuthModeJWT:
		if err := c.checkAssertion(); err != nil {
			return "", err
		}
		form = url.Values{
			"grant_type": {jwtBearer},
			"assertion":  {c.cfg.JWTToken},
		}
	default:
		return "", ErrReauthRequired
	}

	tok, err := c.grant(ctx, form)
	if err != nil {
		return "", err
	}
	c.saveLocked(ctx, tok)
	log.Printf("[RingCentral] Authenticated (%s)", c.cfg.AuthMode)
	return tok.AccessToken, nil
}

// checkAssertion rejects an expired JWT credential before it is sent.
// The signature is RingCentral's to verify.
func (c *Client) checkAssertion() error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.cfg.JWTToken, claims); err != nil {
		log.Printf("[RingCentral] JWT credential is not a parseable JWT, sending as-is: %v", err)
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !c.now().Before(exp.Time) {
		return authError(0, "", "JWT credential expired at "+exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

func (c *Client) grant(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		utils.ProviderRequestsTotal.WithLabelValues("token", "transport").Inc()
		return nil, &Error{Kind: KindAuth, Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		code, msg := readAPIError(resp.Body)
		utils.ProviderRequestsTotal.WithLabelValues("token", KindAuth.String()).Inc()
		return nil, authError(resp.StatusCode, code, or(msg, "token request rejected"))
	}
	utils.ProviderRequestsTotal.WithLabelValues("token", "ok").Inc()

	var tok Token
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, &Error{Kind: KindAuth, Status: resp.StatusCode, Message: "unreadable token response", Err: err}
	}
	if tok.AccessToken == "" {
		return nil, authError(resp.StatusCode, "", "token response without access_token")
	}
	tok.ExpiresAt = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return &tok, nil
}

func (c *Client) validLocked() bool {
	return c.now().Add(expirySkew).Before(c.token.ExpiresAt)
}

func (c *Client) restoreLocked(ctx context.Context) {
	if c.token != nil {
		return
	}
	raw, err := c.kv.Get(ctx, tokenKey)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			log.Printf("[RingCentral] Token restore failed: %v", err)
		}
		return
	}
	var tok Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		log.Printf("[RingCentral] Discarding unreadable persisted token: %v", err)
		c.clearLocked(ctx)
		return
	}
	c.token = &tok
}

func (c *Client) saveLocked(ctx context.Context, tok *Token) {
	c.token = tok
	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if tok.RefreshTokenExpiresIn > 0 {
		ttl = time.Duration(tok.RefreshTokenExpiresIn) * time.Second
	}
	raw, _ := json.Marshal(tok)
	if err := c.kv.Set(ctx, tokenKey, string(raw), ttl); err != nil {
		log.Printf("[RingCentral] Token persist failed: %v", err)
	}
}

func (c *Client) clearLocked(ctx context.Context) {
	c.token = nil
	if err := c.kv.Del(ctx, tokenKey); err != nil {
		log.Printf("[RingCentral] Token delete failed: %v", err)
	}
}

func (c *Client) dropToken(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked(ctx)
}

// Logout forgets the current token here and in the cache.
func (c *Client) Logout(ctx context.Context) {
	c.dropToken(ctx)
	log.Printf("[RingCentral] Logged out")
}

// ─── Authorization code flow ────────────────────────────────────────────────

// AuthorizeURL starts the authorization-code flow. The returned URL carries a
// single-use state nonce valid for ten minutes.
func (c *Client) AuthorizeURL(ctx context.Context) (string, error) {
	if c.cfg.AuthMode != config.AuthModeAuthCode {
		return "", configError("auth mode is %s, not %s", c.cfg.AuthMode, config.AuthModeAuthCode)
	}
	if missing := c.cfg.Validate(); len(missing) > 0 {
		return "", configError("missing %s", strings.Join(missing, ", "))
	}
	state := uuid.NewString()
	if err := c.kv.Set(ctx, stateKey+state, "1", stateTTL); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {c.cfg.ClientID},
		"redirect_uri":  {c.cfg.RedirectURI},
		"state":         {state},
	}
	return c.cfg.ServerURL + authPath + "?" + q.Encode(), nil
}

// Exchange completes the authorization-code flow.
func (c *Client) Exchange(ctx context.Context, code, state string) error {
	if state == "" {
		return authError(0, "", "missing OAuth state")
	}
	if _, err := c.kv.Take(ctx, stateKey+state); err != nil {
		return authError(0, "", "invalid or expired OAuth state")
	}
	if code == "" {
		return authError(0, "", "missing authorization code")
	}
	tok, err := c.grant(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.cfg.RedirectURI},
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.saveLocked(ctx, tok)
	c.mu.Unlock()
	log.Printf("[RingCentral] Authorization code exchanged")
	return nil
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
