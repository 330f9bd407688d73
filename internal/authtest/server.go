// Package authtest is an in-process authentication server for tests and the
// CLI demo. It speaks the same /auth routes as the real backend, issues
// HS256 tokens on an injectable clock, rotates refresh tokens and verifies
// TOTP step-up codes.
package authtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/transport"
)

// Account is a user known to the server. A non-empty TOTPSecret turns on
// step-up login.
type Account struct {
	ID         string
	Username   string
	Email      string
	Password   string
	FullName   string
	Phone      string
	IsAdmin    bool
	TOTPSecret string
}

// Options configures a [Server].
type Options struct {
	Now          func() time.Time
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ChallengeTTL time.Duration
	SigningKey   []byte
}

// Server is the fake backend. It is a transport.Transport and an
// http.Handler.
type Server struct {
	opts   Options
	issuer *jwt.Issuer
	router chi.Router

	mu       sync.Mutex
	accounts map[string]*Account
	refresh  map[string]string
	access   map[string]bool
	calls    map[string]int
	offline  bool
	nextID   int
}

// New returns a Server with no accounts.
func New(opts Options) (*Server, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 24 * time.Hour
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = 5 * time.Minute
	}
	if len(opts.SigningKey) == 0 {
		opts.SigningKey = []byte("authtest-signing-key-0123456789ab")
	}
	issuer, err := jwt.NewIssuer(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    opts.SigningKey,
		Issuer:        "authtest",
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		issuer:   issuer,
		accounts: make(map[string]*Account),
		refresh:  make(map[string]string),
		access:   make(map[string]bool),
		calls:    make(map[string]int),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.count)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/verify-2fa", s.handleVerify)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Get("/me", s.handleMe)
		r.Post("/register", s.handleRegister)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAccess)
		r.Get("/orders", s.handleOrders)
		r.Post("/orders", s.handleOrders)
	})
	return r
}

// AddAccount registers a user. A missing ID is assigned.
func (s *Server) AddAccount(a Account) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		s.nextID++
		a.ID = fmt.Sprintf("user-%d", s.nextID)
	}
	acct := a
	s.accounts[strings.ToLower(a.Username)] = &acct
	if a.Email != "" {
		s.accounts[strings.ToLower(a.Email)] = &acct
	}
	return acct
}

// NewTOTPSecret generates a base32 secret for account.
func NewTOTPSecret(account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "goSession", AccountName: account})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// Code returns the valid TOTP code for secret at t.
func Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCode(secret, t)
}

// SetOffline makes Send fail with transport.ErrNetwork.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// RevokeAll forgets every refresh token, so the next refresh is denied.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	s.refresh = make(map[string]string)
	s.mu.Unlock()
}

// RevokeAccess invalidates every access token issued so far. Requests that
// carry one get a 401 until the client refreshes.
func (s *Server) RevokeAccess() {
	s.mu.Lock()
	s.access = make(map[string]bool)
	s.mu.Unlock()
}

// Calls returns how often method and path were served.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

func (s *Server) Handler() http.Handler { return s.router }

// Send serves req in process.
func (s *Server) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	s.mu.Lock()
	offline := s.offline
	s.mu.Unlock()
	if offline {
		return nil, fmt.Errorf("%w: authtest offline", transport.ErrNetwork)
	}

	target := req.URL
	if strings.HasPrefix(target, "/") {
		target = "http://authtest" + target
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hr, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrNetwork, err)
	}
	for k, v := range req.Header {
		hr.Header[k] = append([]string(nil), v...)
	}
	if len(req.Body) > 0 && hr.Header.Get("Content-Type") == "" {
		hr.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, hr)
	return &transport.Response{
		Status: rec.Code,
		Header: rec.Header().Clone(),
		Body:   rec.Body.Bytes(),
	}, nil
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

/*
====================================
HANDLERS
====================================
*/

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request")
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(req.Identifier)]
	s.mu.Unlock()
	if !ok || acct.Password != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if acct.TOTPSecret != "" {
		temp, err := s.issuer.Issue(jwt.KindTwoFactor, acct.ID, s.opts.ChallengeTTL, s.opts.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Login unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"requires_2fa": true,
			"temp_token":   temp,
			"method":       "totp",
			"email_hint":   maskEmail(acct.Email),
			"message":      "Verification required",
		})
		return
	}
	s.writeSession(w, acct, "Login successful")
}

type verifyRequest struct {
	TempToken string `json:"temp_token"`
	Code      string `json:"code"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request")
		return
	}

	now := s.opts.Now()
	claims, err := s.issuer.Verify(req.TempToken, jwt.KindTwoFactor, now)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Verification expired, log in again")
		return
	}
	acct, ok := s.accountByID(claims.Subject)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Verification expired, log in again")
		return
	}
	valid, err := totp.ValidateCustom(req.Code, acct.TOTPSecret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		writeError(w, http.StatusUnauthorized, "Invalid verification code")
		return
	}
	s.writeSession(w, acct, "Login successful")
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	userID, ok := s.refresh[req.RefreshToken]
	delete(s.refresh, req.RefreshToken)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "Refresh rejected")
		return
	}
	if _, err := s.issuer.Verify(req.RefreshToken, jwt.KindRefresh, s.opts.Now()); err != nil {
		writeError(w, http.StatusUnauthorized, "Refresh rejected")
		return
	}
	acct, ok := s.accountByID(userID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Refresh rejected")
		return
	}
	s.writeSession(w, acct, "")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.RefreshToken != "" {
		s.mu.Lock()
		delete(s.refresh, req.RefreshToken)
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, userJSON(acct))
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}
	s.mu.Lock()
	_, taken := s.accounts[strings.ToLower(req.Username)]
	s.mu.Unlock()
	if taken {
		writeError(w, http.StatusBadRequest, "Username already registered")
		return
	}
	s.AddAccount(Account{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Registration successful"})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		writeJSON(w, http.StatusCreated, map[string]any{"id": "order-1"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": []string{}})
}

func (s *Server) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authorize(r); !ok {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

/*
====================================
HELPERS
====================================
*/

func (s *Server) authorize(r *http.Request) (*Account, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		return nil, false
	}
	s.mu.Lock()
	live := s.access[raw]
	s.mu.Unlock()
	if !live {
		return nil, false
	}
	claims, err := s.issuer.Verify(raw, jwt.KindAccess, s.opts.Now())
	if err != nil {
		return nil, false
	}
	return s.accountByID(claims.Subject)
}

func (s *Server) accountByID(id string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

func (s *Server) writeSession(w http.ResponseWriter, acct *Account, message string) {
	now := s.opts.Now()
	access, err := s.issuer.Issue(jwt.KindAccess, acct.ID, s.opts.AccessTTL, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Login unavailable")
		return
	}
	refresh, err := s.issuer.Issue(jwt.KindRefresh, acct.ID, s.opts.RefreshTTL, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Login unavailable")
		return
	}
	s.mu.Lock()
	s.refresh[refresh] = acct.ID
	s.access[access] = true
	s.mu.Unlock()

	body := map[string]any{
		"success":       true,
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    int(s.opts.AccessTTL / time.Second),
		"user":          userJSON(acct),
	}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, http.StatusOK, body)
}

func userJSON(a *Account) map[string]any {
	return map[string]any{
		"id":                 a.ID,
		"username":           a.Username,
		"email":              a.Email,
		"full_name":          a.FullName,
		"phone":              a.Phone,
		"is_admin":           a.IsAdmin,
		"email_verified":     true,
		"two_factor_enabled": a.TOTPSecret != "",
	}
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return email
	}
	return email[:1] + strings.Repeat("*", at-1) + email[at:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}
