package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"gitpress/internal/auth"
	"gitpress/internal/config"
	"gitpress/internal/constants"
	"gitpress/internal/throttle"
)

const (
	testUsername   = "admin"
	testPassword   = "hunter2hunter2"
	testTOTPSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash test password: %v", err)
	}

	limiter := throttle.NewMemoryLimiter(constants.MaxLoginAttempts, constants.LoginWindow)
	t.Cleanup(func() { limiter.Close() })

	codec := auth.NewTokenCodec([]byte("test-signing-key"), time.Hour, false)
	gateway := auth.NewGateway(testUsername, string(hash), testTOTPSecret, codec, limiter)

	return &Server{
		Cfg:     &config.Config{AdminUsername: testUsername},
		Gateway: gateway,
		Limiter: limiter,
	}
}

func validCode(t *testing.T) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(testTOTPSecret, time.Now(), totp.ValidateOpts{
		Period:    constants.TOTPPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("failed to generate one-time code: %v", err)
	}
	return code
}

func loginRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, constants.EndpointLogin, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func loginBody(t *testing.T, username, password, code string) string {
	t.Helper()
	data, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
		"code":     code,
	})
	return string(data)
}

func TestHandleLogin(t *testing.T) {
	tests := []struct {
		name       string
		body       func(t *testing.T) string
		wantStatus int
		wantError  string
	}{
		{
			name:       "malformed body",
			body:       func(t *testing.T) string { return "{broken" },
			wantStatus: http.StatusBadRequest,
			wantError:  constants.MsgInvalidJSON,
		},
		{
			name:       "missing fields",
			body:       func(t *testing.T) string { return loginBody(t, testUsername, "", "") },
			wantStatus: http.StatusBadRequest,
			wantError:  constants.MsgMissingFields,
		},
		{
			name: "wrong username",
			body: func(t *testing.T) string {
				return loginBody(t, "intruder", testPassword, validCode(t))
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  constants.MsgInvalidCredentials,
		},
		{
			name: "wrong password",
			body: func(t *testing.T) string {
				return loginBody(t, testUsername, "wrong", validCode(t))
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  constants.MsgInvalidCredentials,
		},
		{
			name: "wrong one-time code",
			body: func(t *testing.T) string {
				return loginBody(t, testUsername, testPassword, "000000")
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  constants.MsgInvalid2FA,
		},
		{
			name: "valid login",
			body: func(t *testing.T) string {
				return loginBody(t, testUsername, testPassword, validCode(t))
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := httptest.NewRecorder()
			s.HandleLogin(rec, loginRequest(tt.body(t)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantError != "" {
				var resp map[string]string
				json.Unmarshal(rec.Body.Bytes(), &resp)
				if resp["error"] != tt.wantError {
					t.Errorf("error = %q, want %q", resp["error"], tt.wantError)
				}
			}
		})
	}
}

func TestHandleLogin_SetsSessionCookie(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.HandleLogin(rec, loginRequest(loginBody(t, testUsername, testPassword, validCode(t))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == constants.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie in response")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}
	if cookie.Value == "" {
		t.Error("session cookie is empty")
	}
}

func TestHandleLogin_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.HandleLogin(rec, httptest.NewRequest(http.MethodGet, constants.EndpointLogin, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleLogin_Throttled(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < constants.MaxLoginAttempts; i++ {
		rec := httptest.NewRecorder()
		s.HandleLogin(rec, loginRequest(loginBody(t, testUsername, "wrong", "000000")))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, rec.Code)
		}
	}

	// Window exhausted: even correct credentials are rejected.
	rec := httptest.NewRecorder()
	s.HandleLogin(rec, loginRequest(loginBody(t, testUsername, testPassword, validCode(t))))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] != constants.MsgThrottled {
		t.Errorf("error = %q, want %q", resp["error"], constants.MsgThrottled)
	}
}

func sessionCookie(t *testing.T, s *Server) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	s.HandleLogin(rec, loginRequest(loginBody(t, testUsername, testPassword, validCode(t))))
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == constants.SessionCookieName {
			return c
		}
	}
	t.Fatal("login response carried no session cookie")
	return nil
}

func TestHandleSession(t *testing.T) {
	s := newTestServer(t)
	cookie := sessionCookie(t, s)

	req := httptest.NewRequest(http.MethodGet, constants.EndpointSession, nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	s.HandleSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Authenticated bool   `json:"authenticated"`
		Username      string `json:"username"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Authenticated || resp.Username != testUsername {
		t.Errorf("session = %+v", resp)
	}
}

func TestHandleSession_NoCookie(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.HandleSession(rec, httptest.NewRequest(http.MethodGet, constants.EndpointSession, nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var resp struct {
		Authenticated bool `json:"authenticated"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Authenticated {
		t.Error("unauthenticated request reported as authenticated")
	}
}

func TestHandleLogout(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.HandleLogout(rec, httptest.NewRequest(http.MethodPost, constants.EndpointLogout, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == constants.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("logout did not clear the session cookie")
	}
}

func TestHandleRemoteOp_RequiresAuth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, constants.EndpointRemoteOp,
		strings.NewReader(`{"operation":"getRef","params":{"ref":"heads/main"}}`))
	rec := httptest.NewRecorder()
	s.HandleRemoteOp(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHandleRemoteOp_UnknownOperation(t *testing.T) {
	s := newTestServer(t)
	cookie := sessionCookie(t, s)

	req := httptest.NewRequest(http.MethodPost, constants.EndpointRemoteOp,
		strings.NewReader(`{"operation":"dropEverything","params":{}}`))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	s.HandleRemoteOp(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] != constants.MsgUnknownOperation {
		t.Errorf("error = %q, want %q", resp["error"], constants.MsgUnknownOperation)
	}
}

func TestHandlePublishPost_InvalidSlug(t *testing.T) {
	s := newTestServer(t)
	cookie := sessionCookie(t, s)

	req := httptest.NewRequest(http.MethodPost, constants.EndpointPublish,
		strings.NewReader(`{"slug":"Bad Slug!","entry":{"slug":"Bad Slug!","date":"2024-01-01"}}`))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	s.HandlePublishPost(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body)
	}
}

func TestTreeItemParam(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantDelete bool
		wantSHA    string
	}{
		{name: "null sha is a deletion", raw: `{"path":"a.md","sha":null}`, wantDelete: true},
		{name: "string sha", raw: `{"path":"a.md","sha":"abc"}`, wantSHA: "abc"},
		{name: "absent sha", raw: `{"path":"a.md","content":"body"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p treeItemParam
			if err := json.Unmarshal([]byte(tt.raw), &p); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}
			entry, err := p.toEntry()
			if err != nil {
				t.Fatalf("toEntry() error: %v", err)
			}
			if entry.Delete != tt.wantDelete {
				t.Errorf("Delete = %v, want %v", entry.Delete, tt.wantDelete)
			}
			if entry.SHA != tt.wantSHA {
				t.Errorf("SHA = %q, want %q", entry.SHA, tt.wantSHA)
			}
		})
	}
}

func TestHandleSetup2FA(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.HandleSetup2FA(rec, httptest.NewRequest(http.MethodGet, constants.EndpointSetup2FA, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["secret"] == "" {
		t.Error("no secret in enrollment response")
	}
	if !strings.HasPrefix(resp["qrCode"], "data:image/png;base64,") {
		t.Errorf("qrCode = %.40q, want a data URL", resp["qrCode"])
	}
}

func TestHandleSetup2FA_DisabledInProduction(t *testing.T) {
	s := newTestServer(t)
	s.Cfg.Production = true

	rec := httptest.NewRecorder()
	s.HandleSetup2FA(rec, httptest.NewRequest(http.MethodGet, constants.EndpointSetup2FA, nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
