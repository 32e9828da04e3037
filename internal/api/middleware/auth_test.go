package middleware

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func generateTestToken(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = testKeyID
	var signKey any = key
	if method == jwt.SigningMethodHS256 {
		signKey = []byte("secret")
	}
	s, err := token.SignedString(signKey)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey, leeway time.Duration) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc из JWKS JSON: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, leeway, testLogger())
}

func validClaims(sub string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
}

// TestJWTAuth_ValidToken проверяет, что sub попадает в контекст.
func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, 0)

	var gotSub string
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/maps/upload", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, key, jwt.SigningMethodRS256, validClaims("user-42")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
	if gotSub != "user-42" {
		t.Errorf("ожидался sub=user-42, получен %q", gotSub)
	}
}

// TestJWTAuth_Rejected проверяет отказы с 401.
func TestJWTAuth_Rejected(t *testing.T) {
	key := generateTestKey(t)
	other := generateTestKey(t)
	auth := newTestJWTAuth(t, key, 0)

	expired := validClaims("user-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExp := validClaims("user-1")
	noExp.ExpiresAt = nil

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer abc.def.ghi"},
		{"чужой ключ", "Bearer " + generateTestToken(t, other, jwt.SigningMethodRS256, validClaims("user-1"))},
		{"HS256", "Bearer " + generateTestToken(t, key, jwt.SigningMethodHS256, validClaims("user-1"))},
		{"просрочен", "Bearer " + generateTestToken(t, key, jwt.SigningMethodRS256, expired)},
		{"без exp", "Bearer " + generateTestToken(t, key, jwt.SigningMethodRS256, noExp)},
		{"без sub", "Bearer " + generateTestToken(t, key, jwt.SigningMethodRS256, validClaims(""))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler не должен быть вызван")
			}))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/maps/upload", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), "UNAUTHORIZED") {
				t.Errorf("тело без кода UNAUTHORIZED: %s", rec.Body.String())
			}
		})
	}
}

// TestJWTAuth_Leeway проверяет допуск рассинхронизации часов.
func TestJWTAuth_Leeway(t *testing.T) {
	key := generateTestKey(t)
	claims := validClaims("user-1")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Second))
	token := generateTestToken(t, key, jwt.SigningMethodRS256, claims)

	for leeway, want := range map[time.Duration]int{
		0:                http.StatusUnauthorized,
		30 * time.Second: http.StatusOK,
	} {
		auth := newTestJWTAuth(t, key, leeway)
		handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != want {
			t.Errorf("leeway %v: статус %d, ожидался %d", leeway, rec.Code, want)
		}
	}
}

func TestExcludePaths(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key, 0)
	handler := ExcludePaths(auth.Middleware(), "/health/", "/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := map[string]int{
		"/health/live":        http.StatusOK,
		"/metrics":            http.StatusOK,
		"/api/v1/maps/upload": http.StatusUnauthorized,
	}
	for path, want := range tests {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("%s: статус %d, ожидался %d", path, rec.Code, want)
		}
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogAttrs(r.Context(), slog.String("error_kind", "DuplicateContent"))
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("дубликат"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/maps/upload", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("лог не JSON: %v", err)
	}
	if entry["level"] != "WARN" || entry["status"] != float64(http.StatusConflict) {
		t.Errorf("запись лога: %v", entry)
	}
	if entry["bytes"] != float64(len("дубликат")) {
		t.Errorf("bytes = %v", entry["bytes"])
	}
	if entry["error_kind"] != "DuplicateContent" {
		t.Errorf("error_kind = %v", entry["error_kind"])
	}
}

// TestRequestLogger_UploaderID проверяет, что sub из токена попадает
// в запись о запросе, хотя JWT проверяется внутри RequestLogger.
func TestRequestLogger_UploaderID(t *testing.T) {
	key := generateTestKey(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	auth := newTestJWTAuth(t, key, 0)
	handler := RequestLogger(logger)(auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/maps/upload", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, key, jwt.SigningMethodRS256, validClaims("mapper-7")))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("лог не JSON: %v", err)
	}
	if entry["uploader_id"] != "mapper-7" {
		t.Errorf("uploader_id = %v, запись: %v", entry["uploader_id"], entry)
	}
}

func TestAddLogAttrs_OutsideLogger(t *testing.T) {
	// Без RequestLogger вызов безопасен
	AddLogAttrs(context.Background(), slog.String("k", "v"))
}

func TestNormalizePath(t *testing.T) {
	if got := normalizePath("/api/v1/maps/upload"); got != "/api/v1/maps/upload" {
		t.Errorf("известный путь изменён: %s", got)
	}
	if got := normalizePath("/wp-admin/login.php"); got != "other" {
		t.Errorf("неизвестный путь: %s", got)
	}
}
