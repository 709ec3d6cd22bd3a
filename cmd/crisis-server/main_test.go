package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/crisis/internal/config"
	"github.com/ehr/crisis/internal/domain/crisis"
	"github.com/ehr/crisis/internal/platform/auth"
	"github.com/ehr/crisis/internal/platform/middleware"
)

func testConfig(env string) *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              env,
		CORSOrigins:      []string{"http://localhost:3000"},
		MaxInputLength:   crisis.DefaultMaxInputLength,
		AuditTimeout:     time.Second,
		AuditMaxInFlight: 8,
		RateLimitRPS:     1000,
		RateLimitBurst:   1000,
		BodyLimit:        "64K",
	}
}

func testEngine(t *testing.T) *crisis.Engine {
	t.Helper()
	reg, err := crisis.DefaultRegistry()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	engine, err := crisis.NewEngine(reg)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return engine
}

func serve(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthAndMetrics(t *testing.T) {
	engine := testEngine(t)
	e := newServer(testConfig("development"), zerolog.Nop(), engine, nil)

	rec := serve(e, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "ok" || health["registry_version"] != engine.Registry().Version() {
		t.Errorf("unexpected health body %v", health)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	if rec := serve(e, http.MethodGet, "/metrics", "", ""); rec.Code != http.StatusOK {
		t.Errorf("expected /metrics to be public, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/health/db", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected /health/db to be absent without a database, got %d", rec.Code)
	}
}

func TestServer_AnalyzeInDevelopment(t *testing.T) {
	e := newServer(testConfig("development"), zerolog.Nop(), testEngine(t), nil)

	rec := serve(e, http.MethodPost, "/api/v1/crisis/analyze", `{"text":"I want to kill myself"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"severity":"CRITICAL"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestServer_BodyLimit(t *testing.T) {
	cfg := testConfig("development")
	cfg.BodyLimit = "1K"
	e := newServer(cfg, zerolog.Nop(), testEngine(t), nil)

	body := `{"text":"` + strings.Repeat("a", 2048) + `"}`
	if rec := serve(e, http.MethodPost, "/api/v1/crisis/analyze", body, ""); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestServer_DefaultBodyLimitFitsMaxInput(t *testing.T) {
	cfg := testConfig("development")
	cfg.BodyLimit = strconv.Itoa(config.BodyLimitFor(cfg.MaxInputLength))
	e := newServer(cfg, zerolog.Nop(), testEngine(t), nil)

	// Each escaped surrogate pair is 12 bytes on the wire but one rune.
	body := `{"text":"` + strings.Repeat(`\ud83d\ude00`, cfg.MaxInputLength) + `"}`
	if rec := serve(e, http.MethodPost, "/api/v1/crisis/analyze", body, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected a maximum-length input to be analyzed, got %d: %.200s", rec.Code, rec.Body.String())
	}
}

func signToken(t *testing.T, key []byte, subject string, roles ...string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestServer_StandaloneAuth(t *testing.T) {
	cfg := testConfig("production")
	cfg.AuthSigningKey = "test-signing-key"
	e := newServer(cfg, zerolog.Nop(), testEngine(t), nil)
	key := []byte(cfg.AuthSigningKey)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong key", signToken(t, []byte("other"), "u-1", "nurse"), http.StatusUnauthorized},
		{"nurse", signToken(t, key, "u-1", "nurse"), http.StatusOK},
		{"billing", signToken(t, key, "u-2", "billing"), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, http.MethodPost, "/api/v1/crisis/analyze", `{"text":"hello"}`, tt.token)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	if rec := serve(e, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("expected health to skip auth, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/health", "", ""); rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS in production")
	}
}

func TestAlertSinks_LogOnly(t *testing.T) {
	sinks, pool, cleanup, err := alertSinks(t.Context(), testConfig("development"), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup()
	if pool != nil {
		t.Error("expected no pool without DATABASE_URL")
	}
	if len(sinks) != 1 || sinks[0].Name() != "log" {
		t.Errorf("expected only the log sink, got %d sinks", len(sinks))
	}
}

func TestAlertSinks_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{"bad database url", func(c *config.Config) { c.DatabaseURL = "postgres://localhost:badport/crisis" }, "connect to database"},
		{"bad webhook url", func(c *config.Config) { c.AuditWebhookURL = "ftp://hooks.example.com" }, "audit webhook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("development")
			tt.mutate(cfg)
			_, _, cleanup, err := alertSinks(t.Context(), cfg, zerolog.Nop())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if cleanup != nil {
				t.Error("expected no cleanup on error")
			}
		})
	}
}

func TestAlertSinks_Webhook(t *testing.T) {
	cfg := testConfig("development")
	cfg.AuditWebhookURL = "https://hooks.example.com/crisis"
	cfg.AuditWebhookSecret = "s3cret"
	sinks, _, cleanup, err := alertSinks(t.Context(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup()
	if len(sinks) != 2 || sinks[1].Name() != "webhook" {
		t.Errorf("expected log and webhook sinks, got %d", len(sinks))
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyzeCommand_Args(t *testing.T) {
	out, err := execute(t, "", "analyze", "I", "want", "to", "kill", "myself")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res crisis.DetectionResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if !res.Detected || res.Severity != crisis.SeverityCritical {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestAnalyzeCommand_StdinWithRiskFactors(t *testing.T) {
	out, err := execute(t, "I feel hopeless\n", "analyze", "--risk-factor", "previous_attempt", "--risk-factor", "recent_loss")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Patient risk factors present: previous_attempt, recent_loss") {
		t.Errorf("expected the risk factor note, got %s", out)
	}
}

func TestAnalyzeCommand_Errors(t *testing.T) {
	if _, err := execute(t, "", "analyze", "--support-system", "excellent", "hello"); err == nil {
		t.Error("expected an unknown support system to fail")
	}
	if _, err := execute(t, "", "analyze", "--max-input", "3", "hello"); err == nil {
		t.Error("expected oversized input to fail")
	}
}

func TestPatientContext(t *testing.T) {
	pc, err := patientContext(nil, "", false)
	if err != nil || pc != nil {
		t.Fatalf("expected no context, got %+v, %v", pc, err)
	}
	pc, err = patientContext(nil, "Weak", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.SupportSystem != crisis.SupportWeak || !pc.PreviousCrises {
		t.Errorf("unexpected context %+v", pc)
	}
}

func TestRegistryCommand_Validate(t *testing.T) {
	out, err := execute(t, "", "registry", "validate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("unexpected output %s", out)
	}

	bad := filepath.Join(t.TempDir(), "keywords.yaml")
	if err := os.WriteFile(bad, []byte("version: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "", "registry", "validate", "--file", bad); err == nil {
		t.Error("expected a malformed registry to fail validation")
	}
	if _, err := execute(t, "", "registry", "validate", "--file", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected a missing registry file to fail validation")
	}
}

func TestRegistryCommand_List(t *testing.T) {
	out, err := execute(t, "", "registry", "list", "--category", "psychosis")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected a header and 4 psychosis entries, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("expected a header row, got %q", lines[0])
	}

	upper, err := execute(t, "", "registry", "list", "--category", "PSYCHOSIS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upper != out {
		t.Errorf("expected the category flag to be case insensitive, got:\n%s", upper)
	}
	for _, line := range lines[1:] {
		if !strings.Contains(line, "PSYCHOSIS") {
			t.Errorf("expected only psychosis entries, got %q", line)
		}
	}

	if _, err := execute(t, "", "registry", "list", "--category", "anxiety"); err == nil {
		t.Error("expected an unknown category to fail")
	}
}

func TestMigrateCommand_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := execute(t, "", "migrate", "status")
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected a DATABASE_URL error, got %v", err)
	}
}
