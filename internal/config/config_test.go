package config

import (
	"net/netip"
	"strings"
	"testing"
	"time"
)

// clearEnv はテスト対象の環境変数をすべて空にする。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "STATIC_DIR", "LOG_LEVEL", "CORS_ALLOWED_ORIGIN", "RATE_LIMIT_PROVISION",
		"SITE_URL", "RENDER_EXTERNAL_URL", "VERCEL_URL", "PDF_DOWNLOAD_URL",
		"STRIPE_SECRET_KEY", "STRIPE_PRICE_ID", "STRIPE_API_URL", "STRIPE_TIMEOUT",
		"TRACKER_API_URL", "TRACKER_API_SECRET", "TRACKER_LOGIN_URL", "TRACKER_APP_URL", "TRACKER_TIMEOUT",
		"EMAIL_FROM", "RESEND_API_KEY", "SENDGRID_API_KEY", "EMAIL_PROVIDER", "EMAIL_TIMEOUT",
		"API_BASE_URL", "PROXY_TIMEOUT", "TRUSTED_PROXIES", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestParse_NoSecrets_Succeeds(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.CheckoutEnabled() {
		t.Error("CheckoutEnabled() = true, want false without Stripe settings")
	}
	if cfg.TrackerEnabled() {
		t.Error("TrackerEnabled() = true, want false without tracker settings")
	}
}

func TestParse_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("Port = %q, want %q", cfg.Port, "3000")
	}
	if cfg.StaticDir != "." {
		t.Errorf("StaticDir = %q, want %q", cfg.StaticDir, ".")
	}
	if cfg.PDFDownloadURL != "/muscleup.pdf" {
		t.Errorf("PDFDownloadURL = %q, want %q", cfg.PDFDownloadURL, "/muscleup.pdf")
	}
	if cfg.RateLimitProvision != 10 {
		t.Errorf("RateLimitProvision = %d, want %d", cfg.RateLimitProvision, 10)
	}
	for name, d := range map[string]time.Duration{
		"StripeTimeout":  cfg.StripeTimeout,
		"TrackerTimeout": cfg.TrackerTimeout,
		"EmailTimeout":   cfg.EmailTimeout,
		"ProxyTimeout":   cfg.ProxyTimeout,
	} {
		if d != 10*time.Second {
			t.Errorf("%s = %v, want %v", name, d, 10*time.Second)
		}
	}
}

func TestParse_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STRIPE_SECRET_KEY", "  sk_test_123  ")
	t.Setenv("STRIPE_PRICE_ID", "price_123")
	t.Setenv("STRIPE_TIMEOUT", "3s")
	t.Setenv("TRACKER_API_URL", "https://tracker.example.com/api/users")
	t.Setenv("TRACKER_API_SECRET", "secret")
	t.Setenv("EMAIL_PROVIDER", "SendGrid")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want %q", cfg.Port, "9090")
	}
	if cfg.StripeSecretKey != "sk_test_123" {
		t.Errorf("StripeSecretKey = %q, want trimmed value", cfg.StripeSecretKey)
	}
	if cfg.StripeTimeout != 3*time.Second {
		t.Errorf("StripeTimeout = %v, want %v", cfg.StripeTimeout, 3*time.Second)
	}
	if !cfg.CheckoutEnabled() {
		t.Error("CheckoutEnabled() = false, want true")
	}
	if !cfg.TrackerEnabled() {
		t.Error("TrackerEnabled() = false, want true")
	}
	if cfg.EmailProvider != "SendGrid" {
		t.Errorf("EmailProvider = %q, want %q", cfg.EmailProvider, "SendGrid")
	}
}

func TestParse_InvalidURL_ReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRACKER_APP_URL", "tracker.example.com")

	_, err := Parse()
	if err == nil {
		t.Fatal("expected error for relative TRACKER_APP_URL, got nil")
	}
	if !strings.Contains(err.Error(), "TRACKER_APP_URL") {
		t.Errorf("error should name the variable, got %v", err)
	}
}

func TestParse_TrustedProxies(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1,,2001:db8::/32")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.1/32"),
		netip.MustParsePrefix("2001:db8::/32"),
	}
	got := cfg.TrustedProxyPrefixes()
	if len(got) != len(want) {
		t.Fatalf("TrustedProxyPrefixes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TrustedProxyPrefixes()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestParse_TrustedProxiesUnsetTrustsNobody(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := cfg.TrustedProxyPrefixes(); len(got) != 0 {
		t.Errorf("TrustedProxyPrefixes() = %v, want none", got)
	}
}

func TestParse_InvalidTrustedProxies_ReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,load-balancer")

	_, err := Parse()
	if err == nil {
		t.Fatal("expected error for invalid TRUSTED_PROXIES, got nil")
	}
	if !strings.Contains(err.Error(), "TRUSTED_PROXIES") {
		t.Errorf("error should name the variable, got %v", err)
	}
}

func TestParse_InvalidOTLPEndpoint_ReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")

	_, err := Parse()
	if err == nil {
		t.Fatal("expected error for relative OTEL_EXPORTER_OTLP_ENDPOINT, got nil")
	}
	if !strings.Contains(err.Error(), "OTEL_EXPORTER_OTLP_ENDPOINT") {
		t.Errorf("error should name the variable, got %v", err)
	}
}

func TestParse_InvalidDuration_ReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMAIL_TIMEOUT", "soon")

	if _, err := Parse(); err == nil {
		t.Fatal("expected error for invalid EMAIL_TIMEOUT, got nil")
	}
}

func TestParse_NonPositiveRateLimit_ReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_PROVISION", "0")

	if _, err := Parse(); err == nil {
		t.Fatal("expected error for RATE_LIMIT_PROVISION=0, got nil")
	}
}

func TestBaseURL_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"site url wins", Config{SiteURL: "https://gym.example.com/", RenderExternalURL: "https://render.example.com"}, "https://gym.example.com"},
		{"render", Config{RenderExternalURL: "https://app.onrender.com/"}, "https://app.onrender.com"},
		{"vercel", Config{VercelURL: "gym.vercel.app"}, "https://gym.vercel.app"},
		{"localhost", Config{}, "http://localhost:3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.BaseURL(); got != tt.want {
				t.Errorf("BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPublicBaseURL_IgnoresVercelAndLocalhost(t *testing.T) {
	cfg := Config{VercelURL: "gym.vercel.app"}
	if got := cfg.PublicBaseURL(); got != "" {
		t.Errorf("PublicBaseURL() = %q, want empty", got)
	}

	cfg = Config{RenderExternalURL: "https://app.onrender.com/"}
	if got := cfg.PublicBaseURL(); got != "https://app.onrender.com" {
		t.Errorf("PublicBaseURL() = %q, want %q", got, "https://app.onrender.com")
	}
}

func TestTrackerBaseURL_PrefersLoginURL(t *testing.T) {
	cfg := Config{TrackerLoginURL: "https://tracker.example.com/login", TrackerAppURL: "https://app.example.com"}
	if got := cfg.TrackerBaseURL(); got != "https://tracker.example.com/login" {
		t.Errorf("TrackerBaseURL() = %q, want login URL", got)
	}

	cfg = Config{TrackerAppURL: "https://app.example.com"}
	if got := cfg.TrackerBaseURL(); got != "https://app.example.com" {
		t.Errorf("TrackerBaseURL() = %q, want app URL", got)
	}
}
