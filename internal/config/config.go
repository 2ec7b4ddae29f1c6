package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// defaultSiteURL はSITE_URL等がすべて未設定の場合に使うローカル開発用のベースURL。
const defaultSiteURL = "http://localhost:3000"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 秘密情報が未設定でも起動は失敗させず、各機能が自身の前提条件を判定する。
type Config struct {
	// Server
	Port               string `env:"PORT" envDefault:"3000"`
	StaticDir          string `env:"STATIC_DIR" envDefault:"."`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	CORSAllowedOrigin  string `env:"CORS_ALLOWED_ORIGIN"`
	RateLimitProvision int    `env:"RATE_LIMIT_PROVISION" envDefault:"10"`

	// TrustedProxies はX-Forwarded-For等のクライアントIPヘッダーを信頼する接続元（IPまたはCIDR）。
	// 未設定の場合はヘッダーを無視し、TCP接続元のアドレスをクライアントIPとする。
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
	trustedProxies []netip.Prefix

	// Site
	SiteURL           string `env:"SITE_URL"`
	RenderExternalURL string `env:"RENDER_EXTERNAL_URL"`
	VercelURL         string `env:"VERCEL_URL"`
	PDFDownloadURL    string `env:"PDF_DOWNLOAD_URL" envDefault:"/muscleup.pdf"`

	// Stripe
	StripeSecretKey string        `env:"STRIPE_SECRET_KEY"`
	StripePriceID   string        `env:"STRIPE_PRICE_ID"`
	StripeAPIURL    string        `env:"STRIPE_API_URL"`
	StripeTimeout   time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`

	// Progress Tracker
	TrackerAPIURL    string        `env:"TRACKER_API_URL"`
	TrackerAPISecret string        `env:"TRACKER_API_SECRET"`
	TrackerLoginURL  string        `env:"TRACKER_LOGIN_URL"`
	TrackerAppURL    string        `env:"TRACKER_APP_URL"`
	TrackerTimeout   time.Duration `env:"TRACKER_TIMEOUT" envDefault:"10s"`

	// Email
	EmailFrom      string        `env:"EMAIL_FROM"`
	ResendAPIKey   string        `env:"RESEND_API_KEY"`
	SendGridAPIKey string        `env:"SENDGRID_API_KEY"`
	EmailProvider  string        `env:"EMAIL_PROVIDER"`
	EmailTimeout   time.Duration `env:"EMAIL_TIMEOUT" envDefault:"10s"`

	// Proxy
	APIBaseURL   string        `env:"API_BASE_URL"`
	ProxyTimeout time.Duration `env:"PROXY_TIMEOUT" envDefault:"10s"`

	// Tracing（未設定の場合はスパンをエクスポートしない）
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load は.envファイル（存在する場合）と環境変数からConfigを読み込む。
// 既に設定済みの環境変数は.envの値で上書きしない。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse()
}

// Parse は環境変数のみからConfigを読み込み、URL形式の値を検証する。
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.trimSpace()

	// 絶対URLである必要がある設定値
	absolute := map[string]string{
		"STRIPE_API_URL":    cfg.StripeAPIURL,
		"TRACKER_API_URL":   cfg.TrackerAPIURL,
		"TRACKER_LOGIN_URL": cfg.TrackerLoginURL,
		"TRACKER_APP_URL":   cfg.TrackerAppURL,
		"API_BASE_URL":      cfg.APIBaseURL,

		"OTEL_EXPORTER_OTLP_ENDPOINT": cfg.OTLPEndpoint,
	}
	var invalid []string
	for key, v := range absolute {
		if v == "" {
			continue
		}
		if !isAbsoluteHTTPURL(v) {
			invalid = append(invalid, key)
		}
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("environment variables must be absolute http(s) URLs: %v", invalid)
	}

	prefixes, err := parsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES must be IP addresses or CIDR prefixes: %w", err)
	}
	cfg.trustedProxies = prefixes

	if cfg.RateLimitProvision <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PROVISION must be positive, got %d", cfg.RateLimitProvision)
	}

	return cfg, nil
}

// BaseURL はチェックアウトのリダイレクト先に使うサイトのベースURLを返す。
// SITE_URL → RENDER_EXTERNAL_URL → https://VERCEL_URL → localhost の順に解決し、末尾の/は除去する。
func (c *Config) BaseURL() string {
	switch {
	case c.SiteURL != "":
		return strings.TrimRight(c.SiteURL, "/")
	case c.RenderExternalURL != "":
		return strings.TrimRight(c.RenderExternalURL, "/")
	case c.VercelURL != "":
		return "https://" + strings.TrimRight(c.VercelURL, "/")
	default:
		return defaultSiteURL
	}
}

// PublicBaseURL は明示的に設定された公開URL（SITE_URLまたはRENDER_EXTERNAL_URL）を返す。
// どちらも未設定の場合は空文字列を返す。ログインリンクのフォールバックに使用する。
func (c *Config) PublicBaseURL() string {
	if c.SiteURL != "" {
		return strings.TrimRight(c.SiteURL, "/")
	}
	return strings.TrimRight(c.RenderExternalURL, "/")
}

// TrackerBaseURL はProgress TrackerアプリのURL（TRACKER_LOGIN_URL優先）を返す。
func (c *Config) TrackerBaseURL() string {
	if c.TrackerLoginURL != "" {
		return c.TrackerLoginURL
	}
	return c.TrackerAppURL
}

// CheckoutEnabled はチェックアウト作成に必要な設定が揃っているかを返す。
func (c *Config) CheckoutEnabled() bool {
	return c.StripeSecretKey != "" && c.StripePriceID != ""
}

// TrackerEnabled はアカウント作成APIの呼び出しに必要な設定が揃っているかを返す。
func (c *Config) TrackerEnabled() bool {
	return c.TrackerAPIURL != "" && c.TrackerAPISecret != ""
}

// TrustedProxyPrefixes はTRUSTED_PROXIESを解析したプレフィックスを返す。
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	return c.trustedProxies
}

// parsePrefixes はIPアドレス（単一ホスト）またはCIDRの一覧を解析する。空の要素は無視する。
func parsePrefixes(values []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}

func (c *Config) trimSpace() {
	for _, p := range []*string{
		&c.Port, &c.StaticDir, &c.LogLevel, &c.CORSAllowedOrigin,
		&c.SiteURL, &c.RenderExternalURL, &c.VercelURL, &c.PDFDownloadURL,
		&c.StripeSecretKey, &c.StripePriceID, &c.StripeAPIURL,
		&c.TrackerAPIURL, &c.TrackerAPISecret, &c.TrackerLoginURL, &c.TrackerAppURL,
		&c.EmailFrom, &c.ResendAPIKey, &c.SendGridAPIKey, &c.EmailProvider,
		&c.APIBaseURL, &c.OTLPEndpoint,
	} {
		*p = strings.TrimSpace(*p)
	}
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
