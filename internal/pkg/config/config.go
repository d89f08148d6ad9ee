// Package config loads service configuration from STOREFRONT_* environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/jcmexdev/storefront-payments/internal/order-service/domain"
)

const EnvPrefix = "STOREFRONT"

type Config struct {
	HTTP      HTTP      `mapstructure:"http"`
	Store     Store     `mapstructure:"store"`
	Audit     Audit     `mapstructure:"audit"`
	Redis     Redis     `mapstructure:"redis"`
	Payments  Payments  `mapstructure:"payments"`
	Razorpay  Razorpay  `mapstructure:"razorpay"`
	PhonePe   PhonePe   `mapstructure:"phonepe"`
	Pricing   Pricing   `mapstructure:"pricing"`
	SMTP      SMTP      `mapstructure:"smtp"`
	Admin     Admin     `mapstructure:"admin"`
	Telemetry Telemetry `mapstructure:"telemetry"`
}

type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Store struct {
	// Driver is one of sqlite, bolt or memory.
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type Audit struct {
	Path string `mapstructure:"path"`
}

type Redis struct {
	Addr      string        `mapstructure:"addr"`
	ReplayTTL time.Duration `mapstructure:"replay_ttl"`
}

type Payments struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	Currency        string        `mapstructure:"currency"`
	GatewayTimeout  time.Duration `mapstructure:"gateway_timeout"`
	StatusAttempts  int           `mapstructure:"status_attempts"`
	ValidityWindow  time.Duration `mapstructure:"validity_window"`
	RetentionWindow time.Duration `mapstructure:"retention_window"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	// RedirectURL is the API endpoint hosted pay pages return the browser to;
	// ResultURL is the storefront page the API then sends the browser on to.
	RedirectURL string `mapstructure:"redirect_url"`
	ResultURL   string `mapstructure:"result_url"`
}

type Razorpay struct {
	KeyID         string `mapstructure:"key_id"`
	KeySecret     string `mapstructure:"key_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

func (r Razorpay) Enabled() bool { return r.KeyID != "" }

type PhonePe struct {
	BaseURL     string `mapstructure:"base_url"`
	MerchantID  string `mapstructure:"merchant_id"`
	SaltKey     string `mapstructure:"salt_key"`
	SaltIndex   int    `mapstructure:"salt_index"`
	CallbackURL string `mapstructure:"callback_url"`
}

func (p PhonePe) Enabled() bool { return p.MerchantID != "" }

type Pricing struct {
	Shipping map[string]string `mapstructure:"shipping"`
	Coupons  []Coupon          `mapstructure:"coupons"`
}

type Coupon struct {
	Code        string `mapstructure:"code"`
	Percent     string `mapstructure:"percent"`
	Flat        string `mapstructure:"flat"`
	MinSubtotal string `mapstructure:"min_subtotal"`
}

type SMTP struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Admin struct {
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"password_hash"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

func (a Admin) Enabled() bool { return a.Username != "" }

type Telemetry struct {
	LogLevel     string `mapstructure:"log_level"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Environment  string `mapstructure:"environment"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.request_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "./data/orders.db")
	v.SetDefault("audit.path", "./data/audit.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.replay_ttl", 24*time.Hour)

	v.SetDefault("payments.default_provider", string(domain.ProviderRazorpay))
	v.SetDefault("payments.currency", "INR")
	v.SetDefault("payments.gateway_timeout", 30*time.Second)
	v.SetDefault("payments.status_attempts", 3)
	v.SetDefault("payments.validity_window", 30*time.Minute)
	v.SetDefault("payments.retention_window", 24*time.Hour)
	v.SetDefault("payments.sweep_interval", time.Minute)
	v.SetDefault("payments.redirect_url", "")
	v.SetDefault("payments.result_url", "")

	v.SetDefault("razorpay.key_id", "")
	v.SetDefault("razorpay.key_secret", "")
	v.SetDefault("razorpay.webhook_secret", "")

	v.SetDefault("phonepe.base_url", "https://api-preprod.phonepe.com/apis/pg-sandbox")
	v.SetDefault("phonepe.merchant_id", "")
	v.SetDefault("phonepe.salt_key", "")
	v.SetDefault("phonepe.salt_index", 1)
	v.SetDefault("phonepe.callback_url", "")

	v.SetDefault("pricing.shipping", map[string]string{"standard": "80", "express": "150"})

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "orders@localhost")
	v.SetDefault("smtp.timeout", 20*time.Second)

	v.SetDefault("admin.username", "")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.token_ttl", 12*time.Hour)

	v.SetDefault("telemetry.log_level", "info")
	v.SetDefault("telemetry.service_name", "storefront-payments")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.environment", "local")
}

// Load reads defaults, then the YAML file at path (if any), then the
// environment. STOREFRONT_RAZORPAY_KEY_ID sets razorpay.key_id, and so on.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "sqlite", "bolt":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, bolt, memory", c.Store.Driver))
	}

	if c.Razorpay.Enabled() && (c.Razorpay.KeySecret == "" || c.Razorpay.WebhookSecret == "") {
		errs = append(errs, errors.New("razorpay.key_secret and razorpay.webhook_secret are required when razorpay.key_id is set"))
	}
	if c.PhonePe.Enabled() {
		if c.PhonePe.SaltKey == "" || c.PhonePe.SaltIndex < 1 || c.PhonePe.BaseURL == "" {
			errs = append(errs, errors.New("phonepe.salt_key, phonepe.salt_index and phonepe.base_url are required when phonepe.merchant_id is set"))
		}
		if c.Payments.RedirectURL == "" {
			errs = append(errs, errors.New("payments.redirect_url is required for phonepe"))
		}
	}
	switch domain.Provider(c.Payments.DefaultProvider) {
	case domain.ProviderRazorpay:
		if !c.Razorpay.Enabled() && c.PhonePe.Enabled() {
			errs = append(errs, errors.New("payments.default_provider is razorpay but only phonepe is configured"))
		}
	case domain.ProviderPhonePe:
		if !c.PhonePe.Enabled() {
			errs = append(errs, errors.New("payments.default_provider is phonepe but phonepe is not configured"))
		}
	default:
		errs = append(errs, fmt.Errorf("payments.default_provider %q is not razorpay or phonepe", c.Payments.DefaultProvider))
	}

	if c.Payments.ValidityWindow <= 0 || c.Payments.RetentionWindow <= 0 {
		errs = append(errs, errors.New("payments.validity_window and payments.retention_window must be positive"))
	}
	if c.Payments.RetentionWindow < c.Payments.ValidityWindow {
		errs = append(errs, errors.New("payments.retention_window must not be shorter than payments.validity_window"))
	}

	if c.Admin.Enabled() && (c.Admin.PasswordHash == "" || len(c.Admin.JWTSecret) < 32) {
		errs = append(errs, errors.New("admin.password_hash and a jwt_secret of at least 32 bytes are required when admin.username is set"))
	}

	if _, err := c.PricingRules(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// PricingRules converts the configured shipping and coupon tables.
func (c *Config) PricingRules() (domain.PricingRules, error) {
	rules := domain.PricingRules{
		Shipping: make(map[string]decimal.Decimal, len(c.Pricing.Shipping)),
		Coupons:  make(map[string]domain.Coupon, len(c.Pricing.Coupons)),
	}
	for method, cost := range c.Pricing.Shipping {
		d, err := decimal.NewFromString(cost)
		if err != nil || d.IsNegative() {
			return rules, fmt.Errorf("pricing.shipping.%s: invalid amount %q", method, cost)
		}
		rules.Shipping[strings.ToLower(method)] = d
	}
	if len(rules.Shipping) == 0 {
		return rules, errors.New("pricing.shipping must define at least one method")
	}

	for _, cc := range c.Pricing.Coupons {
		if cc.Code == "" {
			return rules, errors.New("pricing.coupons: code is required")
		}
		coupon := domain.Coupon{Code: strings.ToUpper(cc.Code)}
		for _, f := range []struct {
			raw string
			dst *decimal.Decimal
		}{{cc.Percent, &coupon.Percent}, {cc.Flat, &coupon.Flat}, {cc.MinSubtotal, &coupon.MinSubtotal}} {
			if f.raw == "" {
				continue
			}
			d, err := decimal.NewFromString(f.raw)
			if err != nil || d.IsNegative() {
				return rules, fmt.Errorf("pricing.coupons.%s: invalid amount %q", cc.Code, f.raw)
			}
			*f.dst = d
		}
		if coupon.Percent.GreaterThan(decimal.NewFromInt(100)) {
			return rules, fmt.Errorf("pricing.coupons.%s: percent above 100", cc.Code)
		}
		rules.Coupons[coupon.Code] = coupon
	}
	return rules, nil
}
