package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"storefront/internal/entity"
	"storefront/internal/pricing"
)

type Config struct {
	Port string

	// DBShards are MySQL DSNs; the first one also holds users.
	DBShards []string

	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	JWTSecret string

	RazorpayKeyID     string
	RazorpayKeySecret string
	RazorpayAPIURL    string
	Currency          string
	GatewayTimeout    time.Duration

	FinalizeIdempotent        bool
	StrictDeliveryTransitions bool
	GuardOrderDelete          bool
	RequirePaymentSignature   bool

	Rates pricing.Rates

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8082"),
		DBShards:          dbShards(),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:      getKafkaBrokerURLs(),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "order-topic"),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "order-reconciler-group"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		RazorpayKeyID:     os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret: os.Getenv("RAZORPAY_KEY_SECRET"),
		RazorpayAPIURL:    os.Getenv("RAZORPAY_API_URL"),
		Currency:          strings.ToUpper(getEnv("CURRENCY", "INR")),
	}

	var err error
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.FinalizeIdempotent, err = getBool("FINALIZE_IDEMPOTENT", true); err != nil {
		return nil, err
	}
	if cfg.StrictDeliveryTransitions, err = getBool("STRICT_DELIVERY_TRANSITIONS", false); err != nil {
		return nil, err
	}
	if cfg.GuardOrderDelete, err = getBool("GUARD_ORDER_DELETE", false); err != nil {
		return nil, err
	}
	if cfg.RequirePaymentSignature, err = getBool("REQUIRE_PAYMENT_SIGNATURE", false); err != nil {
		return nil, err
	}
	if cfg.Rates, err = rates(); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = getFloat("RATE_LIMIT_RPS", 1); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getInt("RATE_LIMIT_BURST", 3); err != nil {
		return nil, err
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.RazorpayKeyID == "" {
		missing = append(missing, "RAZORPAY_KEY_ID")
	}
	if c.RazorpayKeySecret == "" {
		missing = append(missing, "RAZORPAY_KEY_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if !entity.ValidCurrency(c.Currency) {
		return fmt.Errorf("CURRENCY must be a three-letter code, got %q", c.Currency)
	}
	return nil
}

func dbShards() []string {
	if shards := os.Getenv("DB_SHARDS"); shards != "" {
		var dsns []string
		for _, dsn := range strings.Split(shards, ",") {
			if dsn = strings.TrimSpace(dsn); dsn != "" {
				dsns = append(dsns, dsn)
			}
		}
		return dsns
	}
	return []string{DSN(
		getEnv("DB_HOST", "127.0.0.1"),
		getEnv("DB_PORT", "3306"),
		getEnv("DB_USER", "root"),
		os.Getenv("DB_PASS"),
		getEnv("DB_NAME", "storefront"),
	)}
}

// DSN builds a go-sql-driver/mysql DSN that scans DATETIME into time.Time.
func DSN(host, port, user, pass, dbname string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC", user, pass, host, port, dbname)
}

func rates() (pricing.Rates, error) {
	r := pricing.DefaultRates()
	money := []struct {
		key string
		dst *entity.Money
	}{
		{"RATE_DEFAULT_CHARGE", &r.DefaultCharge},
		{"RATE_DOMESTIC_CHARGE", &r.DomesticCharge},
		{"RATE_INTERNATIONAL_BASE", &r.InternationalBase},
		{"RATE_INTERNATIONAL_STEP", &r.InternationalStep},
	}
	for _, m := range money {
		v, err := getInt(m.key, int(*m.dst))
		if err != nil {
			return r, err
		}
		*m.dst = entity.Money(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"RATE_FREE_SHIPPING_MIN_ITEMS", &r.FreeShippingMinItems},
		{"RATE_BASE_WEIGHT_GRAMS", &r.BaseWeightGrams},
		{"RATE_STEP_WEIGHT_GRAMS", &r.StepWeightGrams},
	}
	for _, i := range ints {
		v, err := getInt(i.key, *i.dst)
		if err != nil {
			return r, err
		}
		*i.dst = v
	}
	if r.StepWeightGrams <= 0 {
		return r, fmt.Errorf("RATE_STEP_WEIGHT_GRAMS must be positive")
	}
	return r, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
