package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the single typed configuration surface for botwarden. Every
// threshold has a documented default; a missing or malformed env var falls
// back rather than failing startup.
type Config struct {
	ServerAddr   string
	TrustProxy   bool
	DNTRespect   bool
	MaxBodyBytes int64    // bytes for /collect payload
	IPHashSecret string   // salt for IP/UA hashing; raw IPs are never stored
	Outputs      []string // enabled notifiers: log, kafka

	// Classification thresholds.
	MinConfidenceThreshold float64
	ChallengeThreshold     float64
	AutoBlockThreshold     float64

	// Response tuning.
	BlockDurationSeconds     int
	ChallengeDurationSeconds int
	TarpitDelayMinSeconds    int
	TarpitDelayMaxSeconds    int
	ChallengeDifficulty      int // leading zero hex digits required of the PoW hash

	// External (cloud) classifier.
	MLEnabled           bool
	MLEndpoint          string
	MLAPIKey            string
	MLConfidenceTrigger float64 // consult the external model below this heuristic confidence
	MLTimeoutSeconds    int

	// Re-classify every N events; always classify past the backstop count
	// or on a session-ending event.
	ClassifyEveryNEvents   int
	ClassifyBackstopEvents int

	PostgresDSN string
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}

func getInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Load reads configuration from the environment, picking up a local .env
// file first if one exists.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		ServerAddr:   getOr("SERVER_ADDR", ":19891"),
		TrustProxy:   getBool("TRUST_PROXY", false),
		DNTRespect:   getBool("DNT_RESPECT", true),
		MaxBodyBytes: getInt64("MAX_BODY_BYTES", 1<<20), // 1 MiB default
		IPHashSecret: getOr("IP_HASH_SECRET", ""),
		Outputs:      getStringSlice("OUTPUTS", "log"),

		MinConfidenceThreshold: getFloat("MIN_CONFIDENCE_THRESHOLD", 0.75),
		ChallengeThreshold:     getFloat("CHALLENGE_THRESHOLD", 0.80),
		AutoBlockThreshold:     getFloat("AUTO_BLOCK_THRESHOLD", 0.95),

		BlockDurationSeconds:     getInt("BLOCK_DURATION_SECONDS", 3600),
		ChallengeDurationSeconds: getInt("CHALLENGE_DURATION_SECONDS", 300),
		TarpitDelayMinSeconds:    getInt("TARPIT_DELAY_MIN_SECONDS", 5),
		TarpitDelayMaxSeconds:    getInt("TARPIT_DELAY_MAX_SECONDS", 15),
		ChallengeDifficulty:      getInt("CHALLENGE_DIFFICULTY", 4),

		MLEnabled:           getBool("ML_ENABLED", false),
		MLEndpoint:          getOr("ML_ENDPOINT", ""),
		MLAPIKey:            getOr("ML_API_KEY", ""),
		MLConfidenceTrigger: getFloat("ML_CONFIDENCE_TRIGGER", 0.85),
		MLTimeoutSeconds:    getInt("ML_TIMEOUT_SECONDS", 5),

		ClassifyEveryNEvents:   getInt("CLASSIFY_EVERY_N_EVENTS", 20),
		ClassifyBackstopEvents: getInt("CLASSIFY_BACKSTOP_EVENTS", 50),

		PostgresDSN: getOr("POSTGRES_DSN", ""),
	}

	return cfg.Normalized()
}

// Normalized clamps out-of-range values back to the documented defaults so a
// bad env file degrades instead of breaking the decision ladder.
func (c Config) Normalized() Config {
	if c.MinConfidenceThreshold <= 0 || c.MinConfidenceThreshold > 1 {
		c.MinConfidenceThreshold = 0.75
	}
	if c.ChallengeThreshold < c.MinConfidenceThreshold || c.ChallengeThreshold > 1 {
		c.ChallengeThreshold = 0.80
		if c.ChallengeThreshold < c.MinConfidenceThreshold {
			c.ChallengeThreshold = c.MinConfidenceThreshold
		}
	}
	if c.AutoBlockThreshold < c.ChallengeThreshold || c.AutoBlockThreshold > 1 {
		c.AutoBlockThreshold = 0.95
		if c.AutoBlockThreshold < c.ChallengeThreshold {
			c.AutoBlockThreshold = c.ChallengeThreshold
		}
	}
	if c.MLConfidenceTrigger <= 0 || c.MLConfidenceTrigger > 1 {
		c.MLConfidenceTrigger = 0.85
	}
	if c.ClassifyEveryNEvents <= 0 {
		c.ClassifyEveryNEvents = 20
	}
	if c.ClassifyBackstopEvents < c.ClassifyEveryNEvents {
		c.ClassifyBackstopEvents = 50
	}
	if c.TarpitDelayMinSeconds <= 0 {
		c.TarpitDelayMinSeconds = 5
	}
	if c.TarpitDelayMaxSeconds < c.TarpitDelayMinSeconds {
		c.TarpitDelayMaxSeconds = 15
	}
	if c.ChallengeDifficulty <= 0 || c.ChallengeDifficulty > 8 {
		c.ChallengeDifficulty = 4
	}
	if c.MLTimeoutSeconds <= 0 {
		c.MLTimeoutSeconds = 5
	}
	return c
}
