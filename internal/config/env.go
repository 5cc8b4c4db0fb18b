package config

import (
	"strconv"
	"strings"
	"time"
)

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	if addr := get("SERVER_ADDR"); addr != "" {
		c.Addr = addr
	}

	if origins := get("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := get("MAX_MESSAGE_SIZE"); maxSize != "" {
		c.MaxMessageSize = parseMaxMessageSize(maxSize, c.MaxMessageSize)
	}

	if burst := get("RATE_LIMIT_BURST"); burst != "" {
		c.RateLimit.Burst = parseIntValue(burst, c.RateLimit.Burst)
	}

	if interval := get("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		c.RateLimit.RefillInterval = parseRefillInterval(interval, c.RateLimit.RefillInterval)
	}

	if secret := get("SESSION_SECRET"); secret != "" {
		c.Session.Secret = secret
	}

	if ttl := get("SESSION_TTL"); ttl != "" {
		c.Session.TTL = parseDuration(ttl, c.Session.TTL)
	}

	if secure := get("SESSION_COOKIE_SECURE"); secure != "" {
		c.Session.CookieSecure = parseBool(secure, c.Session.CookieSecure)
	}

	if driver := get("STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}

	if path := get("STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}

	if dsn := get("DATABASE_DSN"); dsn != "" {
		c.Storage.DSN = dsn
	}

	if seed := get("STORAGE_SEED_FILE"); seed != "" {
		c.Storage.SeedFile = seed
	}

	if v := get("S3_BUCKET"); v != "" {
		c.Storage.S3.Bucket = v
	}
	if v := get("S3_KEY"); v != "" {
		c.Storage.S3.Key = v
	}
	if v := get("S3_REGION"); v != "" {
		c.Storage.S3.Region = v
	}
	if v := get("S3_ENDPOINT"); v != "" {
		c.Storage.S3.Endpoint = v
	}
	if v := get("S3_ACCESS_KEY"); v != "" {
		c.Storage.S3.AccessKey = v
	}
	if v := get("S3_SECRET_KEY"); v != "" {
		c.Storage.S3.SecretKey = v
	}

	if limit := get("CHATBOT_QUESTION_LIMIT"); limit != "" {
		c.Chatbot.QuestionLimit = parseIntValue(limit, c.Chatbot.QuestionLimit)
	}

	if level := get("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	if format := get("LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts whole seconds ("2") or a Go duration ("500ms").
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return parseDuration(value, defaultValue)
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}
