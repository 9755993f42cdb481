package sources

import (
	"strconv"
	"strings"
	"time"

	"github.com/StrathCole/cardprice/pkg/logging"
)

// GetLoggerFromConfig extracts logger from config map or falls back to the
// global logger. Sources should use this to get the logger passed from main.go.
func GetLoggerFromConfig(config map[string]interface{}) *logging.Logger {
	if loggerInterface, ok := config["logger"]; ok {
		if logger, ok := loggerInterface.(*logging.Logger); ok && logger != nil {
			return logger
		}
	}
	return logging.Global()
}

// GetString reads a string value, falling back to def when missing or blank.
func GetString(config map[string]interface{}, key, def string) string {
	if v, ok := config[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// GetStringSlice reads a list of strings. A comma separated string is accepted too.
func GetStringSlice(config map[string]interface{}, key string) []string {
	var out []string
	switch v := config[key].(type) {
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// GetInt reads an integer value. YAML may decode numbers as int or float64.
func GetInt(config map[string]interface{}, key string, def int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// GetFloat reads a float value.
func GetFloat(config map[string]interface{}, key string, def float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// GetDuration reads a duration given either as a Go duration string ("4s")
// or as an integer number of milliseconds.
func GetDuration(config map[string]interface{}, key string, def time.Duration) time.Duration {
	switch v := config[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
