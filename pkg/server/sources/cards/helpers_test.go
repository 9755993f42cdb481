package cards

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/retry"
)

// testConfig points a source at srv with a fast two-attempt retry policy.
func testConfig(srv *httptest.Server, extra map[string]interface{}) map[string]interface{} {
	cfg := map[string]interface{}{
		"logger":   logging.NewNoopLogger(),
		"base_url": srv.URL,
		"timeout":  "2s",
		"retry":    retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
	for k, v := range extra {
		cfg[k] = v
	}
	return cfg
}

func jsonHandler(t *testing.T, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}
