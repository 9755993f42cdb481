package cards

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/cardprice/pkg/server/sources"
)

func TestTCGDBQueries(t *testing.T) {
	qs := tcgdbQueries(sources.Query{Name: "Pikachu", SetName: "Base Set", CardNumber: "58/102"})
	require.Len(t, qs, 3)
	assert.Equal(t, "Base Set", qs[0].Get("set"))
	assert.Equal(t, "58", qs[0].Get("number"))
	assert.Equal(t, "", qs[1].Get("set"))
	assert.Equal(t, "58", qs[1].Get("number"))
	assert.Equal(t, "", qs[2].Get("number"))

	// Without set and number the looser queries collapse into one.
	assert.Len(t, tcgdbQueries(sources.Query{Name: "Pikachu"}), 1)
}

func TestTCGDBExtractors(t *testing.T) {
	record := gjson.Parse(`{"variants":[
		{"condition":"Lightly Played","printing":"Normal","price":4},
		{"condition":"Near Mint","printing":"Holofoil","price":9,"low_price":7},
		{"condition":"Near Mint","printing":"Reverse Holofoil","price":12}
	]}`)

	price, ok := sources.FirstPrice(record, tcgdbExtractors("", false, "price")...)
	require.True(t, ok)
	assert.Equal(t, "9", price.String())

	price, ok = sources.FirstPrice(record, tcgdbExtractors("Reverse Holofoil", false, "price")...)
	require.True(t, ok)
	assert.Equal(t, "12", price.String())

	low, ok := sources.FirstPrice(record, tcgdbExtractors("", false, "low_price")...)
	require.True(t, ok)
	assert.Equal(t, "7", low.String())

	_, ok = sources.FirstPrice(record, tcgdbExtractors("", true, "price")...)
	assert.False(t, ok)
}

type tcgdbFake struct {
	mu       sync.Mutex
	requests []string
	handler  func(key string, r *http.Request) (int, string)
}

func (f *tcgdbFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-API-Key")
	f.mu.Lock()
	f.requests = append(f.requests, fmt.Sprintf("%s %s %s", key, r.URL.Path, r.URL.RawQuery))
	f.mu.Unlock()
	code, body := f.handler(key, r)
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func TestTCGDB_StopsAtEnoughCandidates(t *testing.T) {
	fake := &tcgdbFake{handler: func(_ string, r *http.Request) (int, string) {
		if r.URL.Query().Get("set") != "" {
			return http.StatusOK, `{"data":[{"id":"a","name":"Pikachu","set":"Base Set","number":"58",
				"variants":[{"condition":"Near Mint","printing":"Normal","price":2.5,"low_price":1.75}]}]}`
		}
		return http.StatusOK, `{"data":[{"id":"a","name":"Pikachu"},{"id":"b","name":"Pikachu"},{"id":"c","name":"Pikachu"}]}`
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src, err := NewTCGDBSourceFromConfig(testConfig(srv, map[string]interface{}{"api_keys": "k1,k2"}))
	require.NoError(t, err)

	quote, err := src.Lookup(context.Background(), sources.Query{Name: "Pikachu", SetName: "Base Set", CardNumber: "58"})
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.Equal(t, "2.5", quote.Price.String())
	assert.Equal(t, "1.75", quote.LowPrice.Decimal.String())

	// name+set+number yields 1, name+number brings it to 3; name-only is never sent.
	require.Len(t, fake.requests, 2)
	for _, r := range fake.requests {
		assert.Contains(t, r, "k1 /cards")
	}
}

func TestTCGDB_SealedEndpoint(t *testing.T) {
	fake := &tcgdbFake{handler: func(string, *http.Request) (int, string) {
		return http.StatusOK, `{"data":[{"id":"s","name":"Evolving Skies Booster Box",
			"variants":[{"condition":"Sealed","printing":"Normal","price":650}]}]}`
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src, _ := NewTCGDBSourceFromConfig(testConfig(srv, map[string]interface{}{"api_key": "k"}))
	quote, err := src.Lookup(context.Background(), sources.Query{Name: "Evolving Skies Booster Box"})
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.Equal(t, "650", quote.Price.String())
	assert.Contains(t, fake.requests[0], "/sealed")
}

func TestTCGDB_FallsBackToSecondKey(t *testing.T) {
	fake := &tcgdbFake{handler: func(key string, _ *http.Request) (int, string) {
		if key == "revoked" {
			return http.StatusUnauthorized, `{}`
		}
		return http.StatusOK, `{"data":[{"id":"a","name":"Mew","variants":[{"condition":"Near Mint","printing":"Holofoil","price":30}]}]}`
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src, _ := NewTCGDBSourceFromConfig(testConfig(srv, map[string]interface{}{"api_keys": []string{"revoked", "good"}}))
	quote, err := src.Lookup(context.Background(), sources.Query{Name: "Mew", CardNumber: "151"})
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.Equal(t, "30", quote.Price.String())

	// The revoked key is tried once and then skipped for the remaining queries.
	revoked := 0
	for _, r := range fake.requests {
		if strings.HasPrefix(r, "revoked ") {
			revoked++
		}
	}
	assert.Equal(t, 1, revoked)
}

func TestTCGDB_AllKeysRejected(t *testing.T) {
	fake := &tcgdbFake{handler: func(string, *http.Request) (int, string) {
		return http.StatusForbidden, `{}`
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src, _ := NewTCGDBSourceFromConfig(testConfig(srv, map[string]interface{}{"api_keys": "a,b,c"}))
	_, err := src.Lookup(context.Background(), sources.Query{Name: "Mew"})
	assert.ErrorIs(t, err, sources.ErrProviderAuth)
	// Only two keys are ever used.
	assert.Len(t, fake.requests, 2)
}

func TestTCGDB_NotConfigured(t *testing.T) {
	src, _ := NewTCGDBSourceFromConfig(map[string]interface{}{})
	_, err := src.Lookup(context.Background(), sources.Query{Name: "Mew"})
	assert.ErrorIs(t, err, sources.ErrNotConfigured)
}
