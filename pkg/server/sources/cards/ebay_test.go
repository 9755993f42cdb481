package cards

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/StrathCole/cardprice/pkg/server/sources"
)

type staticTokens struct {
	calls atomic.Int32
}

func (s *staticTokens) Token(context.Context) (string, error) {
	s.calls.Add(1)
	return "test-token", nil
}

const listingsPayload = `{"itemSummaries":[
	{"title":"Charizard Base Set 4/102 Holo","price":{"value":"300.00","currency":"USD"}},
	{"title":"Charizard Base Set 4/102","price":{"value":"320.00","currency":"USD"}},
	{"title":"Charizard Base Set 4/102 PSA 9","price":{"value":"2000.00","currency":"USD"}},
	{"title":"Pokemon lot of 50 incl. Charizard","price":{"value":"40.00","currency":"USD"}},
	{"title":"Charizard Base Set 4 proxy","price":{"value":"5.00","currency":"USD"}},
	{"title":"Charizard Base Set 4 holo rare","price":{"value":"9000.00","currency":"USD"}}
]}`

func TestEbay_LookupMedianAndMin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/buy/browse/v1/item_summary/search", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "EBAY_US", r.Header.Get("X-EBAY-C-MARKETPLACE-ID"))
		assert.Equal(t, ebayCategorySingles, r.URL.Query().Get("category_ids"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(listingsPayload))
	}))
	defer srv.Close()

	tokens := &staticTokens{}
	src, err := NewEbaySourceFromConfig(testConfig(srv, map[string]interface{}{"token_cache": tokens}))
	require.NoError(t, err)
	require.True(t, src.Configured())

	quote, err := src.Lookup(context.Background(), sources.Query{Name: "Charizard", SetName: "Base Set", CardNumber: "4"})
	require.NoError(t, err)
	require.NotNil(t, quote)
	// 300, 320, 9000 survive the filters; the outlier does not move the median.
	assert.Equal(t, "320", quote.Price.String())
	assert.Equal(t, "300", quote.LowPrice.Decimal.String())
	assert.Equal(t, int32(1), tokens.calls.Load())
}

func TestEbay_GradedQueryUsesSlabListing(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, listingsPayload))
	defer srv.Close()

	src, _ := NewEbaySourceFromConfig(testConfig(srv, map[string]interface{}{"token_cache": &staticTokens{}}))
	quote, err := src.Lookup(context.Background(), sources.Query{Name: "Charizard", GradingCompany: "PSA", Grade: "9"})
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.Equal(t, "2000", quote.Price.String())
}

func TestEbay_GradedQueryKeepsOnlyThatGrade(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, `{"itemSummaries":[
		{"title":"Charizard Base Set 4/102 PSA 10 GEM MINT","price":{"value":"20000.00","currency":"USD"}},
		{"title":"Charizard Base Set PSA10 Holo","price":{"value":"21000.00","currency":"USD"}},
		{"title":"Charizard Base Set 4/102 PSA 9","price":{"value":"3000.00","currency":"USD"}},
		{"title":"Charizard Base Set 4/102 PSA 8 NM-MT","price":{"value":"1500.00","currency":"USD"}},
		{"title":"Charizard Base Set BGS 10 Pristine","price":{"value":"90000.00","currency":"USD"}},
		{"title":"Charizard Base Set 4/102 Holo","price":{"value":"350.00","currency":"USD"}}
	]}`))
	defer srv.Close()

	src, _ := NewEbaySourceFromConfig(testConfig(srv, map[string]interface{}{"token_cache": &staticTokens{}}))
	quote, err := src.Lookup(context.Background(), sources.Query{Name: "Charizard", SetName: "Base Set", GradingCompany: "PSA", Grade: "10"})
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.Equal(t, "20500", quote.Price.String())
	assert.Equal(t, "20000", quote.LowPrice.Decimal.String())
	assert.Equal(t, "2 listings", quote.Matched)
}

func TestHasSlabGrade(t *testing.T) {
	cases := []struct {
		company, grade, title string
		want                  bool
	}{
		{"PSA", "10", "Charizard PSA 10 Gem Mint", true},
		{"PSA", "10", "Charizard PSA GEM MT 10", true},
		{"PSA", "10", "charizard psa10", true},
		{"PSA", "10", "Charizard PSA 9", false},
		{"PSA", "10", "Charizard BGS 10", false},
		{"PSA", "9", "Charizard PSA 9.5", false},
		{"BGS", "9.5", "Charizard BGS 9.5 Gem Mint", true},
		{"BGS", "9.5", "Charizard Beckett 9.5", true},
		{"BGS", "9.5", "Charizard BGS 9", false},
		{"CGC", "10.0", "Charizard CGC 10", true},
	}
	for _, c := range cases {
		got := hasSlabGrade(slabGradeRe(c.company), c.title, c.grade)
		assert.Equal(t, c.want, got, "%s %s in %q", c.company, c.grade, c.title)
	}
}

func TestEbay_SealedCategory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ebayCategorySealed, r.URL.Query().Get("category_ids"))
		_, _ = w.Write([]byte(`{"itemSummaries":[]}`))
	}))
	defer srv.Close()

	src, _ := NewEbaySourceFromConfig(testConfig(srv, map[string]interface{}{"token_cache": &staticTokens{}}))
	quote, err := src.Lookup(context.Background(), sources.Query{Name: "Crown Zenith Elite Trainer Box"})
	require.NoError(t, err)
	assert.Nil(t, quote)
}

func TestEbay_NotConfigured(t *testing.T) {
	src, _ := NewEbaySourceFromConfig(map[string]interface{}{"client_id": "id"})
	assert.False(t, src.Configured())
	_, err := src.Lookup(context.Background(), sources.Query{Name: "Mew"})
	assert.ErrorIs(t, err, sources.ErrNotConfigured)
}

func TestEbay_ClientCredentialsEndToEnd(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"minted","token_type":"Bearer","expires_in":7200}`))
	})
	mux.HandleFunc("/buy/browse/v1/item_summary/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer minted", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"itemSummaries":[{"title":"Mew","price":{"value":"10"}}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src, err := NewEbaySourceFromConfig(testConfig(srv, map[string]interface{}{
		"client_id":     "id",
		"client_secret": "secret",
		"token_url":     srv.URL + "/token",
	}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		quote, err := src.Lookup(context.Background(), sources.Query{Name: "Mew"})
		require.NoError(t, err)
		require.NotNil(t, quote)
		assert.Equal(t, "10", quote.Price.String())
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestTokenCache_RefreshesInsideMargin(t *testing.T) {
	var issued atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := issued.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_, _ = w.Write([]byte(`{"access_token":"first","token_type":"Bearer","expires_in":3600}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"second","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	cache := NewClientCredentialsTokenCache(&clientcredentials.Config{
		ClientID: "id", ClientSecret: "s", TokenURL: srv.URL,
	}, srv.Client(), time.Minute)

	now := time.Now()
	cache.now = func() time.Time { return now }

	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	// Still well before expiry.
	now = now.Add(30 * time.Minute)
	tok, _ = cache.Token(context.Background())
	assert.Equal(t, "first", tok)

	// Inside the one minute safety margin.
	now = now.Add(29*time.Minute + 30*time.Second)
	tok, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", tok)
	assert.Equal(t, int32(2), issued.Load())
}

func TestTokenCache_RejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	cache := NewClientCredentialsTokenCache(&clientcredentials.Config{
		ClientID: "id", ClientSecret: "wrong", TokenURL: srv.URL,
	}, srv.Client(), 0)

	_, err := cache.Token(context.Background())
	assert.ErrorIs(t, err, sources.ErrProviderAuth)
}
