package prices

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quoteServer(t *testing.T, symbol string, price float64, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		assert.Equal(t, "key", r.Header.Get("X-CMC_PRO_API_KEY"))
		assert.Equal(t, symbol, r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"%s":[{"quote":{"USD":{"price":%f}}}]}}`, symbol, price)
	}))
}

func TestUSDPriceCaches(t *testing.T) {
	calls := 0
	srv := quoteServer(t, "ETH", 2000, &calls)
	defer srv.Close()

	c := New(srv.URL, "key", zerolog.Nop())

	p1, err := c.USDPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.True(t, p1.Equal(decimal.NewFromInt(2000)))

	_, err = c.USDPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second lookup served from cache")
}

func TestUSDToToken(t *testing.T) {
	calls := 0
	srv := quoteServer(t, "ETH", 2000, &calls)
	defer srv.Close()

	c := New(srv.URL, "key", zerolog.Nop())

	// $10 at $2000/ETH is 0.005 ETH, i.e. 5e15 wei.
	wei, err := c.USDToToken(context.Background(), "ETH", decimal.NewFromInt(10), 18)
	require.NoError(t, err)
	assert.True(t, wei.Equal(decimal.RequireFromString("5000000000000000")), wei.String())
}

func TestUSDPriceMissingSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "key", zerolog.Nop())
	_, err := c.USDPrice(context.Background(), "NOPE")
	require.Error(t, err)
}

func TestUSDPriceUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "key", zerolog.Nop())
	_, err := c.USDPrice(context.Background(), "ETH")
	require.Error(t, err)
}
