package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kairosdex/launchpad/internal/curve"
	"github.com/kairosdex/launchpad/internal/settlement"
	"github.com/kairosdex/launchpad/internal/state"
	"github.com/kairosdex/launchpad/internal/storage/memory"
)

type stubSettlements struct {
	view settlement.View
	err  error
}

func (s *stubSettlements) QuoteBuy(context.Context, string, solana.PublicKey, uint64) (settlement.View, error) {
	return s.view, s.err
}

func (s *stubSettlements) QuoteSell(context.Context, string, solana.PublicKey, uint64) (settlement.View, error) {
	return s.view, s.err
}

func (s *stubSettlements) Submit(context.Context, string, []byte) (settlement.View, error) {
	return s.view, s.err
}

func (s *stubSettlements) View(string) (settlement.View, error) {
	return s.view, s.err
}

func newTestServer(stub *stubSettlements) *Server {
	return NewServer(stub, memory.NewStorage(), nil, zap.NewNop())
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestServer(&stubSettlements{}), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuoteBuy(t *testing.T) {
	stub := &stubSettlements{view: settlement.View{ID: "t-1", State: "BUILT"}}
	srv := newTestServer(stub)

	rec := doJSON(t, srv, http.MethodPost, "/v1/instruments/MintA/quotes", map[string]interface{}{
		"direction": "buy",
		"trader":    solana.NewWallet().PublicKey().String(),
		"amount":    1_000_000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var view settlement.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "t-1", view.ID)
}

func TestQuoteLinksReferrerOnce(t *testing.T) {
	stub := &stubSettlements{view: settlement.View{ID: "t-1", State: "BUILT"}}
	store := memory.NewStorage()
	srv := NewServer(stub, store, nil, zap.NewNop())

	trader := solana.NewWallet().PublicKey().String()
	first := solana.NewWallet().PublicKey().String()
	second := solana.NewWallet().PublicKey().String()

	rec := doJSON(t, srv, http.MethodPost, "/v1/instruments/MintA/quotes", map[string]interface{}{
		"direction": "buy",
		"trader":    trader,
		"amount":    1_000_000,
		"referrer":  first,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	ref, err := store.GetReferral(context.Background(), trader)
	require.NoError(t, err)
	assert.Equal(t, first, ref.Referrer)

	// A later quote with a different referrer cannot rewrite the link,
	// and the quote itself still succeeds.
	rec = doJSON(t, srv, http.MethodPost, "/v1/instruments/MintA/quotes", map[string]interface{}{
		"direction": "buy",
		"trader":    trader,
		"amount":    1_000_000,
		"referrer":  second,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	ref, err = store.GetReferral(context.Background(), trader)
	require.NoError(t, err)
	assert.Equal(t, first, ref.Referrer, "link is write-once")
}

func TestQuoteIgnoresSelfReferral(t *testing.T) {
	stub := &stubSettlements{view: settlement.View{ID: "t-1", State: "BUILT"}}
	store := memory.NewStorage()
	srv := NewServer(stub, store, nil, zap.NewNop())

	trader := solana.NewWallet().PublicKey().String()
	rec := doJSON(t, srv, http.MethodPost, "/v1/instruments/MintA/quotes", map[string]interface{}{
		"direction": "buy",
		"trader":    trader,
		"amount":    1_000_000,
		"referrer":  trader,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	_, err := store.GetReferral(context.Background(), trader)
	assert.Error(t, err, "no referral record created")
}

func TestQuoteRejectsBadDirection(t *testing.T) {
	rec := doJSON(t, newTestServer(&stubSettlements{}), http.MethodPost, "/v1/instruments/MintA/quotes", map[string]interface{}{
		"direction": "short",
		"trader":    solana.NewWallet().PublicKey().String(),
		"amount":    1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuoteRejectsBadTrader(t *testing.T) {
	rec := doJSON(t, newTestServer(&stubSettlements{}), http.MethodPost, "/v1/instruments/MintA/quotes", map[string]interface{}{
		"direction": "buy",
		"trader":    "not-a-key",
		"amount":    1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{state.ErrUnknownInstrument, http.StatusNotFound},
		{curve.ErrBelowMinimumAmount, http.StatusBadRequest},
		{curve.ErrInsufficientInventory, http.StatusConflict},
		{state.ErrInstrumentGraduated, http.StatusConflict},
		{settlement.ErrTransactionExpired, http.StatusGone},
		{settlement.ErrCustodySignatureRejected, http.StatusBadGateway},
	}
	for _, tc := range cases {
		srv := newTestServer(&stubSettlements{err: tc.err})
		rec := doJSON(t, srv, http.MethodPost, "/v1/instruments/MintA/quotes", map[string]interface{}{
			"direction": "buy",
			"trader":    solana.NewWallet().PublicKey().String(),
			"amount":    1,
		})
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestSubmitRequiresBase64(t *testing.T) {
	rec := doJSON(t, newTestServer(&stubSettlements{}), http.MethodPost, "/v1/settlements/t-1/submit", map[string]string{
		"transaction": "!!!not-base64!!!",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettlementNotFound(t *testing.T) {
	srv := newTestServer(&stubSettlements{err: settlement.ErrUnknownSettlement})
	rec := doJSON(t, srv, http.MethodGet, "/v1/settlements/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReferralNotFound(t *testing.T) {
	rec := doJSON(t, newTestServer(&stubSettlements{}), http.MethodGet, "/v1/referrals/NoSuchWallet", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTradesEmpty(t *testing.T) {
	rec := doJSON(t, newTestServer(&stubSettlements{}), http.MethodGet, "/v1/instruments/MintA/trades", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trades":[]}`, rec.Body.String())
}
