package marketapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"

	"github.com/veridict/veridict/pkg/auth"
)

func newTestHandler() http.Handler {
	initDB()
	store := newStore()
	signer := auth.NewSigner("test-secret")
	service := NewMarketService(store, signer, []string{"admin1"})
	return service.Handler(nil)
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func register(t *testing.T, h http.Handler, username string) authResponse {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/register", "", map[string]any{
		"username": username, "password": "secret123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, w.Code, w.Body.String())
	}
	return decode[authResponse](t, w)
}

func TestAPIRegisterAndLogin(t *testing.T) {
	is := is.New(t)
	h := newTestHandler()

	resp := register(t, h, "trader1")
	is.True(resp.Token != "")
	is.Equal(resp.User.Username, "trader1")
	is.Equal(resp.User.Balance, 1000.0)
	is.Equal(resp.User.IsAdmin, false)

	// duplicate username
	w := doJSON(t, h, http.MethodPost, "/api/register", "", map[string]any{
		"username": "trader1", "password": "secret123",
	})
	is.Equal(w.Code, http.StatusBadRequest)

	// short password rejected by validation
	w = doJSON(t, h, http.MethodPost, "/api/register", "", map[string]any{
		"username": "trader2", "password": "abc",
	})
	is.Equal(w.Code, http.StatusBadRequest)

	w = doJSON(t, h, http.MethodPost, "/api/login", "", map[string]any{
		"username": "trader1", "password": "secret123",
	})
	is.Equal(w.Code, http.StatusOK)
	login := decode[authResponse](t, w)
	is.True(login.Token != "")

	w = doJSON(t, h, http.MethodPost, "/api/login", "", map[string]any{
		"username": "trader1", "password": "wrong-password",
	})
	is.Equal(w.Code, http.StatusUnauthorized)

	w = doJSON(t, h, http.MethodGet, "/api/me", login.Token, nil)
	is.Equal(w.Code, http.StatusOK)
	me := decode[*User](t, w)
	is.Equal(me.Username, "trader1")
	is.True(me.LastLogin != "")
}

func TestAPIMarketLifecycle(t *testing.T) {
	is := is.New(t)
	h := newTestHandler()

	admin := register(t, h, "admin1")
	is.Equal(admin.User.IsAdmin, true)
	trader := register(t, h, "trader1")

	// only admins create markets
	w := doJSON(t, h, http.MethodPost, "/api/markets", trader.Token, map[string]any{
		"title": "not allowed",
	})
	is.Equal(w.Code, http.StatusForbidden)

	w = doJSON(t, h, http.MethodPost, "/api/markets", admin.Token, map[string]any{
		"title":       "Will the launch happen this year?",
		"description": "Counts any orbital attempt.",
	})
	is.Equal(w.Code, http.StatusCreated)
	market := decode[*Market](t, w)
	is.Equal(market.Liquidity, 100.0)
	is.Equal(market.PriceYes, 0.5)

	// anonymous bet rejected
	w = doJSON(t, h, http.MethodPost, "/api/bets", "", map[string]any{
		"marketId": market.ID, "side": "YES", "amount": 5,
	})
	is.Equal(w.Code, http.StatusUnauthorized)

	w = doJSON(t, h, http.MethodPost, "/api/bets", trader.Token, map[string]any{
		"marketId": market.ID, "side": "yes", "amount": 5,
	})
	is.Equal(w.Code, http.StatusCreated)
	bet := decode[*Bet](t, w)
	is.Equal(bet.Side, "YES")
	is.True(withinEpsilon(bet.TotalCost, 2.5312467))

	w = doJSON(t, h, http.MethodPost, "/api/bets", trader.Token, map[string]any{
		"marketId": market.ID, "side": "MAYBE", "amount": 5,
	})
	is.Equal(w.Code, http.StatusBadRequest)

	w = doJSON(t, h, http.MethodPost, "/api/bets", trader.Token, map[string]any{
		"marketId": market.ID, "side": "YES", "amount": -2,
	})
	is.Equal(w.Code, http.StatusBadRequest)

	w = doJSON(t, h, http.MethodGet, "/api/markets/"+market.ID, "", nil)
	is.Equal(w.Code, http.StatusOK)
	fetched := decode[*Market](t, w)
	is.Equal(fetched.YesShares, 5.0)
	is.True(withinEpsilon(fetched.PriceYes, 0.5124974))
	is.Equal(fetched.PriceYes+fetched.PriceNo, 1.0)

	w = doJSON(t, h, http.MethodGet, "/api/markets/"+market.ID+"/history", "", nil)
	is.Equal(w.Code, http.StatusOK)
	points := decode[[]*PricePoint](t, w)
	is.Equal(len(points), 1)

	// resolve and verify the degenerate prices plus the payout
	w = doJSON(t, h, http.MethodPost, "/api/markets/"+market.ID+"/resolve", trader.Token,
		map[string]any{"outcome": "YES"})
	is.Equal(w.Code, http.StatusForbidden)

	w = doJSON(t, h, http.MethodPost, "/api/markets/"+market.ID+"/resolve", admin.Token,
		map[string]any{"outcome": "yes"})
	is.Equal(w.Code, http.StatusOK)
	resolved := decode[*Market](t, w)
	is.Equal(resolved.Resolved, true)
	is.Equal(resolved.Outcome, "YES")
	is.Equal(resolved.PriceYes, 1.0)
	is.Equal(resolved.PriceNo, 0.0)

	w = doJSON(t, h, http.MethodPost, "/api/bets", trader.Token, map[string]any{
		"marketId": market.ID, "side": "YES", "amount": 1,
	})
	is.Equal(w.Code, http.StatusBadRequest)

	w = doJSON(t, h, http.MethodGet, "/api/me", trader.Token, nil)
	me := decode[*User](t, w)
	is.True(withinEpsilon(me.Balance, 1000-bet.TotalCost+5))

	w = doJSON(t, h, http.MethodGet, "/api/me/transactions", trader.Token, nil)
	is.Equal(w.Code, http.StatusOK)
	txns := decode[[]*Transaction](t, w)
	is.Equal(len(txns), 2)
}

func TestAPIBonusAndLeaderboard(t *testing.T) {
	is := is.New(t)
	h := newTestHandler()

	trader := register(t, h, "trader1")

	w := doJSON(t, h, http.MethodPost, "/api/bonus", trader.Token, nil)
	is.Equal(w.Code, http.StatusOK)
	txn := decode[*Transaction](t, w)
	is.Equal(txn.Type, TxnBonus)
	is.Equal(txn.Amount, 50.0)

	w = doJSON(t, h, http.MethodPost, "/api/bonus", trader.Token, nil)
	is.Equal(w.Code, http.StatusBadRequest)

	register(t, h, "trader2")
	w = doJSON(t, h, http.MethodGet, "/api/leaderboard", "", nil)
	is.Equal(w.Code, http.StatusOK)
	entries := decode[[]*LeaderboardEntry](t, w)
	is.Equal(len(entries), 2)
	is.Equal(entries[0].Username, "trader1")
	is.Equal(entries[0].Balance, 1050.0)
}

func TestAPIHealth(t *testing.T) {
	is := is.New(t)
	h := newTestHandler()
	w := doJSON(t, h, http.MethodGet, "/api/health", "", nil)
	is.Equal(w.Code, http.StatusOK)
}
