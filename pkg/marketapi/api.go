package marketapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/veridict/veridict/pkg/auth"
	"github.com/veridict/veridict/pkg/lmsr"
)

// MarketService is the HTTP surface of the prediction market. It owns no
// market state itself; everything lives in the store, and all pricing goes
// through the lmsr package.
type MarketService struct {
	store      *SqliteStore
	signer     *auth.Signer
	validate   *validator.Validate
	adminUsers map[string]bool
}

func NewMarketService(store *SqliteStore, signer *auth.Signer, adminUsers []string) *MarketService {
	admins := map[string]bool{}
	for _, username := range adminUsers {
		admins[username] = true
	}
	return &MarketService{
		store:      store,
		signer:     signer,
		validate:   validator.New(),
		adminUsers: admins,
	}
}

// Handler builds the full route table with logging, CORS and auth
// middleware applied.
func (m *MarketService) Handler(corsOrigins []string) http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", m.health).Methods(http.MethodGet)
	api.HandleFunc("/register", m.register).Methods(http.MethodPost)
	api.HandleFunc("/login", m.login).Methods(http.MethodPost)
	api.HandleFunc("/markets", m.listMarkets).Methods(http.MethodGet)
	api.HandleFunc("/markets/{uuid}", m.getMarket).Methods(http.MethodGet)
	api.HandleFunc("/markets/{uuid}/history", m.marketHistory).Methods(http.MethodGet)
	api.HandleFunc("/markets/{uuid}/bets", m.marketBets).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard", m.leaderboard).Methods(http.MethodGet)

	authed := api.NewRoute().Subrouter()
	authed.Use(m.signer.Middleware)
	authed.HandleFunc("/markets", m.createMarket).Methods(http.MethodPost)
	authed.HandleFunc("/markets/{uuid}/resolve", m.resolveMarket).Methods(http.MethodPost)
	authed.HandleFunc("/bets", m.placeBet).Methods(http.MethodPost)
	authed.HandleFunc("/bonus", m.claimBonus).Methods(http.MethodPost)
	authed.HandleFunc("/me", m.me).Methods(http.MethodGet)
	authed.HandleFunc("/me/bets", m.myBets).Methods(http.MethodGet)
	authed.HandleFunc("/me/transactions", m.myTransactions).Methods(http.MethodGet)

	var h http.Handler = r
	h = cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request")
	})(h)
	h = hlog.NewHandler(log.Logger)(h)
	return h
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("encoding-response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondError translates store and engine errors into HTTP statuses. The
// engine's validation errors are caller errors, so they become 400s.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrMarketResolved),
		errors.Is(err, ErrMarketExpired),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrBonusCooldown),
		errors.Is(err, lmsr.ErrInvalidTrade),
		errors.Is(err, lmsr.ErrInvalidSide),
		errors.Is(err, lmsr.ErrInvalidLiquidity):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Err(err).Msg("internal-error")
		respondJSON(w, status, errorResponse{Error: "internal server error"})
		return
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

func (m *MarketService) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	if err := m.validate.Struct(v); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func (m *MarketService) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=2,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=6"`
}

type authResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

func (m *MarketService) register(w http.ResponseWriter, r *http.Request) {
	req := &registerRequest{}
	if !m.decodeAndValidate(w, r, req) {
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, err)
		return
	}
	user, err := m.store.CreateUser(r.Context(), req.Username, hash, m.adminUsers[req.Username])
	if err != nil {
		respondError(w, err)
		return
	}
	token, err := m.signer.Issue(user.Username, user.IsAdmin)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (m *MarketService) login(w http.ResponseWriter, r *http.Request) {
	req := &loginRequest{}
	if !m.decodeAndValidate(w, r, req) {
		return
	}
	hash, isAdmin, err := m.store.GetCredentials(r.Context(), req.Username)
	if err != nil || !auth.CheckPassword(req.Password, hash) {
		respondJSON(w, http.StatusUnauthorized,
			errorResponse{Error: "invalid username or password"})
		return
	}
	if err := m.store.TouchLastLogin(r.Context(), req.Username); err != nil {
		respondError(w, err)
		return
	}
	user, err := m.store.GetUser(r.Context(), req.Username)
	if err != nil {
		respondError(w, err)
		return
	}
	token, err := m.signer.Issue(req.Username, isAdmin)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (m *MarketService) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	user, err := m.store.GetUser(r.Context(), claims.Username)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (m *MarketService) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := m.store.GetMarkets(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, markets)
}

func (m *MarketService) getMarket(w http.ResponseWriter, r *http.Request) {
	market, err := m.store.GetMarket(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, market)
}

func (m *MarketService) marketHistory(w http.ResponseWriter, r *http.Request) {
	points, err := m.store.GetPriceHistory(r.Context(), mux.Vars(r)["uuid"], 0)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, points)
}

func (m *MarketService) marketBets(w http.ResponseWriter, r *http.Request) {
	bets, err := m.store.GetMarketBets(r.Context(), mux.Vars(r)["uuid"], 100)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bets)
}

type marketCreateRequest struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"max=2000"`
	Liquidity   float64 `json:"liquidity" validate:"gte=0"`
	ExpiresAt   string  `json:"expiresAt" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

func (m *MarketService) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || !claims.IsAdmin {
		respondJSON(w, http.StatusForbidden, errorResponse{Error: "admin access required"})
		return false
	}
	return true
}

func (m *MarketService) createMarket(w http.ResponseWriter, r *http.Request) {
	if !m.requireAdmin(w, r) {
		return
	}
	req := &marketCreateRequest{}
	if !m.decodeAndValidate(w, r, req) {
		return
	}
	market, err := m.store.CreateMarket(r.Context(), req.Title, req.Description,
		req.Liquidity, req.ExpiresAt)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, market)
}

type resolveRequest struct {
	Outcome string `json:"outcome" validate:"required"`
}

func (m *MarketService) resolveMarket(w http.ResponseWriter, r *http.Request) {
	if !m.requireAdmin(w, r) {
		return
	}
	req := &resolveRequest{}
	if !m.decodeAndValidate(w, r, req) {
		return
	}
	market, err := m.store.ResolveMarket(r.Context(), mux.Vars(r)["uuid"], req.Outcome)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, market)
}

type betRequest struct {
	MarketID string  `json:"marketId" validate:"required"`
	Side     string  `json:"side" validate:"required"`
	Amount   float64 `json:"amount" validate:"required,gt=0"`
}

func (m *MarketService) placeBet(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	req := &betRequest{}
	if !m.decodeAndValidate(w, r, req) {
		return
	}
	bet, err := m.store.PlaceBet(r.Context(), claims.Username, req.MarketID,
		req.Side, req.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, bet)
}

func (m *MarketService) claimBonus(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	txn, err := m.store.ClaimBonus(r.Context(), claims.Username)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, txn)
}

func (m *MarketService) myBets(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	bets, err := m.store.GetUserBets(r.Context(), claims.Username, 100)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bets)
}

func (m *MarketService) myTransactions(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	txns, err := m.store.GetTransactions(r.Context(), claims.Username, 100)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, txns)
}

func (m *MarketService) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := m.store.Leaderboard(r.Context(), 20)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
