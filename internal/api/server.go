package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coinbot/internal/auth"
	"coinbot/internal/bot"
	"coinbot/internal/game"
	"coinbot/internal/journal"
	"coinbot/internal/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// JobRunner is the scheduler surface the API exposes.
type JobRunner interface {
	Jobs() []scheduler.Status
	RunOnce(ctx context.Context, name string) (any, error)
}

type JournalReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]journal.Entry, error)
}

type Server struct {
	log     *slog.Logger
	token   auth.StaticToken
	game    *game.Service
	router  *bot.Router
	jobs    JobRunner
	journal JournalReader
	metrics http.Handler
	mux     *chi.Mux
}

type Option func(*Server)

func WithRouter(r *bot.Router) Option { return func(s *Server) { s.router = r } }

func WithJobs(j JobRunner) Option { return func(s *Server) { s.jobs = j } }

func WithJournal(j JournalReader) Option { return func(s *Server) { s.journal = j } }

func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

func New(logger *slog.Logger, token auth.StaticToken, gameSvc *game.Service, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:   logger,
		token: token,
		game:  gameSvc,
		mux:   chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.router == nil {
		s.router = bot.NewRouter(gameSvc, logger, "!")
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/accounts/{id}", s.handleAccount)
		r.Post("/accounts/{id}/deposit", s.handleDeposit)
		r.Post("/accounts/{id}/withdraw", s.handleWithdraw)
		r.Get("/accounts/{id}/journal", s.handleJournal)
		r.Post("/pay", s.handlePay)
		r.Post("/rob", s.handleRob)
		r.Post("/bankrob", s.handleBankrob)
		r.Post("/daily", s.handleDaily)
		r.Post("/beg", s.handleBeg)

		r.Get("/market", s.handleMarket)
		r.Get("/market/{symbol}", s.handleInstrument)
		r.Post("/orders", s.handleOrder)
		r.Get("/portfolio/{id}", s.handlePortfolio)

		r.Get("/shop", s.handleShop)
		r.Post("/shop/buy", s.handleShopBuy)
		r.Get("/inventory/{id}", s.handleInventory)

		r.Post("/trades", s.handleTradePropose)
		r.Post("/trades/accept", s.handleTradeAccept)

		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/jobs", s.handleJobs)
		r.Post("/jobs/{name}/run", s.handleJobRun)
		r.Post("/commands", s.handleCommand)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.token.Verify(auth.BearerToken(r)); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userRequest struct {
	UserID string `json:"user_id"`
}

type pairRequest struct {
	From game.Party `json:"from"`
	To   game.Party `json:"to"`
}

// amountParam accepts a JSON number, a numeric string, or "all".
type amountParam struct {
	game.Amount
}

func (a *amountParam) UnmarshalJSON(b []byte) error {
	amt, err := game.ParseAmount(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	a.Amount = amt
	return nil
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	account, err := s.game.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	nw, err := s.game.NetWorth(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "net_worth": nw})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, s.game.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, s.game.Withdraw)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, move func(context.Context, string, game.Amount) (game.Account, error)) {
	var in struct {
		Amount amountParam `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := move(r.Context(), chi.URLParam(r, "id"), in.Amount.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "journal not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.journal.Recent(r.Context(), game.NormalizeID(chi.URLParam(r, "id")), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var in struct {
		pairRequest
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Pay(r.Context(), in.From, in.To, in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRob(w http.ResponseWriter, r *http.Request) {
	var in pairRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Rob(r.Context(), in.From, in.To)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBankrob(w http.ResponseWriter, r *http.Request) {
	var in pairRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Bankrob(r.Context(), in.From, in.To)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	var in userRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Daily(r.Context(), in.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBeg(w http.ResponseWriter, r *http.Request) {
	var in userRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Beg(r.Context(), in.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"instruments": s.game.Market()})
}

func (s *Server) handleInstrument(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Instrument(chi.URLParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id"`
		Symbol string `json:"symbol"`
		Side   string `json:"side"`
		Shares int64  `json:"shares"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var (
		out game.OrderResult
		err error
	)
	switch strings.ToLower(strings.TrimSpace(in.Side)) {
	case "buy":
		out, err = s.game.BuyStock(r.Context(), in.UserID, in.Symbol, in.Shares)
	case "sell":
		out, err = s.game.SellStock(r.Context(), in.UserID, in.Symbol, in.Shares)
	default:
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.game.Portfolio(chi.URLParam(r, "id")))
}

func (s *Server) handleShop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.game.ShopListing()})
}

func (s *Server) handleShopBuy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID   string `json:"user_id"`
		Item     string `json:"item"`
		Quantity int64  `json:"quantity"`
	}
	in.Quantity = 1
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Buy(r.Context(), in.UserID, in.Item, in.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.game.Inventory(chi.URLParam(r, "id"))})
}

func (s *Server) handleTradePropose(w http.ResponseWriter, r *http.Request) {
	var in struct {
		pairRequest
		Give  string `json:"give"`
		Want  string `json:"want"`
		Guild string `json:"guild"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.ProposeTrade(r.Context(), in.From, in.To, in.Give, in.Want, in.Guild)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleTradeAccept(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id"`
		Guild  string `json:"guild"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.AcceptTrade(r.Context(), game.Player(in.UserID), in.Guild)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLeaderboard serves ?kind=beg or the balance board, limited to ?n and
// optionally to a comma-separated ?members list.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, _ := strconv.Atoi(q.Get("n"))
	var members []string
	if raw := strings.TrimSpace(q.Get("members")); raw != "" {
		for _, m := range strings.Split(raw, ",") {
			members = append(members, game.NormalizeID(m))
		}
	}
	if q.Get("kind") == "beg" {
		writeJSON(w, http.StatusOK, map[string]any{"rows": s.game.BegLeaderboard(members, n)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": s.game.Baltop(members, n)})
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	if s.jobs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []scheduler.Status{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.Jobs()})
}

func (s *Server) handleJobRun(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusNotFound, "scheduler not running")
		return
	}
	name := chi.URLParam(r, "name")
	report, err := s.jobs.RunOnce(r.Context(), name)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("job run via api", "job", name)
	writeJSON(w, http.StatusOK, map[string]any{"job": name, "report": report})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var in bot.Command
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.Actor.ID) == "" || strings.TrimSpace(in.Name) == "" {
		writeError(w, http.StatusBadRequest, "actor.id and name are required")
		return
	}
	writeJSON(w, http.StatusOK, s.router.Dispatch(r.Context(), in))
}

func writeDomainError(w http.ResponseWriter, err error) {
	kind := game.ErrorKind(err)
	var cooldown *game.CooldownError
	switch {
	case errors.As(err, &cooldown):
		w.Header().Set("Retry-After", strconv.FormatInt(cooldown.RemainingSeconds(), 10))
		writeKindError(w, http.StatusTooManyRequests, kind, err)
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrInvalidAmount),
		errors.Is(err, game.ErrInvalidTarget):
		writeKindError(w, http.StatusBadRequest, kind, err)
	case errors.Is(err, game.ErrInsufficientTarget), errors.Is(err, game.ErrOutOfStock):
		writeKindError(w, http.StatusConflict, kind, err)
	case errors.Is(err, game.ErrNotFound):
		writeKindError(w, http.StatusNotFound, kind, err)
	case errors.Is(err, game.ErrPersistence), errors.Is(err, context.DeadlineExceeded):
		writeKindError(w, http.StatusServiceUnavailable, kind, err)
	default:
		writeKindError(w, http.StatusInternalServerError, kind, err)
	}
}

func writeKindError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(err.Error()), "kind": kind})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
