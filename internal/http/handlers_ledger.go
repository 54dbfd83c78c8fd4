package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tally/internal/core"
	"tally/internal/ledger"
)

type accountResponse struct {
	Account string     `json:"account"`
	Balance core.Money `json:"balance"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.engine.Balances(r.Context(), userID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountResponse{Account: string(a.Type), Balance: a.Balance})
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

type addMoneyRequest struct {
	Account     string     `json:"account"`
	Amount      core.Money `json:"amount"`
	Description string     `json:"description"`
}

func (s *Server) handleAddMoney(w http.ResponseWriter, r *http.Request) {
	var req addMoneyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	account, err := core.ParseAccountType(req.Account)
	if err != nil {
		writeError(w, r, err)
		return
	}

	balance, err := s.engine.AddMoney(r.Context(), userID(r.Context()), account, req.Amount, sanitize(req.Description))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse{Account: string(account), Balance: balance})
}

type transferRequest struct {
	From   string     `json:"from"`
	To     string     `json:"to"`
	Amount core.Money `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	from, err := core.ParseAccountType(req.From)
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := core.ParseAccountType(req.To)
	if err != nil {
		writeError(w, r, err)
		return
	}

	uid := userID(r.Context())
	if err := s.engine.Transfer(r.Context(), uid, from, to, req.Amount); err != nil {
		writeError(w, r, err)
		return
	}

	fromBalance, err := s.engine.Balance(r.Context(), uid, from)
	if err != nil {
		writeError(w, r, err)
		return
	}
	toBalance, err := s.engine.Balance(r.Context(), uid, to)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"from": accountResponse{Account: string(from), Balance: fromBalance},
		"to":   accountResponse{Account: string(to), Balance: toBalance},
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, err := core.ParseAccountType(r.URL.Query().Get("account"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	balance, err := s.engine.Balance(r.Context(), userID(r.Context()), account)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse{Account: string(account), Balance: balance})
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	offset := queryInt(r, "offset", 0)

	expenses, err := s.engine.ListExpenses(r.Context(), userID(r.Context()), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]transactionResponse, 0, len(expenses))
	for _, t := range expenses {
		out = append(out, toTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"expenses": out,
		"limit":    limit,
		"offset":   offset,
	})
}

type expenseRequest struct {
	Account     string     `json:"account"`
	Amount      core.Money `json:"amount"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	account, err := core.ParseAccountType(req.Account)
	if err != nil {
		writeError(w, r, err)
		return
	}

	occurredAt := time.Time{}
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}

	uid := userID(r.Context())
	entry, err := s.engine.RecordExpense(r.Context(), uid, account, req.Amount,
		sanitize(req.Category), sanitize(req.Description), occurredAt)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateReports(uid)
	writeJSON(w, http.StatusCreated, toTransactionResponse(entry))
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	account, err := core.ParseAccountType(req.Account)
	if err != nil {
		writeError(w, r, err)
		return
	}

	uid := userID(r.Context())
	err = s.engine.UpdateExpense(r.Context(), uid, id, ledger.UpdateExpenseParams{
		Amount:      req.Amount,
		Category:    sanitize(req.Category),
		Account:     account,
		Description: sanitize(req.Description),
		OccurredAt:  req.OccurredAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateReports(uid)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	uid := userID(r.Context())
	if err := s.engine.DeleteExpense(r.Context(), uid, id); err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateReports(uid)
	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.ErrNotFound
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) invalidateReports(uid int64) {
	s.reportCache.DeletePrefix(reportCachePrefix(uid))
}

func reportCachePrefix(uid int64) string {
	return fmt.Sprintf("user:%d:", uid)
}
