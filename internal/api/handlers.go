package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/models"
	"github.com/punchamoorthee/remitops/internal/service"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 1. Parse query
	sendAmount, err := parseAmount(q.Get("sendAmount"), "sendAmount")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req := service.QuoteRequest{
		From:       q.Get("from"),
		To:         q.Get("to"),
		Rail:       q.Get("rail"),
		SendAmount: sendAmount,
		Identity:   identity(r),
		Actor:      userID(r),
	}
	for name, dst := range map[string]**float64{
		"marketRate":  &req.MarketRate,
		"fxMarginPct": &req.FXMarginPct,
		"feeFixed":    &req.FeeFixed,
		"feePct":      &req.FeePct,
	} {
		if *dst, err = parseOptional(q.Get(name), name); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	// 2. Price and persist
	quote, err := h.svc.CreateQuote(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewQuoteResponse(quote))
}

func (h *Handler) RecommendationHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sendAmount, err := parseAmount(q.Get("sendAmount"), "sendAmount")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.svc.Recommend(r.Context(), service.RecommendRequest{
		From:       q.Get("from"),
		To:         q.Get("to"),
		SendAmount: sendAmount,
		Identity:   identity(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	var body models.CreateTransferRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.CreateTransfer(r.Context(), service.CreateTransferRequest{
		QuoteID:        body.QuoteID,
		Rail:           body.PayoutRail,
		Recipient:      body.Recipient(),
		Crypto:         body.CryptoDestination(),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(headerIdempotencyKey)),
		Identity:       identity(r),
		UserID:         userID(r),
		Actor:          userID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if res.Replayed {
		w.Header().Set(headerReplayed, "true")
	}
	w.Header().Set("Location", "/api/v1/transfers/"+res.Transfer.ID)
	respondWithJSON(w, http.StatusOK, models.NewTransferResponse(res.TransferState))
}

func (h *Handler) UpdateTransferHandler(w http.ResponseWriter, r *http.Request) {
	var body models.UpdateTransferRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	st, err := h.svc.Transition(r.Context(), service.TransitionRequest{
		TransferID: mux.Vars(r)["id"],
		Status:     body.Status,
		Identity:   identity(r),
		Actor:      userID(r),
	})
	if err != nil {
		// An expired quote still moved the transfer; report where it ended.
		if domain.KindOf(err) == domain.KindGone && st.Transfer.ID != "" {
			resp := models.NewTransferResponse(st)
			var de *domain.Error
			errors.As(err, &de)
			respondWithJSON(w, http.StatusGone, models.ErrorResponse{
				Error: de.Message, Code: de.Kind.String(), Expired: true, Transfer: &resp,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransferResponse(st))
}

func (h *Handler) ExecuteTransferHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.ExecutePayout(r.Context(), mux.Vars(r)["id"], identity(r), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransferResponse(st))
}

func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetTransfer(r.Context(), mux.Vars(r)["id"])
	h.writeDetails(w, r, d, err)
}

func (h *Handler) LookupTransferHandler(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetTransferByReference(r.Context(), r.URL.Query().Get("reference"))
	h.writeDetails(w, r, d, err)
}

// writeDetails answers a lookup. EXPIRED transfers come back with 410 and
// the full details.
func (h *Handler) writeDetails(w http.ResponseWriter, r *http.Request, d service.TransferDetails, err error) {
	if err != nil {
		if domain.KindOf(err) == domain.KindGone && d.Transfer.ID != "" {
			resp := models.NewTransferDetailsResponse(d)
			resp.Error = "transfer has expired"
			respondWithJSON(w, http.StatusGone, resp)
			return
		}
		h.writeError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewTransferDetailsResponse(d))
}
