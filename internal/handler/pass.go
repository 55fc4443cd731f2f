package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/dukerupert/clubdesk/internal/auth"
	"github.com/dukerupert/clubdesk/internal/bridge"
	"github.com/dukerupert/clubdesk/internal/email"
	"github.com/dukerupert/clubdesk/internal/model"
	"github.com/dukerupert/clubdesk/internal/passapi"
	"github.com/dukerupert/clubdesk/internal/passid"
	"github.com/dukerupert/clubdesk/internal/store"
)

const (
	defaultQRSize  = 256
	maxQRSize      = 1024
	receiptTimeout = 30 * time.Second
)

// Publisher receives the events a successful mutation causes.
type Publisher interface {
	Publish(ev bridge.Event)
}

// Mailer sends the purchaser a receipt after a sale.
type Mailer interface {
	SendPassReceipt(ctx context.Context, r email.Receipt) error
}

type PassHandler struct {
	passStore *store.PassStore
	events    Publisher
	mailer    Mailer
	logger    *slog.Logger
}

// NewPassHandler creates the pass routes. mailer may be nil, in which case
// no receipts are sent.
func NewPassHandler(ps *store.PassStore, events Publisher, mailer Mailer, logger *slog.Logger) *PassHandler {
	return &PassHandler{passStore: ps, events: events, mailer: mailer, logger: logger}
}

// publish stamps the event with the calling desk so its own feed can skip it.
func (h *PassHandler) publish(r *http.Request, ev bridge.Event) {
	if h.events == nil {
		return
	}
	ev.Origin = r.Header.Get("X-Client-ID")
	h.events.Publish(ev)
}

func (h *PassHandler) Search(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, passapi.KindSearch, "email is required")
		return
	}
	passes, err := h.passStore.SearchByEmail(email)
	if err != nil {
		h.logger.Error("search passes", "error", err)
		writeError(w, http.StatusInternalServerError, passapi.KindSearch, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"passes": passes})
}

func (h *PassHandler) Unredeemed(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	passes, err := h.passStore.ListUnredeemed(limit)
	if err != nil {
		h.logger.Error("list unredeemed passes", "error", err)
		writeError(w, http.StatusInternalServerError, passapi.KindSearch, "failed to list passes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"passes": passes})
}

func (h *PassHandler) Sell(w http.ResponseWriter, r *http.Request) {
	var req model.SellPassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid JSON")
		return
	}

	p, err := h.passStore.Create(req)
	if errors.Is(err, store.ErrInvalidPass) {
		writeError(w, http.StatusBadRequest, "", "productType, email, and a positive quantity are required")
		return
	}
	if err != nil {
		h.logger.Error("create pass", "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to create pass")
		return
	}

	h.logger.Info("pass sold", "pass_id", p.ID, "quantity", p.Quantity, "staff", auth.StaffName(r.Context()))
	h.publish(r, bridge.Purchased(p.ID, p.PurchaserEmail, p.PurchaserName(), p.ProductType, p.Quantity, p.PurchasedAt))
	if h.mailer != nil {
		go h.sendReceipt(*p)
	}
	writeJSON(w, http.StatusCreated, p)
}

// sendReceipt is best effort; the sale stands if the mail fails.
func (h *PassHandler) sendReceipt(p model.Pass) {
	ctx, cancel := context.WithTimeout(context.Background(), receiptTimeout)
	defer cancel()

	png, err := qrcode.Encode(passid.Encode(p.ID), qrcode.Medium, defaultQRSize)
	if err != nil {
		h.logger.Warn("encode receipt qr", "pass_id", p.ID, "error", err)
	}
	err = h.mailer.SendPassReceipt(ctx, email.Receipt{
		To:          p.PurchaserEmail,
		Name:        p.PurchaserName(),
		PassID:      p.ID,
		ProductType: p.ProductType,
		Quantity:    p.Quantity,
		QRCode:      png,
	})
	if err != nil {
		h.logger.Error("send pass receipt", "pass_id", p.ID, "error", err)
		return
	}
	h.logger.Info("pass receipt sent", "pass_id", p.ID)
}

type redeemRequest struct {
	Force    bool   `json:"force"`
	Location string `json:"location"`
}

func (h *PassHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req redeemRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "", "invalid JSON")
			return
		}
	}

	staff := auth.StaffName(r.Context())
	res, err := h.passStore.Redeem(store.RedeemInput{
		PassID:     id,
		RedeemedBy: staff,
		Location:   strings.TrimSpace(req.Location),
		Force:      req.Force,
	})
	if err != nil {
		var re *store.RedeemError
		if errors.As(err, &re) {
			status, code := redeemStatus(re.Err)
			h.logger.Info("redeem refused", "pass_id", id, "code", code, "staff", staff)
			writeJSON(w, status, errorResponse{Error: re.Err.Error(), ErrorCode: code, PassDetails: re.Details})
			return
		}
		h.logger.Error("redeem pass", "pass_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to redeem pass")
		return
	}

	h.logger.Info("pass redeemed", "pass_id", id, "remaining", res.RemainingUses, "force", req.Force, "staff", staff)
	ev := bridge.Redeemed(id, res.RemainingUses)
	if res.PassHolder != nil {
		ev.PurchaserEmail = res.PassHolder.Email
		ev.PurchaserName = res.PassHolder.Name()
		ev.ProductType = res.PassHolder.ProductType
	}
	h.publish(r, ev)
	writeJSON(w, http.StatusOK, res)
}

func redeemStatus(err error) (int, passapi.Kind) {
	switch {
	case errors.Is(err, store.ErrPassNotFound):
		return http.StatusNotFound, passapi.KindNotFound
	case errors.Is(err, store.ErrPassNotActive):
		return http.StatusConflict, passapi.KindNotActive
	case errors.Is(err, store.ErrPassExhausted):
		return http.StatusConflict, passapi.KindExhausted
	case errors.Is(err, store.ErrAlreadyRedeemedToday):
		return http.StatusConflict, passapi.KindAlreadyRedeemedToday
	}
	return http.StatusInternalServerError, passapi.KindUnknown
}

func (h *PassHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := h.passStore.Refund(id)
	switch {
	case errors.Is(err, store.ErrPassNotFound):
		writeError(w, http.StatusNotFound, passapi.KindNotFound, "pass not found")
		return
	case errors.Is(err, store.ErrPassNotActive):
		writeError(w, http.StatusConflict, passapi.KindNotActive, "pass is already refunded")
		return
	case err != nil:
		h.logger.Error("refund pass", "pass_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, passapi.KindRefund, "failed to refund pass")
		return
	}

	h.logger.Info("pass refunded", "pass_id", id, "staff", auth.StaffName(r.Context()))
	h.publish(r, bridge.Refunded(id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *PassHandler) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	logs, err := h.passStore.History(id)
	if errors.Is(err, store.ErrPassNotFound) {
		writeError(w, http.StatusNotFound, passapi.KindNotFound, "pass not found")
		return
	}
	if err != nil {
		h.logger.Error("pass history", "pass_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, passapi.KindHistory, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// QR renders the PASS: payload of a pass as a PNG for printing or email.
func (h *PassHandler) QR(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p, err := h.passStore.GetByID(id)
	if err != nil {
		h.logger.Error("get pass", "pass_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to load pass")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, passapi.KindNotFound, "pass not found")
		return
	}

	size := defaultQRSize
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && v > 0 {
		size = min(v, maxQRSize)
	}
	png, err := qrcode.Encode(passid.Encode(p.ID), qrcode.Medium, size)
	if err != nil {
		h.logger.Error("encode qr", "pass_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "", "failed to render code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Write(png)
}
