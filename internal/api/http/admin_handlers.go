package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/recon-engine/recon-engine/internal/config"
	"github.com/recon-engine/recon-engine/internal/domain/chain"
	"github.com/recon-engine/recon-engine/internal/domain/refund"
	"github.com/recon-engine/recon-engine/internal/domain/session"
)

type scanRequest struct {
	Products []string `json:"products,omitempty"`
}

type refundFailedSessionRequest struct {
	Product string `json:"product"`
	TxHash  string `json:"txHash"`
}

type refundUnusedTransactionRequest struct {
	Product string `json:"product"`
	TxHash  string `json:"txHash"`
	ChainID uint64 `json:"chainId"`
}

func (s *Server) runScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
	}

	report, err := s.scannerSvc.Run(r.Context(), req.Products)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// refundFailedSession refunds the payment of a session whose verification
// failed. The session must be in VERIFICATION_FAILED; the scanner never takes
// this path on its own, it is an operator action.
func (s *Server) refundFailedSession(w http.ResponseWriter, r *http.Request) {
	var req refundFailedSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.TxHash == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "txHash is required")
		return
	}
	product, ok := s.chains.Product(req.Product)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "unknown product")
		return
	}

	sess, err := s.sessions.GetByTxHash(r.Context(), req.TxHash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if sess == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no session for transaction")
		return
	}
	if sess.Product != product.Name {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "session belongs to a different product")
		return
	}
	if sess.Status != session.StatusVerificationFailed {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "session verification has not failed")
		return
	}

	result, err := s.refundSvc.RefundFailedSession(r.Context(), product.Partition, product.RefundRatioBps, sess)
	if err != nil {
		s.respondRefundError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// refundUnusedTransaction refunds a confirmed treasury payment that no
// session ever consumed. The refund subsystem re-validates the transaction
// itself; only the hash and chain are needed here.
func (s *Server) refundUnusedTransaction(w http.ResponseWriter, r *http.Request) {
	var req refundUnusedTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.TxHash == "" || req.ChainID == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "txHash and chainId are required")
		return
	}
	product, ok := s.chains.Product(req.Product)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "unknown product")
		return
	}
	if _, err := s.registry.ClientFor(req.ChainID); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "unsupported chainId")
		return
	}

	tx := &chain.Transaction{Hash: req.TxHash, ChainID: req.ChainID}
	result, err := s.refundSvc.RefundUnusedTransaction(
		r.Context(), product.Name, product.Partition, product.RefundRatioBps, tx, product.PriceUSD)
	if err != nil {
		s.respondRefundError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type refundOrderRequest struct {
	TxHash  string `json:"txHash"`
	ChainID uint64 `json:"chainId"`
}

// setOrderFulfilled marks a paid order fulfilled. Called by the verifier
// after it has delivered the credential.
func (s *Server) setOrderFulfilled(w http.ResponseWriter, r *http.Request) {
	externalOrderID := chi.URLParam(r, "externalOrderId")

	o, err := s.orders.GetByExternalID(r.Context(), externalOrderID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if o == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "order not found")
		return
	}
	if o.Refunded {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "order was refunded")
		return
	}
	if o.TxHash == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "order has no payment bound")
		return
	}

	if err := s.orders.SetFulfilled(r.Context(), externalOrderID); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "order set to fulfilled"})
}

// refundOrder refunds an unfulfilled order's payment, located by its
// transaction hash.
func (s *Server) refundOrder(w http.ResponseWriter, r *http.Request) {
	var req refundOrderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.TxHash == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "txHash is required")
		return
	}
	product, ok := s.orderProduct()
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "no order product configured")
		return
	}

	o, err := s.orders.GetByTxHash(r.Context(), req.TxHash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if o == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no order for transaction")
		return
	}
	if req.ChainID != 0 && o.ChainID != req.ChainID {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "order is on a different chain")
		return
	}

	result, err := s.refundSvc.RefundOrder(r.Context(), product.Partition, product.RefundRatioBps, o)
	if err != nil {
		s.respondRefundError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) orderProduct() (config.ProductConfig, bool) {
	for _, p := range s.chains.Products {
		if p.Kind == "order" {
			return p, true
		}
	}
	return config.ProductConfig{}, false
}

func (s *Server) respondRefundError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, refund.ErrRefundInProgress):
		respondError(w, http.StatusConflict, "REFUND_IN_PROGRESS", err.Error())
	case errors.Is(err, refund.ErrInsufficientFunds):
		respondError(w, http.StatusConflict, "INSUFFICIENT_FUNDS", err.Error())
	case errors.Is(err, chain.ErrTxNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	}
}
