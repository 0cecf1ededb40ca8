// Package statusrpc serves the local JSON status API, the readiness probe and Prometheus metrics.
package statusrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jup-ag/cctp-connect/pkg/chains"
	"github.com/jup-ag/cctp-connect/pkg/common"
	"github.com/jup-ag/cctp-connect/pkg/orchestrator"
	"github.com/jup-ag/cctp-connect/pkg/transfer"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TransferService is implemented by *orchestrator.Orchestrator.
type TransferService interface {
	Transfers() []*transfer.Transfer
	Get(id string) (*transfer.Transfer, error)
	Redeem(ctx context.Context, id string) (*transfer.Transfer, error)
	Remove(id string) error
}

type statusServer struct {
	logger    *zap.Logger
	transfers TransferService
}

// transferView adds display fields to a transfer.
type transferView struct {
	*transfer.Transfer
	ID            string `json:"id"`
	DisplayAmount string `json:"displayAmount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter registers the status routes. ready may be nil.
func NewRouter(logger *zap.Logger, transfers TransferService, ready http.Handler) *mux.Router {
	s := &statusServer{
		logger:    logger.With(zap.String("component", "statusrpc")),
		transfers: transfers,
	}
	r := mux.NewRouter()
	r.HandleFunc("/v1/transfers", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/transfers/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/transfers/{id}", s.handleRemove).Methods(http.MethodDelete)
	r.HandleFunc("/v1/transfers/{id}/redeem", s.handleRedeem).Methods(http.MethodPost)
	if ready != nil {
		r.Handle("/readyz", ready).Methods(http.MethodGet)
	}
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func NewStatusServer(addr string, logger *zap.Logger, transfers TransferService, ready http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(logger, transfers, ready),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func view(t *transfer.Transfer) transferView {
	return transferView{
		Transfer:      t,
		ID:            t.ID(),
		DisplayAmount: common.FormatAmount(t.Amount, chains.USDCDecimals),
	}
}

func (s *statusServer) handleList(w http.ResponseWriter, r *http.Request) {
	all := s.transfers.Transfers()
	views := make([]transferView, 0, len(all))
	for _, t := range all {
		if state := r.URL.Query().Get("state"); state != "" && string(t.State) != state {
			continue
		}
		views = append(views, view(t))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *statusServer) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.transfers.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view(t))
}

func (s *statusServer) handleRedeem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := s.transfers.Redeem(r.Context(), id)
	if err != nil {
		s.logger.Info("redeem request failed", zap.String("id", id), zap.Error(err))
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, view(t))
}

func (s *statusServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.transfers.Remove(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownTransfer):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrAlreadyRedeemed),
		errors.Is(err, orchestrator.ErrTransferBusy),
		errors.Is(err, orchestrator.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, common.ErrTransientNetwork), errors.Is(err, common.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case common.IsFatal(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *statusServer) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusCode(err), errorResponse{Error: err.Error()})
}

func (s *statusServer) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}
