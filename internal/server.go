package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"paycore/config"
	"paycore/services"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	runRenewals        = "/renewals/run"
	expireCanceled     = "/renewals/expire"
	returnByOrder      = "/return/order/:order_id"
	cancelSubscription = "/subscriptions/:subscription_id/cancel"
	paymentNotify      = "/notify"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	payments   services.Payments
	logger     services.LogHandler
}

type refundRequest struct {
	Amount int `json:"amount"`
}

func NewServer(conf *config.Config) *Server {

	server := Server{
		conf: conf,
	}

	// register itself as a router for httpServer handler
	router := httprouter.New()
	server.Register(router)
	server.httpServer = &http.Server{
		Handler: router,
	}

	return &server
}

func (s *Server) Register(router *httprouter.Router) {
	router.POST(runRenewals, s.runRenewals)
	router.POST(expireCanceled, s.expireCanceled)
	router.POST(returnByOrder, s.returnOrder)
	router.POST(cancelSubscription, s.cancelSubscription)
	router.POST(paymentNotify, s.paymentNotify)
}

func (s *Server) SetPaymentsService(payments services.Payments) {
	s.payments = payments
}

func (s *Server) SetLogger(logger services.LogHandler) {
	s.logger = logger
}

func (s *Server) Start() error {
	if s.conf == nil {
		return fmt.Errorf("configuration not loaded")
	}

	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	if s.conf.Listen.TLS {
		s.logger.Info(fmt.Sprintf("starting https TLS on %s", serverAddress))
		err = s.httpServer.ServeTLS(listener, s.conf.Listen.CertFile, s.conf.Listen.KeyFile)
	} else {
		s.logger.Info(fmt.Sprintf("starting http on %s", serverAddress))
		err = s.httpServer.Serve(listener)
	}

	return err
}

func (s *Server) runRenewals(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := requestContext(r)
	reqID := GetRequestID(ctx)

	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	report, err := s.payments.RunRenewals(ctx, dryRun)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] run renewals", reqID), err)
		if errors.Is(err, ErrRunInProgress) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		if report == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}
	s.writeJSON(w, reqID, report)
}

func (s *Server) expireCanceled(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := requestContext(r)
	reqID := GetRequestID(ctx)

	report, err := s.payments.ExpireCanceled(ctx)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] expire canceled", reqID), err)
		if errors.Is(err, ErrRunInProgress) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, reqID, report)
}

func (s *Server) returnOrder(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx := requestContext(r)
	reqID := GetRequestID(ctx)

	orderId := ps.ByName("order_id")
	if !IsValidOrder(orderId) {
		s.logger.Warn(fmt.Sprintf("[%s] return order: invalid order id %q", reqID, orderId))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] return order: read request body", reqID), err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var request refundRequest
	err = json.Unmarshal(body, &request)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] return order: decode request body", reqID), err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.logger.Info(fmt.Sprintf("[%s] processing request: return order %s, amount %d", reqID, orderId, request.Amount))
	err = s.payments.RefundOrder(ctx, orderId, request.Amount)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] return order %s", reqID, orderId), err)
		if errors.Is(err, ErrNotRefundable) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		if errors.Is(err, ErrZeroAmount) || errors.Is(err, ErrInvalidOrder) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx := requestContext(r)
	reqID := GetRequestID(ctx)

	id := ps.ByName("subscription_id")
	if err := s.payments.CancelSubscription(ctx, id); err != nil {
		s.logger.Error(fmt.Sprintf("[%s] cancel subscription %s", reqID, id), err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) paymentNotify(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := requestContext(r)
	reqID := GetRequestID(ctx)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] payment notify: get body", reqID), err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	err = s.payments.Notify(ctx, body)
	if err != nil {
		s.logger.Error(fmt.Sprintf("[%s] payment notify: process body", reqID), err)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeJSON(w http.ResponseWriter, reqID string, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(fmt.Sprintf("[%s] write response", reqID), err)
	}
}

// requestContext continues the caller's trace, if any, and tags the request with an id.
func requestContext(r *http.Request) context.Context {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return WithRequestID(ctx)
}
