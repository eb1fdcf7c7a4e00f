package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"paycore/config"
	"paycore/entity"
	"paycore/services"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorBody = 512

// Response is a processor reply. Callers must check Verified before
// trusting anything in Parameters.
type Response struct {
	Parameters *entity.PaymentParameters
	Envelope   *entity.PaymentRequest
	Verified   bool
}

// RedsysClient builds signed requests and performs the two REST operations of the processor.
type RedsysClient struct {
	merchant   config.MerchantConfig
	encryptor  *Encryptor
	logger     services.LogHandler
	httpClient *http.Client
	tracer     trace.Tracer
	metrics    *Metrics
	inFlight   sync.Map // order -> struct{}
}

// NewRedsysClient creates a client with a pooled HTTP transport.
// Each call is additionally bounded by the merchant timeout.
func NewRedsysClient(conf *config.Config, logger services.LogHandler) *RedsysClient {
	timeout := conf.Merchant.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	merchant := conf.Merchant
	merchant.Timeout = timeout
	metrics, err := NewMetrics("paycore/redsys")
	if err != nil && logger != nil {
		logger.Error("create processor metrics", err)
	}
	return &RedsysClient{
		merchant:  merchant,
		encryptor: NewEncryptor(merchant.Secret),
		logger:    logger,
		tracer:    otel.Tracer("paycore/redsys"),
		metrics:   metrics,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   false,
			},
		},
	}
}

// NewRequest merges account defaults into parameters, encodes and signs them.
// This is the only place an outbound envelope is built.
func (c *RedsysClient) NewRequest(parameters *entity.MerchantParameters) (*entity.PaymentRequest, error) {
	if c.merchant.Secret == "" || c.merchant.Code == "" || c.merchant.Terminal == "" {
		return nil, fmt.Errorf("%w: merchant not configured", ErrConfiguration)
	}
	merged := *parameters
	if merged.Currency == "" {
		merged.Currency = c.merchant.Currency
	}
	if merged.MerchantCode == "" {
		merged.MerchantCode = c.merchant.Code
	}
	if merged.Terminal == "" {
		merged.Terminal = c.merchant.Terminal
	}
	if merged.MerchantUrl == "" {
		merged.MerchantUrl = c.merchant.NotifyUrl
	}
	if !IsValidOrder(merged.Order) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrder, merged.Order)
	}

	parametersBase64, err := EncodeParameters(&merged)
	if err != nil {
		return nil, fmt.Errorf("parameters encode base64: %v", err)
	}
	signature, err := c.encryptor.CreateSignature(parametersBase64, merged.Order)
	if err != nil {
		return nil, fmt.Errorf("create signature: %w", err)
	}

	return &entity.PaymentRequest{
		Parameters:       parametersBase64,
		Signature:        signature,
		SignatureVersion: entity.SignatureVersion,
	}, nil
}

// Execute posts a request to the operation endpoint.
func (c *RedsysClient) Execute(ctx context.Context, request *entity.PaymentRequest) (*Response, error) {
	return c.post(ctx, "execute", c.merchant.RequestUrl, request)
}

// PreAuthenticate posts a request to the initiation endpoint, used to discover
// 3-D Secure requirements before authorizing.
func (c *RedsysClient) PreAuthenticate(ctx context.Context, request *entity.PaymentRequest) (*Response, error) {
	return c.post(ctx, "pre-authenticate", c.merchant.InitUrl, request)
}

// VerifyEnvelope decodes and verifies an envelope received outside a request,
// such as an asynchronous notification.
func (c *RedsysClient) VerifyEnvelope(envelope *entity.PaymentRequest) (*Response, error) {
	var parameters entity.PaymentParameters
	if err := DecodeParameters(envelope.Parameters, &parameters); err != nil {
		return nil, err
	}
	return &Response{
		Parameters: &parameters,
		Envelope:   envelope,
		Verified:   c.encryptor.VerifySignature(envelope.Parameters, envelope.Signature),
	}, nil
}

func (c *RedsysClient) post(ctx context.Context, operation, url string, request *entity.PaymentRequest) (*Response, error) {
	var requested entity.MerchantParameters
	if err := DecodeParameters(request.Parameters, &requested); err != nil {
		return nil, fmt.Errorf("read request parameters: %v", err)
	}
	order := requested.Order

	if _, loaded := c.inFlight.LoadOrStore(order, struct{}{}); loaded {
		return nil, fmt.Errorf("%w: %s", ErrOrderInFlight, order)
	}
	defer c.inFlight.Delete(order)

	ctx, span := c.tracer.Start(ctx, "RedsysClient."+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("order", order),
		attribute.String("transaction_type", requested.TransactionType),
	)

	started := time.Now()
	response, err := c.roundTrip(ctx, url, request)
	if err != nil {
		c.metrics.RecordProcessorRequest(ctx, operation, ErrorCode(err), time.Since(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	result := "verified"
	if !response.Verified {
		result = CodeSignatureFailed
	}
	c.metrics.RecordProcessorRequest(ctx, operation, result, time.Since(started))
	span.SetAttributes(
		attribute.Bool("verified", response.Verified),
		attribute.String("response", response.Parameters.Response),
	)
	return response, nil
}

func (c *RedsysClient) roundTrip(ctx context.Context, url string, request *entity.PaymentRequest) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.merchant.Timeout)
	defer cancel()

	requestData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("create request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestData))
	if err != nil {
		return nil, fmt.Errorf("create http request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TransportError{Err: fmt.Errorf("request timeout or cancelled: %w", ctx.Err())}
		}
		return nil, &TransportError{Err: err}
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil && c.logger != nil {
			c.logger.Error("close response body", err)
		}
	}(response.Body)

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &TransportError{Status: response.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &TransportError{Status: response.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	return c.readResponse(body)
}

func (c *RedsysClient) readResponse(body []byte) (*Response, error) {
	var envelope entity.PaymentRequest
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse response: %v", err)
	}
	if envelope.Parameters == "" {
		// check if we have an error response instead of an envelope
		var errorCode entity.ErrorCodeResponse
		if err := json.Unmarshal(body, &errorCode); err == nil && errorCode.Code != "" {
			return nil, &ProcessorError{Code: errorCode.Code}
		}
		return nil, fmt.Errorf("unrecognized response: %s", truncate(string(body), maxErrorBody))
	}
	response, err := c.VerifyEnvelope(&envelope)
	if err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.Debug(fmt.Sprintf("response: order %s; type %s; code %s; verified %v",
			response.Parameters.Order, response.Parameters.TransactionType, response.Parameters.Response, response.Verified))
	}
	return response, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
