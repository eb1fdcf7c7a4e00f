package internal

import (
	"context"
	"fmt"
	"paycore/entity"
	"paycore/services"
	"strconv"
	"strings"
)

const (
	identifierRequired = "REQUIRED"
	exceptionMIT       = "MIT"
	cofInitial         = "S"
	cofSubsequent      = "N"
	cofRecurring       = "R"
)

// Processor is the signed REST transport used by payment operations.
type Processor interface {
	NewRequest(parameters *entity.MerchantParameters) (*entity.PaymentRequest, error)
	Execute(ctx context.Context, request *entity.PaymentRequest) (*Response, error)
	PreAuthenticate(ctx context.Context, request *entity.PaymentRequest) (*Response, error)
}

// Payments expresses the processor's business transaction types over a Processor.
type Payments struct {
	processor Processor
	logger    services.LogHandler
}

func NewPayments(processor Processor, logger services.LogHandler) *Payments {
	return &Payments{
		processor: processor,
		logger:    logger,
	}
}

type AuthorizeRequest struct {
	OperationToken string
	Order          string
	Amount         int
	Description    string
	Tokenize       bool
	CofType        string
}

type AuthorizationResult struct {
	Order             string
	ResponseCode      string
	AuthorizationCode string
	CardBrand         string
	CardCountry       string
	LastFour          string
	// set only when tokenization was requested
	Token       string
	TokenExpiry string
	CofTid      string
}

type ChargeRequest struct {
	Order       string
	Amount      int
	Token       string
	CofTid      string
	Description string
}

type ChargeResult struct {
	Order             string
	ResponseCode      string
	AuthorizationCode string
	// CofTid is the id to use on the next charge: refreshed only when the processor sends one
	CofTid string
}

type RefundResult struct {
	Order        string
	ResponseCode string
	Amount       int
}

// AuthorizeWithOperationToken authorizes a payment captured by the in-page card form.
// With Tokenize set, the processor is also asked to store the card for recurring use.
func (p *Payments) AuthorizeWithOperationToken(ctx context.Context, req AuthorizeRequest) (*AuthorizationResult, error) {
	if req.OperationToken == "" {
		return nil, fmt.Errorf("%w: empty operation token", ErrConfiguration)
	}
	if req.Amount < 0 {
		return nil, fmt.Errorf("%w: negative amount %d", ErrConfiguration, req.Amount)
	}
	parameters := entity.MerchantParameters{
		Amount:          strconv.Itoa(req.Amount),
		Order:           req.Order,
		TransactionType: entity.TransactionTypeAuthorization,
		IdOper:          req.OperationToken,
		Description:     req.Description,
	}
	if req.Tokenize {
		parameters.Identifier = identifierRequired
		parameters.CofIni = cofInitial
		parameters.CofType = cofTypeCode(req.CofType)
	}
	p.logger.Info(fmt.Sprintf("authorize: order %s; amount %d; tokenize %v", req.Order, req.Amount, req.Tokenize))

	result, err := p.execute(ctx, &parameters)
	if err != nil {
		return nil, err
	}
	if !IsAuthorized(result.Response) {
		return nil, &DenialError{Code: result.Response}
	}

	authorization := &AuthorizationResult{
		Order:             req.Order,
		ResponseCode:      result.Response,
		AuthorizationCode: result.AuthorisationCode,
		CardBrand:         result.CardBrand,
		CardCountry:       result.CardCountry,
		LastFour:          lastFour(result.CardNumber),
	}
	if req.Tokenize {
		authorization.Token = result.MerchantIdentifier
		authorization.TokenExpiry = result.ExpiryDate
		authorization.CofTid = result.MerchantCofTxnid
	}
	return authorization, nil
}

// ChargeStoredToken performs a merchant initiated charge with a stored card,
// without the cardholder present.
func (p *Payments) ChargeStoredToken(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Token == "" || req.CofTid == "" {
		return nil, ErrNoStoredPayment
	}
	parameters := entity.MerchantParameters{
		Amount:          strconv.Itoa(req.Amount),
		Order:           req.Order,
		TransactionType: entity.TransactionTypeAuthorization,
		Identifier:      req.Token,
		Description:     req.Description,
		DirectPayment:   "true",
		Exception:       exceptionMIT,
		CofIni:          cofSubsequent,
		CofType:         cofRecurring,
		CofTid:          req.CofTid,
	}
	p.logger.Info(fmt.Sprintf("charge: order %s; amount %d; identifier %s; txnid %s",
		req.Order, req.Amount, secret(req.Token), secret(req.CofTid)))

	result, err := p.execute(ctx, &parameters)
	if err != nil {
		return nil, err
	}
	if !IsAuthorized(result.Response) {
		return nil, &DenialError{Code: result.Response}
	}

	charge := &ChargeResult{
		Order:             req.Order,
		ResponseCode:      result.Response,
		AuthorizationCode: result.AuthorisationCode,
		CofTid:            req.CofTid,
	}
	if result.MerchantCofTxnid != "" {
		charge.CofTid = result.MerchantCofTxnid
	}
	return charge, nil
}

// Refund returns amount cents of a previous payment. The original order number is reused.
func (p *Payments) Refund(ctx context.Context, originalOrder string, amount int) (*RefundResult, error) {
	if amount <= 0 {
		return nil, ErrZeroAmount
	}
	parameters := entity.MerchantParameters{
		Amount:          strconv.Itoa(amount),
		Order:           originalOrder,
		TransactionType: entity.TransactionTypeRefund,
	}
	p.logger.Info(fmt.Sprintf("refund: order %s; amount %d", originalOrder, amount))

	result, err := p.execute(ctx, &parameters)
	if err != nil {
		return nil, err
	}
	if !IsConfirmed(result.Response) {
		return nil, &DenialError{Code: result.Response}
	}
	return &RefundResult{
		Order:        originalOrder,
		ResponseCode: result.Response,
		Amount:       amount,
	}, nil
}

// DeleteToken asks the processor to forget a stored card reference.
func (p *Payments) DeleteToken(ctx context.Context, order string, token string) error {
	if token == "" {
		return ErrNoStoredPayment
	}
	parameters := entity.MerchantParameters{
		Amount:          "0",
		Order:           order,
		TransactionType: entity.TransactionTypeDeleteReference,
		Identifier:      token,
	}
	p.logger.Info(fmt.Sprintf("delete token: order %s; identifier %s", order, secret(token)))

	result, err := p.execute(ctx, &parameters)
	if err != nil {
		return err
	}
	if !IsConfirmed(result.Response) {
		return &DenialError{Code: result.Response}
	}
	return nil
}

// PreAuthenticate asks the processor which 3-D Secure flow a card needs
// before the authorization is sent.
func (p *Payments) PreAuthenticate(ctx context.Context, req AuthorizeRequest) (*entity.PaymentParameters, error) {
	if req.OperationToken == "" {
		return nil, fmt.Errorf("%w: empty operation token", ErrConfiguration)
	}
	parameters := entity.MerchantParameters{
		Amount:          strconv.Itoa(req.Amount),
		Order:           req.Order,
		TransactionType: entity.TransactionTypeAuthorization,
		IdOper:          req.OperationToken,
		Emv3DS:          map[string]string{"threeDSInfo": "CardData"},
	}
	request, err := p.processor.NewRequest(&parameters)
	if err != nil {
		return nil, err
	}
	response, err := p.processor.PreAuthenticate(ctx, request)
	if err != nil {
		return nil, err
	}
	if !response.Verified {
		p.logger.Warn(fmt.Sprintf("pre-authenticate: order %s: signature not verified", req.Order))
		return nil, ErrSignature
	}
	return response.Parameters, nil
}

func (p *Payments) execute(ctx context.Context, parameters *entity.MerchantParameters) (*entity.PaymentParameters, error) {
	request, err := p.processor.NewRequest(parameters)
	if err != nil {
		return nil, err
	}
	response, err := p.processor.Execute(ctx, request)
	if err != nil {
		p.logger.Error(fmt.Sprintf("order %s: request", parameters.Order), err)
		return nil, err
	}
	if !response.Verified {
		p.logger.Warn(fmt.Sprintf("order %s: signature not verified; code %s ignored", parameters.Order, response.Parameters.Response))
		return nil, ErrSignature
	}
	p.logger.Info(fmt.Sprintf("response: type: %s; result: %s; order: %s; amount: %s",
		response.Parameters.TransactionType, response.Parameters.Response, response.Parameters.Order, response.Parameters.Amount))
	return response.Parameters, nil
}

// responseCode parses the numeric processor result, "0000" and "00" alike.
func responseCode(code string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsAuthorized reports an authorization success, response codes 0 to 99.
func IsAuthorized(code string) bool {
	n, ok := responseCode(code)
	return ok && n >= 0 && n <= 99
}

// IsConfirmed reports a refund or confirmation success, response code 900.
func IsConfirmed(code string) bool {
	n, ok := responseCode(code)
	return ok && n == 900
}

// IsCancelled reports a cancellation success, response code 400.
func IsCancelled(code string) bool {
	n, ok := responseCode(code)
	return ok && n == 400
}

func cofTypeCode(cofType string) string {
	switch strings.ToLower(cofType) {
	case "", "recurring", "r":
		return cofRecurring
	case "installments", "i":
		return "I"
	case "others", "c":
		return "C"
	}
	return cofType
}

func lastFour(cardNumber string) string {
	if len(cardNumber) < 4 {
		return ""
	}
	return cardNumber[len(cardNumber)-4:]
}
