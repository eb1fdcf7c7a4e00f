package entity

// Transaction types understood by the processor.
const (
	TransactionTypeAuthorization       = "0"
	TransactionTypePreAuthorization    = "1"
	TransactionTypePreAuthConfirmation = "2"
	TransactionTypeRefund              = "3"
	TransactionTypeValidation          = "7"
	TransactionTypePreAuthCancellation = "9"
	TransactionTypeDeleteReference     = "44"
	TransactionTypeCancellation        = "45"
)

// MerchantParameters represents processor API request parameters for payment operations.
// These parameters are Base64-encoded and signed with HMAC-SHA256 before sending.
// Empty fields are omitted from the encoded payload.
type MerchantParameters struct {
	// Amount in cents (e.g., "1000" = 10.00 EUR)
	Amount string `json:"DS_MERCHANT_AMOUNT,omitempty"`
	// Order number, see IsValidOrder for the accepted format
	Order string `json:"DS_MERCHANT_ORDER,omitempty"`
	// Identifier for stored payment method (card token), or "REQUIRED" to request one
	Identifier   string `json:"DS_MERCHANT_IDENTIFIER,omitempty"`
	MerchantCode string `json:"DS_MERCHANT_MERCHANTCODE,omitempty"`
	// Currency code (978 = EUR)
	Currency        string `json:"DS_MERCHANT_CURRENCY,omitempty"`
	TransactionType string `json:"DS_MERCHANT_TRANSACTIONTYPE,omitempty"`
	Terminal        string `json:"DS_MERCHANT_TERMINAL,omitempty"`
	// Operation token produced by the in-page card form
	IdOper      string `json:"DS_MERCHANT_IDOPER,omitempty"`
	MerchantUrl string `json:"DS_MERCHANT_MERCHANTURL,omitempty"`
	Description string `json:"DS_MERCHANT_PRODUCTDESCRIPTION,omitempty"`
	// DirectPayment: "true" = use stored token without redirect
	DirectPayment string `json:"DS_MERCHANT_DIRECTPAYMENT,omitempty"`
	// Exception: "MIT" = Merchant Initiated Transaction exemption (PSD2)
	Exception string `json:"DS_MERCHANT_EXCEP_SCA,omitempty"`
	// CofIni: "S" = initial credential storage, "N" = subsequent use of stored credentials
	CofIni string `json:"DS_MERCHANT_COF_INI,omitempty"`
	// CofType: "R" = Recurring, "I" = Installments, "C" = Others
	CofType string `json:"DS_MERCHANT_COF_TYPE,omitempty"`
	// CofTid: network transaction id from the initial authorization
	CofTid string `json:"DS_MERCHANT_COF_TXNID,omitempty"`
	// Emv3DS carries 3-D Secure data, {"threeDSInfo":"CardData"} on pre-authentication
	Emv3DS map[string]string `json:"DS_MERCHANT_EMV3DS,omitempty"`
}
