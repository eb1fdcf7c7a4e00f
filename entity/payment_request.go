package entity

const SignatureVersion = "HMAC_SHA256_V1"

// PaymentRequest is the signed envelope exchanged with the processor in both directions.
type PaymentRequest struct {
	Parameters       string `json:"Ds_MerchantParameters"`
	Signature        string `json:"Ds_Signature"`
	SignatureVersion string `json:"Ds_SignatureVersion"`
}

// ErrorCodeResponse is returned instead of an envelope when the processor rejects a request.
type ErrorCodeResponse struct {
	Code string `json:"errorCode"`
}
