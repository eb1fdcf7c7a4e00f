package entity

// PaymentParameters holds the decoded Ds_MerchantParameters of a processor response
// or asynchronous notification.
type PaymentParameters struct {
	Amount             string  `json:"Ds_Amount" bson:"amount"`
	Currency           string  `json:"Ds_Currency" bson:"currency"`
	Order              string  `json:"Ds_Order" bson:"order"`
	MerchantCode       string  `json:"Ds_MerchantCode" bson:"merchant_code"`
	Terminal           string  `json:"Ds_Terminal" bson:"terminal"`
	Response           string  `json:"Ds_Response" bson:"response"`
	AuthorisationCode  string  `json:"Ds_AuthorisationCode" bson:"authorisation_code"`
	TransactionType    string  `json:"Ds_TransactionType" bson:"transaction_type"`
	SecurePayment      string  `json:"Ds_SecurePayment" bson:"secure_payment"`
	Language           string  `json:"Ds_Language" bson:"language"`
	CardNumber         string  `json:"Ds_CardNumber" bson:"card_number"`
	CardBrand          string  `json:"Ds_Card_Brand" bson:"card_brand"`
	CardCountry        string  `json:"Ds_Card_Country" bson:"card_country"`
	MerchantIdentifier string  `json:"Ds_Merchant_Identifier" bson:"merchant_identifier"`
	ExpiryDate         string  `json:"Ds_ExpiryDate" bson:"expiry_date"`
	MerchantCofTxnid   string  `json:"Ds_Merchant_Cof_Txnid" bson:"merchant_cof_txnid"`
	Date               string  `json:"Ds_Date" bson:"date"`
	Hour               string  `json:"Ds_Hour" bson:"hour"`
	Emv3DS             *Emv3DS `json:"Ds_EMV3DS,omitempty" bson:"emv3ds,omitempty"`
}

// Emv3DS is the 3-D Secure block returned by pre-authentication.
type Emv3DS struct {
	ProtocolVersion      string `json:"protocolVersion" bson:"protocol_version"`
	ThreeDSServerTransID string `json:"threeDSServerTransID" bson:"three_ds_server_trans_id"`
	ThreeDSInfo          string `json:"threeDSInfo" bson:"three_ds_info"`
	ThreeDSMethodURL     string `json:"threeDSMethodURL" bson:"three_ds_method_url"`
}

func (p *PaymentParameters) DataType() string {
	return "payment_result"
}
