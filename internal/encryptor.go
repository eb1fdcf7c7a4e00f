package internal

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gitee.com/golang-module/dongle"
)

const tripleDesKeySize = 24

// Encryptor signs and verifies merchant parameters with a key diversified per order.
// It holds no mutable state and is safe for concurrent use.
type Encryptor struct {
	secret string // merchant key encoded with Base64
}

func NewEncryptor(secret string) *Encryptor {
	return &Encryptor{
		secret: secret,
	}
}

// CreateSignature returns the Base64 HMAC-SHA256 of parameters, keyed with the
// order number encrypted under the merchant key.
func (e *Encryptor) CreateSignature(parameters string, order string) (string, error) {
	key, err := e.merchantKey()
	if err != nil {
		return "", err
	}

	// encrypt order with 3DES to get the per-order key
	orderKey, err := e.encrypt3DES(order, key)
	if err != nil {
		return "", fmt.Errorf("encrypt3DES: %v", err)
	}

	hash, err := e.mac256(parameters, orderKey)
	if err != nil {
		return "", fmt.Errorf("mac256: %v", err)
	}
	return dongle.Encode.FromBytes(hash).ByBase64().ToString(), nil
}

// VerifySignature checks a received signature against the order carried inside
// the parameters themselves. It fails closed on any error.
func (e *Encryptor) VerifySignature(parameters string, signature string) bool {
	if parameters == "" || signature == "" {
		return false
	}
	order := orderFromParameters(parameters)
	if order == "" {
		return false
	}
	expected, err := e.CreateSignature(parameters, order)
	if err != nil {
		return false
	}
	received := []byte(standardBase64(signature))
	computed := []byte(standardBase64(expected))
	if len(received) != len(computed) {
		return false
	}
	return subtle.ConstantTimeCompare(received, computed) == 1
}

func (e *Encryptor) merchantKey() ([]byte, error) {
	if e.secret == "" {
		return nil, fmt.Errorf("%w: empty merchant secret", ErrConfiguration)
	}
	decoder := dongle.Decode.FromString(standardBase64(e.secret)).ByBase64()
	if decoder.Error != nil {
		return nil, fmt.Errorf("%w: decode secret: %v", ErrConfiguration, decoder.Error)
	}
	return normalizeKey(decoder.ToBytes()), nil
}

func (e *Encryptor) encrypt3DES(plainText string, key []byte) ([]byte, error) {
	if plainText == "" {
		return nil, errors.New("plainText cannot be empty")
	}

	cipher := dongle.NewCipher()
	cipher.SetMode(dongle.CBC)
	cipher.SetPadding(dongle.PKCS7)
	cipher.SetKey(key)
	cipher.SetIV(make([]byte, 8))

	encrypter := dongle.Encrypt.FromString(plainText).By3Des(cipher)
	if encrypter.Error != nil {
		return nil, encrypter.Error
	}
	return encrypter.ToRawBytes(), nil
}

func (e *Encryptor) mac256(message string, key []byte) ([]byte, error) {
	encrypter := dongle.Encrypt.FromString(message).ByHmacSha256(key)
	if encrypter.Error != nil {
		return nil, encrypter.Error
	}
	return encrypter.ToRawBytes(), nil
}

// normalizeKey fits a decoded merchant key to the 24 bytes required by 3DES.
// A 16-byte key becomes K1|K2|K1, shorter keys are zero padded, longer ones truncated.
func normalizeKey(key []byte) []byte {
	switch {
	case len(key) == tripleDesKeySize:
		return key
	case len(key) == 16:
		return append(append([]byte{}, key...), key[:8]...)
	case len(key) > tripleDesKeySize:
		return key[:tripleDesKeySize]
	}
	normalized := make([]byte, tripleDesKeySize)
	copy(normalized, key)
	return normalized
}

func standardBase64(s string) string {
	return strings.NewReplacer("-", "+", "_", "/").Replace(s)
}

// orderFromParameters extracts the order number from encoded response parameters.
// Key matching is case-insensitive since responses and notifications differ in casing.
func orderFromParameters(parameters string) string {
	var fields map[string]interface{}
	if err := DecodeParameters(parameters, &fields); err != nil {
		return ""
	}
	for _, name := range []string{"ds_order", "ds_merchant_order"} {
		for key, value := range fields {
			if strings.ToLower(key) != name {
				continue
			}
			switch v := value.(type) {
			case string:
				return v
			case json.Number:
				return v.String()
			}
		}
	}
	return ""
}
