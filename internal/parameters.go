package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gitee.com/golang-module/dongle"
)

// EncodeParameters serializes v to JSON and encodes the result with standard Base64.
func EncodeParameters(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal parameters: %v", err)
	}
	return dongle.Encode.FromBytes(data).ByBase64().ToString(), nil
}

// DecodeParameters reverses EncodeParameters. URL-safe Base64, as used by
// asynchronous notifications, is accepted too. Unknown fields are ignored.
func DecodeParameters(parameters string, v interface{}) error {
	if parameters == "" {
		return errors.New("empty parameters")
	}
	decoder := dongle.Decode.FromString(standardBase64(parameters)).ByBase64()
	if decoder.Error != nil {
		return fmt.Errorf("decode parameters: %v", decoder.Error)
	}
	reader := json.NewDecoder(bytes.NewReader(decoder.ToBytes()))
	reader.UseNumber()
	if err := reader.Decode(v); err != nil {
		return fmt.Errorf("parse parameters: %v", err)
	}
	return nil
}
