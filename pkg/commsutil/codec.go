package commsutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target. Numbers
// decoded into interface values are kept as json.Number so integers survive
// untouched until they are bound to a typed argument.
func DecodePayload(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("commsutil:codec - trailing data after JSON value")
	}
	return nil
}
