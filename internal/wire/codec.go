// Package wire encodes call arguments into request bodies and decodes
// response bodies into raw results.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// FormField is the form field carrying the JSON-encoded arguments.
const FormField = "object_request"

// Codec converts between call arguments and the HTTP payload of one call.
type Codec interface {
	// ContentType is sent as the request Content-Type.
	ContentType() string
	// EncodeRequest produces the request body for method with args.
	EncodeRequest(method string, args any) ([]byte, error)
	// DecodeResponse turns a response body into a raw result.
	DecodeResponse(body []byte) (any, error)
}

// RemoteError is a backend-reported failure that the codec recognised at the
// protocol level rather than in the decoded payload.
type RemoteError struct {
	Code    string
	Message string
	Data    any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// Decode parses body as JSON keeping numbers as json.Number so that integer
// precision survives the round trip.
func Decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

// FormCodec is the default codec: arguments are JSON encoded under a single
// form field and the response body is plain JSON.
type FormCodec struct{}

func (FormCodec) ContentType() string { return "application/x-www-form-urlencoded" }

func (FormCodec) EncodeRequest(_ string, args any) ([]byte, error) {
	if args == nil {
		args = map[string]any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	form := url.Values{}
	form.Set(FormField, string(encoded))
	return []byte(form.Encode()), nil
}

func (FormCodec) DecodeResponse(body []byte) (any, error) {
	return Decode(body)
}
