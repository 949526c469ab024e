package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	json2 "github.com/gorilla/rpc/v2/json2"
)

// JSONRPCCodec speaks JSON-RPC 2.0. The method name is the service's
// internal name; arguments are sent as params.
type JSONRPCCodec struct{}

func (JSONRPCCodec) ContentType() string { return "application/json" }

func (JSONRPCCodec) EncodeRequest(method string, args any) ([]byte, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json2.EncodeClientRequest(method, args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode client params: %w", err)
	}
	return body, nil
}

func (JSONRPCCodec) DecodeResponse(body []byte) (any, error) {
	var result json.RawMessage
	if err := json2.DecodeClientResponse(bytes.NewReader(body), &result); err != nil {
		if errors.Is(err, json2.ErrNullResult) {
			return nil, nil
		}
		var rpcErr *json2.Error
		if errors.As(err, &rpcErr) {
			return nil, &RemoteError{
				Code:    strconv.Itoa(int(rpcErr.Code)),
				Message: rpcErr.Message,
				Data:    rpcErr.Data,
			}
		}
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return Decode(result)
}
