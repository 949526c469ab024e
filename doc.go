// Package jsonservice invokes remote JSON services over HTTP as if they were
// local functions.
//
// A Registry resolves dotted service names against a backend site and hands
// out Services. Each call:
//
//   - encodes its arguments as a single object_request form field (or as a
//     JSON-RPC 2.0 request with WithJSONRPC)
//   - is sent over a pooled keep-alive connection, or a one-off connection for
//     Go and CallAsync
//   - carries a correlation token in the X-LVS-Request-ID header, which the
//     backend may echo back
//   - is retried on timeouts and refused connections up to
//     CallOptions.Retries times, and once more after a broken connection
//   - may be served from a result cache when CallOptions.CachedFor is set
//
// A decoded object carrying a PCode key is a backend-reported failure and is
// returned as an *Error of KindService. Successful payloads come back as a
// *dynamic.Value whose fields can be read in camelCase or underscore style.
//
// Typical usage:
//
//	client := jsonservice.New(
//	    jsonservice.WithCache(),
//	    jsonservice.WithSimpleLogger(),
//	)
//	registry := jsonservice.NewRegistry(client, "https://backend.example.com/", "com.example.commands.")
//	find, _ := registry.Define(jsonservice.ServiceDefinition{
//	    Name:     "find_user",
//	    Path:     "user.find",
//	    Required: []string{"id"},
//	    Cached:   true,
//	})
//	user, err := find.Call(ctx, jsonservice.Args{"id": 7})
//	name, _ := user.Str("display_name")
//
// Failures are *Error values; use errors.Is with the Err* sentinels to branch
// on their kind.
package jsonservice
