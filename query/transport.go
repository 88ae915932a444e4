package query

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/queryops/queryops/fingerprint"
)

// Response is the transport-level result of a request.
type Response struct {
	// Body is the raw response payload.
	Body []byte

	// Status is the transport status code, when the protocol has one.
	Status int

	// Header carries response metadata.
	Header map[string][]string
}

// Transport performs the actual network call for a descriptor. The
// orchestration layer places no constraint on the wire protocol.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Do must honor cancellation and return ctx.Err() when canceled.
type Transport interface {
	Do(ctx context.Context, d *fingerprint.Descriptor) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, d *fingerprint.Descriptor) (*Response, error)

// Do implements Transport.
func (f TransportFunc) Do(ctx context.Context, d *fingerprint.Descriptor) (*Response, error) {
	return f(ctx, d)
}

// DecodeJSON is the default response decoder: status >= 400 is an error,
// an empty body decodes to the zero value, everything else is unmarshaled
// as JSON.
func DecodeJSON[T any](resp *Response) (T, error) {
	var v T
	if resp.Status >= 400 {
		return v, fmt.Errorf("query: unexpected status %d", resp.Status)
	}
	if len(resp.Body) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return v, fmt.Errorf("query: decode response: %w", err)
	}
	return v, nil
}
