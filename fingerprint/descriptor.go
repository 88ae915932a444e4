package fingerprint

// Descriptor is a structured description of an outgoing request.
//
// Two descriptors describe the same logical request iff Equal reports true;
// that equality, not pointer identity, drives both request-change detection
// and cache keying.
type Descriptor struct {
	// Method is the request method (GET, POST, ...).
	Method string

	// URL is the request target.
	URL string

	// Params are query parameters. Order of keys and of repeated values is
	// irrelevant for equality.
	Params map[string][]string

	// Headers are request headers. Names compare case-insensitively; order
	// of keys and of repeated values is irrelevant for equality.
	Headers map[string][]string

	// Body is the request payload. Compared via a canonical key-sorted JSON
	// serialization, so map ordering does not affect equality.
	Body any

	// Context carries side-channel values that distinguish otherwise
	// identical requests (tenant, locale, api version).
	Context map[string]any

	// WithCredentials indicates the transport should attach credentials.
	WithCredentials bool

	// ReportProgress indicates the transport should emit progress events.
	ReportProgress bool

	// TransferCache indicates the transport-level cache may be used.
	TransferCache bool
}

// Clone returns a deep-ish copy: collections are copied, Body is shared.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	out := *d
	out.Params = cloneValues(d.Params)
	out.Headers = cloneValues(d.Headers)
	if d.Context != nil {
		out.Context = make(map[string]any, len(d.Context))
		for k, v := range d.Context {
			out.Context[k] = v
		}
	}
	return &out
}

func cloneValues(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, vs := range m {
		cp := make([]string, len(vs))
		copy(cp, vs)
		out[k] = cp
	}
	return out
}
