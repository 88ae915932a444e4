package netstatus

import "errors"

var (
	// ErrMissingProbe indicates no probe function was configured.
	ErrMissingProbe = errors.New("netstatus: probe function is required")

	// ErrProbeTimeout indicates a probe did not finish within its timeout.
	ErrProbeTimeout = errors.New("netstatus: probe timeout")
)
