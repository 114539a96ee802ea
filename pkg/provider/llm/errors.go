package llm

import "fmt"

// UpstreamError reports a non-2xx response from a vendor API. Message carries
// the human-readable error text extracted from the vendor's error body, or a
// generic fallback when the body could not be parsed.
type UpstreamError struct {
	Vendor     string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream error (HTTP %d): %s", e.Vendor, e.StatusCode, e.Message)
}
