// Package avantlink fetches historical pricing for a (SKU, merchant) pair
// from the AvantLink affiliate API and normalizes its loosely structured
// XML/JSON payloads into validated price entries.
package avantlink

import (
	"fmt"
	"time"
)

// Source is the provenance tag recorded on observations produced from
// this adapter's payloads.
const Source = "avantlink_api"

// PriceEntry is one validated historical price point for an item.
// Date is always a canonical YYYY-MM-DD calendar day in UTC.
type PriceEntry struct {
	Date         string
	Retail       float64
	Sale         float64
	ChangeReason string
}

// TransportCause classifies why a fetch failed at the transport layer.
type TransportCause string

const (
	CauseNetwork TransportCause = "network"
	CauseHTTP    TransportCause = "http"
	CauseTimeout TransportCause = "timeout"
)

// TransportError is returned when the price source could not be reached or
// answered with a non-2xx status after retries were exhausted.
type TransportError struct {
	Cause      TransportCause
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("avantlink: %s error (status %d): %v", e.Cause, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("avantlink: %s error: %v", e.Cause, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError is returned when the response body is not a decodable XML or
// JSON document. Individual malformed rows inside a decodable document are
// dropped, not surfaced as errors.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("avantlink: parse error: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Clock abstracts time.Now for retention-window tests.
type Clock func() time.Time
