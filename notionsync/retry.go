// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// IsRetryable categorizes an error from the external service as transient
// (worth redelivering) or permanent.
//
// Rules in priority order: 429 and 5xx are retryable; any other 4xx is
// permanent; schema errors are permanent; transient network failures
// (timeout, connection reset/refused, DNS) are retryable; anything
// unclassified defaults to retryable, favoring redelivery over silent loss.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		switch {
		case status == 429:
			return true
		case status >= 500 && status < 600:
			return true
		case status >= 400 && status < 500:
			return false
		}
	}

	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return true
}
