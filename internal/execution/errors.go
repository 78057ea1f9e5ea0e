package execution

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
)

// classification splits submission errors into transient (safe to retry)
// and fatal (end the position outright).
type classification int

const (
	classTransient classification = iota
	classFatal
)

// fatalMarkers are substrings the CLOB's error bodies carry for named
// unrecoverable conditions: authentication failure, insufficient balance,
// market closed. Matched case-insensitively against the wrapped error text
// since the adapter surfaces these as plain fmt.Errorf status+body strings.
var fatalMarkers = []string{
	"unauthorized", "invalid signature", "invalid api key", "authentication",
	"insufficient balance", "insufficient funds",
	"market closed", "market not found", "market is closed",
}

// classify decides whether err should be retried or marked the execution
// FAILED. Network errors and 5xx responses are transient; everything
// matching a fatal marker, or any 4xx response, is fatal. Errors matching
// none of these are treated as transient.
func classify(err error) classification {
	if err == nil {
		return classTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return classTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return classFatal
		}
	}

	if status, ok := extractStatus(msg); ok {
		if status >= 500 {
			return classTransient
		}
		if status >= 400 {
			return classFatal
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return classTransient
	}

	return classTransient
}

// extractStatus pulls the "status %d" the adapter's do() embeds in its
// error text, e.g. "clob request failed with status 503: ...".
func extractStatus(msg string) (int, bool) {
	const marker = "status "
	idx := strings.Index(msg, marker)
	if idx == -1 {
		return 0, false
	}
	rest := msg[idx+len(marker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
