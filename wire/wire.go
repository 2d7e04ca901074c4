// Package wire decodes the map service's framed JSON response bodies.
//
// The service returns nested positional arrays behind an anti-JSON-hijacking
// prefix. Every index used here is reverse engineered and may shift when the
// service ships a new frontend; all accessor paths live in this package so a
// schema shift is fixed in exactly one place. Every index access is fallible
// and falls back to the zero value.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
)

const (
	// securityPrefix is prepended by the service to defeat JSON hijacking.
	securityPrefix = `)]}'`
	// xssGuard wraps some search endpoint bodies.
	xssGuard = `/*""*/`
)

var ErrMalformedEnvelope = errors.New("malformed response envelope")

// DecodeError reports a payload this package could not interpret. Callers
// treat it as a signal to stop the current pagination or cursor loop and keep
// whatever was already collected.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decoding %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErrf(stage string, format string, args ...any) *DecodeError {
	return &DecodeError{Stage: stage, Err: fmt.Errorf(format, args...)}
}

// stripFraming removes the xss guard and security prefix, if present.
func stripFraming(raw []byte) []byte {
	body := bytes.TrimSpace(raw)
	body = bytes.TrimPrefix(body, []byte(xssGuard))
	body = bytes.TrimSpace(body)
	body = bytes.TrimPrefix(body, []byte(securityPrefix))

	return bytes.TrimSpace(body)
}

// parseFramedArray strips framing and parses the remainder as a JSON array.
func parseFramedArray(stage string, raw []byte) ([]any, error) {
	body := stripFraming(raw)

	var root []any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, &DecodeError{Stage: stage, Err: fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)}
	}

	return root, nil
}

// recoverDecode converts a panic during positional decoding into a DecodeError.
func recoverDecode(stage string, err *error) {
	if r := recover(); r != nil {
		*err = &DecodeError{
			Stage: stage,
			Err:   fmt.Errorf("recovered from panic: %v stack: %s", r, debug.Stack()),
		}
	}
}

// getNthElementAndCast walks a nested positional array by index path and
// casts the leaf to T. Any missing index, nil element, or type mismatch
// yields the zero value.
func getNthElementAndCast[T any](arr []any, indexes ...int) T {
	var (
		defaultVal T
		idx        int
	)

	if len(indexes) == 0 {
		return defaultVal
	}

	for len(indexes) > 1 {
		idx, indexes = indexes[0], indexes[1:]

		if idx < 0 || idx >= len(arr) {
			return defaultVal
		}

		next := arr[idx]

		if next == nil {
			return defaultVal
		}

		var ok bool

		arr, ok = next.([]any)
		if !ok {
			return defaultVal
		}
	}

	idx = indexes[0]
	if idx < 0 || idx >= len(arr) {
		return defaultVal
	}

	ans, ok := arr[idx].(T)
	if !ok {
		return defaultVal
	}

	return ans
}

// getNthElement is like getNthElementAndCast but returns the raw element,
// letting callers distinguish an absent value from a zero one.
func getNthElement(arr []any, indexes ...int) any {
	if len(indexes) == 0 {
		return nil
	}

	last := indexes[len(indexes)-1]
	if len(indexes) > 1 {
		arr = getNthElementAndCast[[]any](arr, indexes[:len(indexes)-1]...)
	}

	if last < 0 || last >= len(arr) {
		return nil
	}

	return arr[last]
}
