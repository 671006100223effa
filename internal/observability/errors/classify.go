// Package errors derives low-cardinality labels from errors for metric tags.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/driptech/admin-session/internal/errors"
)

// Classify returns a tag-safe error class. AppErrors report their code;
// anything else reports the innermost concrete type, e.g. "net_operror".
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}

	for {
		inner := goerrors.Unwrap(err)
		if inner == nil {
			break
		}
		err = inner
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.ToLower(strings.ReplaceAll(t.String(), ".", "_"))
	if name == "" {
		return "unknown"
	}
	return name
}
