// Package openaiparams strips request parameters the upstream provider rejects
// on current models before any outbound body is built.
//
// Production call paths sanitize silently. Development builds run in strict
// mode, where a forbidden key reaching the boundary is an error so the
// offending call site gets fixed before release.
package openaiparams

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ForbiddenParams are never sent upstream. max_completion_tokens is allowed.
var ForbiddenParams = []string{"temperature", "top_p", "max_tokens"}

// ForbiddenParamError lists the forbidden keys found in a body.
type ForbiddenParamError struct {
	Keys []string
}

func (e *ForbiddenParamError) Error() string {
	return fmt.Sprintf("openai body contains forbidden params: %s", strings.Join(e.Keys, ", "))
}

// Sanitize returns a shallow copy of body without the forbidden keys. Every
// other key is passed through untouched. A nil body yields nil.
func Sanitize(body map[string]any) map[string]any {
	if body == nil {
		return nil
	}
	out := make(map[string]any, len(body))
	for k, v := range body {
		if isForbidden(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// SanitizeJSON removes the forbidden top-level keys from a raw JSON object.
func SanitizeJSON(raw []byte) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("sanitize: body is not valid JSON")
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil, fmt.Errorf("sanitize: body is not a JSON object")
	}

	out := raw
	for _, key := range ForbiddenParams {
		if !gjson.GetBytes(out, key).Exists() {
			continue
		}
		var err error
		out, err = sjson.DeleteBytes(out, key)
		if err != nil {
			return nil, fmt.Errorf("sanitize: delete %s: %w", key, err)
		}
	}
	return out, nil
}

// AssertNoForbiddenParams returns a *ForbiddenParamError when body carries a
// forbidden key.
func AssertNoForbiddenParams(body map[string]any) error {
	var found []string
	for k := range body {
		if isForbidden(k) {
			found = append(found, k)
		}
	}
	if len(found) == 0 {
		return nil
	}
	sort.Strings(found)
	return &ForbiddenParamError{Keys: found}
}

// Enforce applies the boundary policy: in strict mode a forbidden key is an
// error, otherwise the body is sanitized.
func Enforce(body map[string]any, strict bool) (map[string]any, error) {
	if strict {
		if err := AssertNoForbiddenParams(body); err != nil {
			return nil, err
		}
	}
	return Sanitize(body), nil
}

func isForbidden(key string) bool {
	for _, f := range ForbiddenParams {
		if key == f {
			return true
		}
	}
	return false
}
