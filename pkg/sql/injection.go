// Package sql screens free-text search input with libinjection.
//
// Search values are always bound as query arguments; screening exists so probes
// show up in the security audit log.
package sql

import (
	"net/url"
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a value libinjection flagged.
type InjectionCheckResult struct {
	ParamName   string
	ParamValue  string
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckParameterForInjection returns nil when value looks clean.
func CheckParameterForInjection(paramName, value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		ParamName:   paramName,
		ParamValue:  value,
		Fingerprint: string(fingerprint),
	}
}

// ScreenQuery checks the named query-string parameters, every value of each.
// Results are ordered by parameter name.
func ScreenQuery(query url.Values, names ...string) []*InjectionCheckResult {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var results []*InjectionCheckResult
	for _, name := range sorted {
		for _, v := range query[name] {
			if r := CheckParameterForInjection(name, v); r != nil {
				results = append(results, r)
			}
		}
	}
	return results
}
