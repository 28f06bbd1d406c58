package handlers

import (
	"net/http"

	"github.com/omnifin/backoffice/pkg/audit"
	sqlscreen "github.com/omnifin/backoffice/pkg/sql"
)

// screenSearch audits search parameters that look like SQL injection.
// The request is still served; values are bound as query arguments downstream.
func (b base) screenSearch(r *http.Request, resource string, params ...string) {
	if b.auditor == nil {
		return
	}
	for _, hit := range sqlscreen.ScreenQuery(r.URL.Query(), params...) {
		b.auditor.LogInjectionAttempt(r.Context(), audit.SQLInjectionDetails{
			Resource:    resource,
			ParamName:   hit.ParamName,
			ParamValue:  hit.ParamValue,
			Fingerprint: hit.Fingerprint,
		}, clientIP(r))
	}
}

// screenValue audits a single body field the same way.
func (b base) screenValue(r *http.Request, resource, name, value string) {
	if b.auditor == nil {
		return
	}
	if hit := sqlscreen.CheckParameterForInjection(name, value); hit != nil {
		b.auditor.LogInjectionAttempt(r.Context(), audit.SQLInjectionDetails{
			Resource:    resource,
			ParamName:   hit.ParamName,
			ParamValue:  hit.ParamValue,
			Fingerprint: hit.Fingerprint,
		}, clientIP(r))
	}
}
