package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirstore/internal/apperror"
	"github.com/ehr/fhirstore/internal/fhirmodel"
)

// statusFor maps an apperror.Kind to the HTTP status the teacher's error
// taxonomy table calls for; SerializationFailure only ever reaches here
// after the repository's own retry budget is exhausted, so it renders the
// same as any other internal failure.
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.NotFound:
		return http.StatusNotFound
	case apperror.Gone:
		return http.StatusGone
	case apperror.VersionConflict:
		return http.StatusConflict
	case apperror.InvalidInput:
		return http.StatusBadRequest
	case apperror.FHIRPathError:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// issueCodeFor mirrors spec's fixed severity/code mapping: not-found ↔
// NotFound, deleted ↔ Gone, conflict ↔ VersionConflict, invalid ↔
// InvalidInput, exception ↔ everything else.
func issueCodeFor(kind apperror.Kind) string {
	switch kind {
	case apperror.NotFound:
		return "not-found"
	case apperror.Gone:
		return "deleted"
	case apperror.VersionConflict:
		return "conflict"
	case apperror.InvalidInput:
		return "invalid"
	default:
		return "exception"
	}
}

// writeError renders err as an OperationOutcome with the status its kind
// maps to. FHIRPathError is a degraded warning (§7): it never blocks a
// write, so callers should not reach writeError for it from the repository
// path — but if one does, it's reported as a 200 carrying a warning issue
// rather than failing the request outright.
func writeError(c echo.Context, err error) error {
	kind := apperror.KindOf(err)
	outcome := &fhirmodel.OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []fhirmodel.OperationOutcomeIssue{
			{
				Severity:    severityFor(kind),
				Code:        issueCodeFor(kind),
				Diagnostics: err.Error(),
			},
		},
	}
	return c.JSON(statusFor(kind), outcome)
}

func severityFor(kind apperror.Kind) string {
	if kind == apperror.FHIRPathError {
		return "warning"
	}
	return "error"
}
