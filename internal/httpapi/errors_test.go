package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ehr/fhirstore/internal/apperror"
)

func TestStatusFor_MapsEveryKind(t *testing.T) {
	assert.Equal(t, 404, statusFor(apperror.NotFound))
	assert.Equal(t, 410, statusFor(apperror.Gone))
	assert.Equal(t, 409, statusFor(apperror.VersionConflict))
	assert.Equal(t, 400, statusFor(apperror.InvalidInput))
	assert.Equal(t, 200, statusFor(apperror.FHIRPathError))
	assert.Equal(t, 500, statusFor(apperror.DatabaseError))
	assert.Equal(t, 500, statusFor(apperror.SerializationFailure))
}

func TestIssueCodeFor_MatchesFixedMapping(t *testing.T) {
	assert.Equal(t, "not-found", issueCodeFor(apperror.NotFound))
	assert.Equal(t, "deleted", issueCodeFor(apperror.Gone))
	assert.Equal(t, "conflict", issueCodeFor(apperror.VersionConflict))
	assert.Equal(t, "invalid", issueCodeFor(apperror.InvalidInput))
	assert.Equal(t, "exception", issueCodeFor(apperror.DatabaseError))
}

func TestSeverityFor_FHIRPathErrorIsWarning(t *testing.T) {
	assert.Equal(t, "warning", severityFor(apperror.FHIRPathError))
	assert.Equal(t, "error", severityFor(apperror.NotFound))
}
