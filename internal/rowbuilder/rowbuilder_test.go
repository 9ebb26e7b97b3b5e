package rowbuilder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirstore/internal/registry"
)

func observationFixture() map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Observation",
		"id":           "11111111-1111-1111-1111-111111111111",
		"status":       "final",
		"meta": map[string]interface{}{
			"versionId":   "1",
			"lastUpdated": "2024-01-01T00:00:00Z",
		},
		"subject": map[string]interface{}{"reference": "Patient/22222222-2222-2222-2222-222222222222"},
		"valueQuantity": map[string]interface{}{
			"value": 98.6,
			"unit":  "F",
		},
	}
}

func statusImpl() registry.SearchParameterImpl {
	return registry.SearchParameterImpl{
		Code: "status", ParamType: "token", Strategy: registry.StrategyTokenColumn,
		ColumnName: "sp_status", ColumnType: registry.ColumnText, PropertyPath: "status",
	}
}

func subjectImpl() registry.SearchParameterImpl {
	return registry.SearchParameterImpl{
		Code: "subject", ParamType: "reference", Strategy: registry.StrategyColumn,
		ColumnName: "sp_subject", ColumnType: registry.ColumnText, PropertyPath: "subject",
	}
}

func TestBuildRow_ExtractsFixedAndSearchColumns(t *testing.T) {
	row := BuildRow("Observation", observationFixture(), []registry.SearchParameterImpl{statusImpl()})
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", row.ID)
	assert.Equal(t, "1", row.VersionID)
	assert.Equal(t, "final", row.SearchCols["sp_status"])
}

func TestBuildRow_MissingFieldOmitted(t *testing.T) {
	row := BuildRow("Observation", observationFixture(), []registry.SearchParameterImpl{
		{Code: "missing", ParamType: "string", Strategy: registry.StrategyColumn, ColumnName: "sp_missing", PropertyPath: "nonexistent"},
	})
	_, ok := row.SearchCols["sp_missing"]
	assert.False(t, ok)
}

func TestBuildReferences_ParsesAndDedups(t *testing.T) {
	refs := BuildReferences("res-1", observationFixture(), []registry.SearchParameterImpl{subjectImpl()})
	require.Len(t, refs, 1)
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", refs[0].TargetID)
	assert.Equal(t, "subject", refs[0].Code)
}

func TestBuildReferences_SkipsFragmentAndUrn(t *testing.T) {
	resource := map[string]interface{}{
		"subject": map[string]interface{}{"reference": "#contained-1"},
	}
	refs := BuildReferences("res-1", resource, []registry.SearchParameterImpl{subjectImpl()})
	assert.Empty(t, refs)

	resource2 := map[string]interface{}{
		"subject": map[string]interface{}{"reference": "urn:uuid:abc"},
	}
	refs2 := BuildReferences("res-1", resource2, []registry.SearchParameterImpl{subjectImpl()})
	assert.Empty(t, refs2)
}

func TestBuildCompartments_PatientIsSelfMember(t *testing.T) {
	resource := map[string]interface{}{"resourceType": "Patient", "id": "33333333-3333-3333-3333-333333333333"}
	comps := BuildCompartments("Patient", "33333333-3333-3333-3333-333333333333", resource, nil)
	assert.Equal(t, []string{"33333333-3333-3333-3333-333333333333"}, comps)
}

func TestBuildCompartments_ObservationViaPatientReference(t *testing.T) {
	comps := BuildCompartments("Observation", "res-1", observationFixture(), []registry.SearchParameterImpl{subjectImpl()})
	assert.Equal(t, []string{"22222222-2222-2222-2222-222222222222"}, comps)
}

func TestBuildCompartments_BinaryNeverCarriesCompartments(t *testing.T) {
	comps := BuildCompartments("Binary", "res-1", map[string]interface{}{}, nil)
	assert.Nil(t, comps)
}

func TestExtractPath_ChoiceTypeSuffix(t *testing.T) {
	values := extractPath(observationFixture(), "value[x]")
	require.Len(t, values, 1)
	m, ok := values[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 98.6, m["value"])
}

func TestBuildHistoryRow_TombstoneHasEmptyContent(t *testing.T) {
	row := BuildHistoryRow("res-1", "2", time.Time{}, nil)
	assert.Nil(t, row.Content)
	assert.Equal(t, "2", row.VersionID)
}
