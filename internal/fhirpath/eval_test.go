package fhirpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patientFixture() map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Patient",
		"active":       true,
		"name": []interface{}{
			map[string]interface{}{"use": "official", "family": "Shepard", "given": []interface{}{"Jane"}},
			map[string]interface{}{"use": "nickname", "family": "Shepard", "given": []interface{}{"J"}},
		},
	}
}

func TestEvaluate_SimplePath(t *testing.T) {
	result, err := Evaluate("name.family", patientFixture())
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "Shepard", result[0].Value)
}

func TestEvaluate_WhereFilter(t *testing.T) {
	result, err := Evaluate("name.where(use = 'official').given", patientFixture())
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "Jane", result[0].Value)
}

func TestEvaluate_Exists(t *testing.T) {
	result, err := Evaluate("name.where(use = 'nickname').exists()", patientFixture())
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, true, result[0].Value)
}

func TestEvaluate_Count(t *testing.T) {
	result, err := Evaluate("name.count()", patientFixture())
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, float64(2), result[0].Value)
}

func TestEvaluate_BooleanAnd(t *testing.T) {
	result, err := Evaluate("active and name.exists()", patientFixture())
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, true, result[0].Value)
}

func TestEvaluate_Arithmetic(t *testing.T) {
	result, err := Evaluate("1 + 2 * 3", map[string]interface{}{})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, float64(7), result[0].Value)
}

func TestEvaluate_MissingFieldIsEmpty(t *testing.T) {
	result, err := Evaluate("birthDate", patientFixture())
	require.NoError(t, err)
	assert.Empty(t, result)
}
