package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeakETag_WrapsVersionInWeakQuotes(t *testing.T) {
	assert.Equal(t, `W/"3"`, weakETag("3"))
}

func TestMetaVersion_ReadsNestedMeta(t *testing.T) {
	resource := map[string]interface{}{"meta": map[string]interface{}{"versionId": "2"}}
	assert.Equal(t, "2", metaVersion(resource))
}

func TestMetaVersion_MissingMetaIsEmpty(t *testing.T) {
	assert.Equal(t, "", metaVersion(map[string]interface{}{}))
}

func TestMetaLastUpdated_ParsesRFC3339(t *testing.T) {
	resource := map[string]interface{}{"meta": map[string]interface{}{"lastUpdated": "2024-01-02T03:04:05Z"}}
	got := metaLastUpdated(resource)
	want, _ := time.Parse(time.RFC3339, "2024-01-02T03:04:05Z")
	assert.True(t, got.Equal(want))
}

func TestMetaLastUpdated_MalformedIsZero(t *testing.T) {
	resource := map[string]interface{}{"meta": map[string]interface{}{"lastUpdated": "not-a-date"}}
	assert.True(t, metaLastUpdated(resource).IsZero())
}
