package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// baseURLFrom derives the external base URL from the inbound request,
// honoring a reverse proxy's X-Forwarded-Proto the way the teacher's
// request-scoped helpers do.
func baseURLFrom(c echo.Context) string {
	scheme := c.Scheme()
	if fwd := c.Request().Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request().Host)
}

// setVersionHeaders sets ETag/Last-Modified/Location for a single-resource
// response per §6: `ETag: W/"<versionId>"`, HTTP-date Last-Modified, and a
// Location pointing at the version-specific history URL.
func setVersionHeaders(c echo.Context, baseURL, resourceType, id, versionID string, lastUpdated time.Time) {
	h := c.Response().Header()
	h.Set(echo.HeaderETag, weakETag(versionID))
	h.Set("Last-Modified", lastUpdated.UTC().Format(http.TimeFormat))
	h.Set(echo.HeaderLocation, fmt.Sprintf("%s/%s/%s/_history/%s", baseURL, resourceType, id, versionID))
}

func weakETag(versionID string) string {
	return fmt.Sprintf(`W/"%s"`, versionID)
}

func metaVersion(resource map[string]interface{}) string {
	meta, _ := resource["meta"].(map[string]interface{})
	if meta == nil {
		return ""
	}
	v, _ := meta["versionId"].(string)
	return v
}

func metaLastUpdated(resource map[string]interface{}) time.Time {
	meta, _ := resource["meta"].(map[string]interface{})
	if meta == nil {
		return time.Time{}
	}
	s, _ := meta["lastUpdated"].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
