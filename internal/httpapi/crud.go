package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirstore/internal/apperror"
	"github.com/ehr/fhirstore/internal/fhirmodel"
	"github.com/ehr/fhirstore/internal/search"
)

func decodeBody(c echo.Context) (map[string]interface{}, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, apperror.Invalidf("read request body: %v", err)
	}
	resource, err := fhirmodel.DecodeResource(raw)
	if err != nil {
		return nil, apperror.Invalidf("invalid JSON body: %v", err)
	}
	if resource == nil {
		return nil, apperror.Invalidf("request body is required")
	}
	return resource, nil
}

// handleCreate implements POST /<Type>, honoring an If-None-Exist header as
// a conditional create: a search-qualified create that proceeds only when
// no existing resource already matches.
func (s *Server) handleCreate(c echo.Context) error {
	resourceType := c.Param("type")
	resource, err := decodeBody(c)
	if err != nil {
		return writeError(c, err)
	}

	if criteria := c.Request().Header.Get("If-None-Exist"); criteria != "" {
		existing, conflict, err := s.resolveConditional(c.Request().Context(), resourceType, criteria)
		if err != nil {
			return writeError(c, err)
		}
		if conflict {
			return writeError(c, apperror.Invalidf("multiple resources match If-None-Exist criteria"))
		}
		if existing != nil {
			baseURL := baseURLFrom(c)
			setVersionHeaders(c, baseURL, resourceType, existing["id"].(string), metaVersion(existing), metaLastUpdated(existing))
			return c.JSON(http.StatusOK, existing)
		}
	}

	created, err := s.repo.Create(c.Request().Context(), resourceType, resource, "")
	if err != nil {
		return writeError(c, err)
	}

	baseURL := baseURLFrom(c)
	id, _ := created["id"].(string)
	setVersionHeaders(c, baseURL, resourceType, id, metaVersion(created), metaLastUpdated(created))
	return c.JSON(http.StatusCreated, created)
}

// resolveConditional runs criteria (a raw query string, e.g.
// "identifier=mrn-1") against resourceType and reports at most one match;
// conflict is true when more than one resource matches.
func (s *Server) resolveConditional(ctx context.Context, resourceType, criteria string) (existing map[string]interface{}, conflict bool, err error) {
	values, err := url.ParseQuery(criteria)
	if err != nil {
		return nil, false, apperror.Invalidf("invalid If-None-Exist criteria: %v", err)
	}
	req := search.Parse(resourceType, values)
	req.Total = "accurate"

	bundle, err := s.engine.Execute(ctx, req, "")
	if err != nil {
		return nil, false, err
	}
	total := 0
	if bundle.Total != nil {
		total = *bundle.Total
	}
	if total > 1 || len(bundle.Entry) > 1 {
		return nil, true, nil
	}
	if len(bundle.Entry) == 0 {
		return nil, false, nil
	}
	resource, err := fhirmodel.DecodeResource(bundle.Entry[0].Resource)
	if err != nil {
		return nil, false, apperror.Wrap(apperror.DatabaseError, "decode conditional match", err)
	}
	return resource, false, nil
}

func (s *Server) handleRead(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")
	resource, err := s.repo.Read(c.Request().Context(), resourceType, id)
	if err != nil {
		return writeError(c, err)
	}
	baseURL := baseURLFrom(c)
	setVersionHeaders(c, baseURL, resourceType, id, metaVersion(resource), metaLastUpdated(resource))
	return c.JSON(http.StatusOK, resource)
}

func (s *Server) handleUpdate(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")
	resource, err := decodeBody(c)
	if err != nil {
		return writeError(c, err)
	}
	resource["id"] = id
	resource["resourceType"] = resourceType

	ifMatch := strings.Trim(c.Request().Header.Get("If-Match"), `W/"`)

	updated, err := s.repo.Update(c.Request().Context(), resourceType, resource, ifMatch)
	if err != nil {
		return writeError(c, err)
	}

	baseURL := baseURLFrom(c)
	setVersionHeaders(c, baseURL, resourceType, id, metaVersion(updated), metaLastUpdated(updated))
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDelete(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")
	if err := s.repo.Delete(c.Request().Context(), resourceType, id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleVersionRead(c echo.Context) error {
	resourceType, id, vid := c.Param("type"), c.Param("id"), c.Param("vid")
	resource, err := s.repo.ReadVersion(c.Request().Context(), resourceType, id, vid)
	if err != nil {
		return writeError(c, err)
	}
	baseURL := baseURLFrom(c)
	setVersionHeaders(c, baseURL, resourceType, id, metaVersion(resource), metaLastUpdated(resource))
	return c.JSON(http.StatusOK, resource)
}

func (s *Server) handleSearch(c echo.Context) error {
	resourceType := c.Param("type")
	values, err := url.ParseQuery(c.QueryString())
	if err != nil {
		return writeError(c, apperror.Invalidf("invalid query string: %v", err))
	}

	req := search.Parse(resourceType, values)
	bundle, err := s.engine.Execute(c.Request().Context(), req, baseURLFrom(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}
