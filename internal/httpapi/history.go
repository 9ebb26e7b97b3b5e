package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirstore/internal/fhirmodel"
	"github.com/ehr/fhirstore/internal/sqlbuilder"
)

func historyOptionsFrom(c echo.Context) sqlbuilder.HistoryOptions {
	opts := sqlbuilder.HistoryOptions{Count: 20}
	if since := c.QueryParam("_since"); since != "" {
		opts.Since = &since
	}
	if cursor := c.QueryParam("cursor"); cursor != "" {
		opts.Cursor = &cursor
	}
	if raw := c.QueryParam("_count"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			opts.Count = n
		}
	}
	return opts
}

func historyBundle(entries []historyEntryView, baseURL string) *fhirmodel.Bundle {
	out := make([]fhirmodel.BundleEntry, 0, len(entries))
	for _, e := range entries {
		raw, _ := fhirmodel.MarshalResource(e.content)
		out = append(out, fhirmodel.BundleEntry{
			FullURL: baseURL + "/" + e.resourceType + "/" + e.id,
			Resource: raw,
		})
	}
	return &fhirmodel.Bundle{ResourceType: "Bundle", Type: "history", Entry: out}
}

type historyEntryView struct {
	resourceType string
	id           string
	content      map[string]interface{}
}

func (s *Server) handleHistory(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")
	entries, err := s.repo.ReadHistory(c.Request().Context(), resourceType, &id, historyOptionsFrom(c))
	if err != nil {
		return writeError(c, err)
	}
	views := make([]historyEntryView, len(entries))
	for i, e := range entries {
		views[i] = historyEntryView{resourceType: resourceType, id: e.ID, content: e.Content}
	}
	return c.JSON(http.StatusOK, historyBundle(views, baseURLFrom(c)))
}

func (s *Server) handleTypeHistory(c echo.Context) error {
	resourceType := c.Param("type")
	entries, err := s.repo.ReadHistory(c.Request().Context(), resourceType, nil, historyOptionsFrom(c))
	if err != nil {
		return writeError(c, err)
	}
	views := make([]historyEntryView, len(entries))
	for i, e := range entries {
		views[i] = historyEntryView{resourceType: resourceType, id: e.ID, content: e.Content}
	}
	return c.JSON(http.StatusOK, historyBundle(views, baseURLFrom(c)))
}
