package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirstore/internal/fhirmodel"
)

// fhirContentType is the wire format §6 mandates for every response.
const fhirContentType = "application/fhir+json; charset=utf-8"

// contentNegotiation rejects XML (out of scope) and stamps every response
// Content-Type as FHIR JSON, checking `_format` before falling back to
// Accept, matching FHIR's documented negotiation order.
func contentNegotiation() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if format := c.QueryParam("_format"); format != "" {
				switch {
				case isXMLFormat(format):
					return c.JSON(http.StatusNotAcceptable, fhirmodel.ErrorOutcome("XML is not supported; use application/fhir+json"))
				case isJSONFormat(format):
					c.Response().Header().Set(echo.HeaderContentType, fhirContentType)
					return next(c)
				default:
					return c.JSON(http.StatusNotAcceptable, fhirmodel.ErrorOutcome("unsupported _format value: "+format))
				}
			}

			if accept := c.Request().Header.Get("Accept"); accept != "" {
				if !negotiateAccept(accept) {
					return c.JSON(http.StatusNotAcceptable, fhirmodel.ErrorOutcome("Accept header has no supported FHIR content type"))
				}
			}

			c.Response().Header().Set(echo.HeaderContentType, fhirContentType)
			return next(c)
		}
	}
}

func normalizeFormat(raw string) string {
	f := strings.TrimSpace(strings.ToLower(raw))
	f = strings.ReplaceAll(f, "fhir json", "fhir+json")
	f = strings.ReplaceAll(f, "fhir xml", "fhir+xml")
	return f
}

func isJSONFormat(format string) bool {
	switch normalizeFormat(format) {
	case "json", "application/json", "application/fhir+json":
		return true
	}
	return false
}

func isXMLFormat(format string) bool {
	switch normalizeFormat(format) {
	case "xml", "application/xml", "application/fhir+xml":
		return true
	}
	return false
}

func negotiateAccept(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		mediaType = strings.ToLower(mediaType)
		switch mediaType {
		case "application/fhir+json", "application/json", "json", "*/*":
			return true
		}
	}
	return false
}
