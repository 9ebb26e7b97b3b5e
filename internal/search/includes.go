package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/ehr/fhirstore/internal/apperror"
	"github.com/ehr/fhirstore/internal/sqlbuilder"
)

type includeKey struct {
	Type string
	ID   string
}

// resolveIncludes expands req.Include/req.RevInclude against the primary
// matches, looping when any spec carries :iterate so resources loaded by
// one pass participate in the next, until no pass adds a resource the
// seen-set hasn't already recorded.
func (e *Engine) resolveIncludes(ctx context.Context, req *SearchRequest, matches []matchedResource) ([]map[string]interface{}, error) {
	if len(req.Include) == 0 && len(req.RevInclude) == 0 {
		return nil, nil
	}

	seen := make(map[includeKey]bool, len(matches))
	for _, m := range matches {
		seen[includeKey{req.ResourceType, m.ID}] = true
	}

	iterate := anyIterate(req.Include) || anyIterate(req.RevInclude)
	frontier := frontierFrom(req.ResourceType, matches)

	var included []map[string]interface{}
	for {
		pass, err := e.resolvePass(ctx, req.ResourceType, frontier, req.Include, req.RevInclude, seen)
		if err != nil {
			return nil, err
		}
		if len(pass) == 0 {
			break
		}
		included = append(included, pass...)
		if !iterate {
			break
		}
		frontier = frontierFromResources(pass)
	}
	return included, nil
}

func anyIterate(specs []IncludeSpec) bool {
	for _, s := range specs {
		if s.Iterate {
			return true
		}
	}
	return false
}

type frontierItem struct {
	Type string
	ID   string
}

func frontierFrom(resourceType string, matches []matchedResource) []frontierItem {
	out := make([]frontierItem, len(matches))
	for i, m := range matches {
		out[i] = frontierItem{Type: resourceType, ID: m.ID}
	}
	return out
}

func frontierFromResources(resources []map[string]interface{}) []frontierItem {
	var out []frontierItem
	for _, r := range resources {
		rt, _ := r["resourceType"].(string)
		id, _ := r["id"].(string)
		if rt != "" && id != "" {
			out = append(out, frontierItem{Type: rt, ID: id})
		}
	}
	return out
}

func (e *Engine) resolvePass(ctx context.Context, primaryType string, frontier []frontierItem, include, revinclude []IncludeSpec, seen map[includeKey]bool) ([]map[string]interface{}, error) {
	byType := make(map[string][]string)
	for _, f := range frontier {
		byType[f.Type] = append(byType[f.Type], f.ID)
	}

	var pass []map[string]interface{}

	for _, spec := range include {
		if spec.Wildcard {
			loaded, err := e.resolveWildcardInclude(ctx, frontier, seen)
			if err != nil {
				return nil, err
			}
			pass = append(pass, loaded...)
			continue
		}
		ids, ok := byType[spec.SourceType]
		if !ok {
			continue
		}
		loaded, err := e.resolveInclude(ctx, spec, ids, seen)
		if err != nil {
			return nil, err
		}
		pass = append(pass, loaded...)
	}

	for _, spec := range revinclude {
		ids := matchIDsForTypes(byType, e.targetTypesOf(spec, primaryType))
		if len(ids) == 0 {
			continue
		}
		loaded, err := e.resolveRevInclude(ctx, spec, ids, seen)
		if err != nil {
			return nil, err
		}
		pass = append(pass, loaded...)
	}

	return pass, nil
}

// targetTypesOf returns the candidate resource types a revinclude's matched
// set must belong to: the explicit TargetType when given, otherwise
// primaryType (the searched resource type, which FHIR's own
// "_revinclude=Source:param[:TargetType]" template defaults to when
// TargetType is omitted) plus every type the registry's Source:param search
// parameter lists as a reference target.
func (e *Engine) targetTypesOf(spec IncludeSpec, primaryType string) []string {
	if spec.TargetType != "" {
		return []string{spec.TargetType}
	}
	types := []string{primaryType}
	if impl, ok := e.reg.SearchParamImpl(spec.SourceType, spec.Param); ok {
		for _, t := range impl.Target {
			if t != primaryType {
				types = append(types, t)
			}
		}
	}
	return types
}

// matchIDsForTypes collects the frontier ids of every type in types.
func matchIDsForTypes(byType map[string][]string, types []string) []string {
	var ids []string
	for _, t := range types {
		ids = append(ids, byType[t]...)
	}
	return ids
}

// resolveInclude loads the targets of Source:param for the given source
// ids, grouped by candidate target type (the spec's explicit TargetType, or
// every type the registry lists for that reference parameter).
func (e *Engine) resolveInclude(ctx context.Context, spec IncludeSpec, sourceIDs []string, seen map[includeKey]bool) ([]map[string]interface{}, error) {
	impl, ok := e.reg.SearchParamImpl(spec.SourceType, spec.Param)
	if !ok {
		return nil, apperror.Invalidf("_include references unknown search parameter %s:%s", spec.SourceType, spec.Param)
	}

	targetIDs, err := e.lookupTargetIDs(ctx, spec.SourceType, impl.Code, sourceIDs)
	if err != nil {
		return nil, err
	}
	if len(targetIDs) == 0 {
		return nil, nil
	}

	candidateTypes := impl.Target
	if spec.TargetType != "" {
		candidateTypes = []string{spec.TargetType}
	}

	var loaded []map[string]interface{}
	for _, t := range candidateTypes {
		resources, err := e.loadByIDs(ctx, t, targetIDs, seen)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, resources...)
	}
	return loaded, nil
}

// resolveRevInclude loads Source-typed resources that reference any of the
// current matches via param, joining Source's references table.
func (e *Engine) resolveRevInclude(ctx context.Context, spec IncludeSpec, matchedIDs []string, seen map[includeKey]bool) ([]map[string]interface{}, error) {
	sql := fmt.Sprintf(
		`SELECT s."id", s."content" FROM %s s JOIN %s r ON r."resourceId" = s."id" WHERE r."code" = $1 AND r."targetId" = ANY($2) AND s."deleted" = false`,
		sqlbuilder.QuoteIdent(spec.SourceType), sqlbuilder.QuoteIdent(spec.SourceType+"_References"),
	)
	rows, err := e.queryFor(ctx).Query(ctx, sql, spec.Param, matchedIDs)
	if err != nil {
		return nil, apperror.Wrap(apperror.DatabaseError, "resolve _revinclude", err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		var id string
		var content map[string]interface{}
		if err := rows.Scan(&id, &content); err != nil {
			return nil, apperror.Wrap(apperror.DatabaseError, "scan _revinclude row", err)
		}
		key := includeKey{spec.SourceType, id}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, content)
	}
	return out, rows.Err()
}

// resolveWildcardInclude scans every reference field of the frontier's
// already-loaded resources. Since the frontier here is identified only by
// (type, id), the wildcard pass re-reads each resource's content and walks
// it, skipping "#" fragment and "urn:" references, parsing "Type/id" refs
// directly.
func (e *Engine) resolveWildcardInclude(ctx context.Context, frontier []frontierItem, seen map[includeKey]bool) ([]map[string]interface{}, error) {
	var loaded []map[string]interface{}
	for _, f := range frontier {
		resource, err := e.fetchContent(ctx, f.Type, f.ID)
		if err != nil || resource == nil {
			continue
		}
		for _, ref := range extractAllReferences(resource) {
			rt, id, ok := splitReference(ref)
			if !ok {
				continue
			}
			key := includeKey{rt, id}
			if seen[key] {
				continue
			}
			target, err := e.fetchContent(ctx, rt, id)
			if err != nil || target == nil {
				continue
			}
			seen[key] = true
			loaded = append(loaded, target)
		}
	}
	return loaded, nil
}

func (e *Engine) lookupTargetIDs(ctx context.Context, sourceType, code string, sourceIDs []string) ([]string, error) {
	sql := fmt.Sprintf(`SELECT DISTINCT "targetId" FROM %s WHERE "code" = $1 AND "resourceId" = ANY($2)`, sqlbuilder.QuoteIdent(sourceType+"_References"))
	rows, err := e.queryFor(ctx).Query(ctx, sql, code, sourceIDs)
	if err != nil {
		return nil, apperror.Wrap(apperror.DatabaseError, "resolve _include targets", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperror.Wrap(apperror.DatabaseError, "scan _include target id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (e *Engine) loadByIDs(ctx context.Context, resourceType string, ids []string, seen map[includeKey]bool) ([]map[string]interface{}, error) {
	sql := fmt.Sprintf(`SELECT "id","content" FROM %s WHERE "id" = ANY($1) AND "deleted" = false`, sqlbuilder.QuoteIdent(resourceType))
	rows, err := e.queryFor(ctx).Query(ctx, sql, ids)
	if err != nil {
		return nil, apperror.Wrap(apperror.DatabaseError, "load _include targets", err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		var id string
		var content map[string]interface{}
		if err := rows.Scan(&id, &content); err != nil {
			return nil, apperror.Wrap(apperror.DatabaseError, "scan _include target", err)
		}
		key := includeKey{resourceType, id}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, content)
	}
	return out, rows.Err()
}

func (e *Engine) fetchContent(ctx context.Context, resourceType, id string) (map[string]interface{}, error) {
	stmt := sqlbuilder.SelectByID(resourceType, id)
	row := e.queryFor(ctx).QueryRow(ctx, stmt.SQL, stmt.Args...)
	var content map[string]interface{}
	var deleted bool
	var projectID *string
	if err := row.Scan(&content, &deleted, &projectID); err != nil {
		return nil, nil
	}
	if deleted {
		return nil, nil
	}
	return content, nil
}

// extractAllReferences walks resource and returns every reference string,
// skipping "#" fragment and "urn:" references (neither resolves to a
// loadable row).
func extractAllReferences(resource map[string]interface{}) []string {
	var refs []string
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case map[string]interface{}:
			if ref, ok := val["reference"].(string); ok {
				if !strings.HasPrefix(ref, "#") && !strings.HasPrefix(ref, "urn:") {
					refs = append(refs, ref)
				}
			}
			for _, child := range val {
				walk(child)
			}
		case []interface{}:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(resource)
	return refs
}

func splitReference(ref string) (resourceType, id string, ok bool) {
	i := strings.IndexByte(ref, '/')
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}
