// Package repository implements CRUD, versioned history, and
// transaction-bundle persistence for FHIR resources against PostgreSQL,
// driven by the registry's resolved search parameters and the
// schema/rowbuilder/sqlbuilder packages.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/fhirstore/internal/apperror"
	dbplatform "github.com/ehr/fhirstore/internal/platform/db"
	"github.com/ehr/fhirstore/internal/registry"
	"github.com/ehr/fhirstore/internal/rowbuilder"
	"github.com/ehr/fhirstore/internal/sqlbuilder"
)

// serializationFailureSQLState is the PostgreSQL SQLSTATE raised when a
// SERIALIZABLE (or REPEATABLE READ) transaction cannot be committed due to a
// conflicting concurrent transaction.
const serializationFailureSQLState = "40001"

// executor is the subset of pgxpool.Pool and pgx.Tx the repository needs,
// letting every query method run identically whether or not it's inside a
// caller-managed transaction.
type executor interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Repository is the resource persistence engine: CRUD, history, and
// transaction-bundle operations for every resource type the registry knows
// about.
type Repository struct {
	pool      *pgxpool.Pool
	reg       *registry.Registry
	validator Validator
}

func New(pool *pgxpool.Pool, reg *registry.Registry) *Repository {
	return &Repository{pool: pool, reg: reg}
}

// SetValidator installs the external validator invoked on every create and
// update. A nil validator (the default) skips validation entirely.
func (r *Repository) SetValidator(v Validator) {
	r.validator = v
}

func (r *Repository) runValidator(resourceType string, resource map[string]interface{}) error {
	if r.validator == nil {
		return nil
	}
	result, err := r.validator(resourceType, resource)
	if err != nil {
		return apperror.Wrap(apperror.InvalidInput, "validation failed", err)
	}
	var diags []string
	for _, issue := range result.Issues {
		if issue.Severity == "error" {
			diags = append(diags, issue.Diagnostics)
		}
	}
	if len(diags) > 0 {
		return apperror.Invalidf("%s", strings.Join(diags, "; "))
	}
	return nil
}

func (r *Repository) exec(ctx context.Context) executor {
	if tx := dbplatform.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// Create assigns a UUID when assignedID is empty, stamps meta.versionId and
// meta.lastUpdated, writes the main row and the first history row in one
// transaction, and refreshes the resource's outbound reference rows.
func (r *Repository) Create(ctx context.Context, resourceType string, resource map[string]interface{}, assignedID string) (map[string]interface{}, error) {
	id := assignedID
	if id == "" {
		id = uuid.NewString()
	}
	resource["id"] = id
	resource["resourceType"] = resourceType

	if err := r.runValidator(resourceType, resource); err != nil {
		return nil, err
	}

	versionID := uuid.NewString()
	now := time.Now().UTC()
	stampMeta(resource, versionID, now)

	if err := r.writeVersion(ctx, resourceType, id, versionID, now, resource, false); err != nil {
		return nil, err
	}
	return resource, nil
}

// Read returns the latest live resource, or apperror.NotFound /
// apperror.Gone when absent or tombstoned. When ctx carries an
// OperationContext that isn't SuperAdmin, a resource stamped with a
// different project is reported as NotFound rather than leaking its
// existence across tenants.
func (r *Repository) Read(ctx context.Context, resourceType, id string) (map[string]interface{}, error) {
	stmt := sqlbuilder.SelectByID(resourceType, id)
	row := r.exec(ctx).QueryRow(ctx, stmt.SQL, stmt.Args...)

	var content map[string]interface{}
	var deleted bool
	var projectID *string
	if err := row.Scan(&content, &deleted, &projectID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFoundf("%s/%s not found", resourceType, id)
		}
		return nil, apperror.Wrap(apperror.DatabaseError, "read resource", err)
	}

	oc := operationFromContext(ctx)
	if oc.Project != "" && !oc.SuperAdmin {
		if projectID == nil || *projectID != oc.Project {
			return nil, apperror.NotFoundf("%s/%s not found", resourceType, id)
		}
	}

	if deleted {
		return nil, apperror.New(apperror.Gone, resourceType+"/"+id+" has been deleted")
	}
	return content, nil
}

// Update requires resource["id"] to be set. When ifMatchVersion is
// non-empty, it must equal the resource's current versionId or Update
// signals apperror.VersionConflict (optimistic concurrency).
func (r *Repository) Update(ctx context.Context, resourceType string, resource map[string]interface{}, ifMatchVersion string) (map[string]interface{}, error) {
	id, _ := resource["id"].(string)
	if id == "" {
		return nil, apperror.Invalidf("update requires resource.id")
	}

	if ifMatchVersion != "" {
		current, err := r.Read(ctx, resourceType, id)
		if err != nil {
			return nil, err
		}
		currentVersion := metaVersion(current)
		if currentVersion != ifMatchVersion {
			return nil, apperror.New(apperror.VersionConflict, "version mismatch: expected "+ifMatchVersion+", found "+currentVersion)
		}
	}

	if err := r.runValidator(resourceType, resource); err != nil {
		return nil, err
	}

	versionID := uuid.NewString()
	now := time.Now().UTC()
	stampMeta(resource, versionID, now)

	if err := r.writeVersion(ctx, resourceType, id, versionID, now, resource, false); err != nil {
		return nil, err
	}
	return resource, nil
}

// Delete soft-deletes a resource: sets deleted=true, clears content, and
// appends a tombstone history row carrying an empty content and a fresh
// versionId. All reference rows for resourceId are removed.
func (r *Repository) Delete(ctx context.Context, resourceType, id string) error {
	versionID := uuid.NewString()
	now := time.Now().UTC()
	return r.writeVersion(ctx, resourceType, id, versionID, now, nil, true)
}

// ReadVersion performs a direct history lookup, returning apperror.NotFound
// when the (id, versionId) pair is absent.
func (r *Repository) ReadVersion(ctx context.Context, resourceType, id, versionID string) (map[string]interface{}, error) {
	stmt := sqlbuilder.VersionSelect(resourceType+"_History", id, versionID)
	row := r.exec(ctx).QueryRow(ctx, stmt.SQL, stmt.Args...)

	var content map[string]interface{}
	if err := row.Scan(&content); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFoundf("%s/%s version %s not found", resourceType, id, versionID)
		}
		return nil, apperror.Wrap(apperror.DatabaseError, "read version", err)
	}
	return content, nil
}

// HistoryEntry is one row of a resource's version history.
type HistoryEntry struct {
	ID          string
	VersionID   string
	LastUpdated time.Time
	Content     map[string]interface{}
}

// ReadHistory returns a resource type's version history, instance-level
// when id is non-nil, applying opts' _since/cursor/_count bounds.
func (r *Repository) ReadHistory(ctx context.Context, resourceType string, id *string, opts sqlbuilder.HistoryOptions) ([]HistoryEntry, error) {
	var stmt sqlbuilder.Statement
	if id != nil {
		stmt = sqlbuilder.InstanceHistory(resourceType+"_History", *id, opts)
	} else {
		stmt = sqlbuilder.TypeHistory(resourceType+"_History", opts)
	}

	rows, err := r.exec(ctx).Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, apperror.Wrap(apperror.DatabaseError, "read history", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.VersionID, &e.LastUpdated, &e.Content); err != nil {
			return nil, apperror.Wrap(apperror.DatabaseError, "scan history row", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunInTransaction runs fn with a transaction attached to ctx, retrying the
// whole attempt on a PostgreSQL serialization failure (SQLSTATE 40001) with
// exponential backoff: 100ms, 200ms, 400ms, up to 3 retries. A ctx that
// already carries a transaction (e.g. one entry of a transaction Bundle
// running inside ProcessTransaction's outer RunInTransaction) runs fn
// directly against it instead of opening a nested transaction, so every
// entry commits or rolls back together with the bundle.
func (r *Repository) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := dbplatform.TxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	return retryOnSerializationFailure(ctx, func() error {
		var tx pgx.Tx
		var err error
		if conn := dbplatform.ConnFromContext(ctx); conn != nil {
			tx, err = conn.Begin(ctx)
		} else {
			tx, err = r.pool.Begin(ctx)
		}
		if err != nil {
			return apperror.Wrap(apperror.DatabaseError, "begin transaction", err)
		}
		txCtx := context.WithValue(ctx, dbplatform.DBTxKey, tx)

		if err := fn(txCtx); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return classifyCommitError(err)
		}
		return nil
	})
}

// writeVersion performs the ordered write sequence for a create/update/
// delete: upsert the main row, insert the history row, then refresh
// reference rows, all inside one transaction.
func (r *Repository) writeVersion(ctx context.Context, resourceType, id, versionID string, lastUpdated time.Time, resource map[string]interface{}, tombstone bool) error {
	impls := r.reg.SearchParamsFor(resourceType)

	return r.RunInTransaction(ctx, func(ctx context.Context) error {
		ex := r.exec(ctx)

		var mainRow rowbuilder.MainRow
		var compartments []string
		if tombstone {
			mainRow = rowbuilder.MainRow{ID: id, VersionID: versionID, LastUpdated: lastUpdated, Deleted: true}
		} else {
			mainRow = rowbuilder.BuildRow(resourceType, resource, impls)
			mainRow.VersionID = versionID
			mainRow.LastUpdated = lastUpdated
			mainRow.Content = resource
			compartments = rowbuilder.BuildCompartments(resourceType, id, resource, impls)
		}

		oc := operationFromContext(ctx)
		var projectID *string
		if oc.Project != "" {
			projectID = &oc.Project
		}

		cols := []string{"id", "versionId", "lastUpdated", "deleted", "content", "compartments", "projectId"}
		vals := []interface{}{mainRow.ID, mainRow.VersionID, mainRow.LastUpdated, mainRow.Deleted, mainRow.Content, compartments, projectID}
		for col, val := range mainRow.SearchCols {
			cols = append(cols, col)
			vals = append(vals, val)
		}

		upsert := sqlbuilder.Upsert(resourceType, cols, vals)
		if _, err := ex.Exec(ctx, upsert.SQL, upsert.Args...); err != nil {
			return apperror.Wrap(apperror.DatabaseError, "upsert main row", err)
		}

		historyCols := []string{"id", "versionId", "lastUpdated", "content"}
		var historyContent map[string]interface{}
		if !tombstone {
			historyContent = resource
		}
		insert := sqlbuilder.Insert(resourceType+"_History", historyCols, []interface{}{id, versionID, lastUpdated, historyContent})
		if _, err := ex.Exec(ctx, insert.SQL, insert.Args...); err != nil {
			return apperror.Wrap(apperror.DatabaseError, "insert history row", err)
		}

		del := sqlbuilder.DeleteReferences(resourceType+"_References", id)
		if _, err := ex.Exec(ctx, del.SQL, del.Args...); err != nil {
			return apperror.Wrap(apperror.DatabaseError, "clear reference rows", err)
		}
		if !tombstone {
			for _, ref := range rowbuilder.BuildReferences(id, resource, impls) {
				insertRef := sqlbuilder.InsertReference(resourceType+"_References", ref.ResourceID, ref.TargetID, ref.Code)
				if _, err := ex.Exec(ctx, insertRef.SQL, insertRef.Args...); err != nil {
					return apperror.Wrap(apperror.DatabaseError, "insert reference row", err)
				}
			}
		}
		return nil
	})
}

func stampMeta(resource map[string]interface{}, versionID string, lastUpdated time.Time) {
	meta, ok := resource["meta"].(map[string]interface{})
	if !ok {
		meta = make(map[string]interface{})
	}
	meta["versionId"] = versionID
	meta["lastUpdated"] = lastUpdated.Format(time.RFC3339)
	resource["meta"] = meta
}

func metaVersion(resource map[string]interface{}) string {
	meta, ok := resource["meta"].(map[string]interface{})
	if !ok {
		return ""
	}
	v, _ := meta["versionId"].(string)
	return v
}

func classifyCommitError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailureSQLState {
		return apperror.Wrap(apperror.SerializationFailure, "transaction commit conflict", err)
	}
	return apperror.Wrap(apperror.DatabaseError, "commit transaction", err)
}
