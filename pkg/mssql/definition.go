package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// GetProcedureDefinition retrieves the T-SQL source of a stored procedure.
//
// Four strategies are tried in order: the catalog view definition, the
// generic OBJECT_DEFINITION lookup, the sp_helptext reconstruction routine,
// and finally giving up. When all fail the error distinguishes an encrypted
// module (ErrDefinitionEncrypted) from a missing object or insufficient
// permission, so callers can react differently.
func (s *Service) GetProcedureDefinition(ctx context.Context, procedure, database string, timeout time.Duration) (string, error) {
	if strings.TrimSpace(procedure) == "" {
		return "", fmt.Errorf("procedure name: %w", ErrEmptyInput)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.effectiveTimeout(ctx, timeout))
	defer cancel()

	cat, err := s.acquireCatalog(opCtx, database)
	if err != nil {
		return "", err
	}
	defer cat.release()

	schema, name := parseObjectName(procedure)

	exists, err := s.procedureExists(opCtx, cat.q, schema, name)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &NotFoundError{Kind: "stored procedure", Name: schema + "." + name}
	}

	if def, ok := s.definitionFromModules(opCtx, cat.q, schema, name); ok {
		return def, nil
	}
	if def, ok := s.definitionFromObjectDefinition(opCtx, cat.q, schema, name); ok {
		return def, nil
	}
	if def, ok := s.definitionFromHelptext(opCtx, cat.q, schema, name); ok {
		return def, nil
	}

	if s.moduleIsEncrypted(opCtx, cat.q, schema, name) {
		return "", fmt.Errorf("procedure %s.%s: %w", schema, name, ErrDefinitionEncrypted)
	}
	return "", fmt.Errorf("procedure %s.%s: %w", schema, name, ErrDefinitionUnavailable)
}

// definitionFromModules reads sys.sql_modules, the primary source.
func (s *Service) definitionFromModules(ctx context.Context, q querier, schema, name string) (string, bool) {
	var def sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT m.definition
		FROM sys.procedures p
		JOIN sys.schemas s ON p.schema_id = s.schema_id
		LEFT JOIN sys.sql_modules m ON p.object_id = m.object_id
		WHERE s.name = @schema AND p.name = @name`,
		sql.Named("schema", schema), sql.Named("name", name)).Scan(&def)
	if err != nil {
		s.log.Debug().Err(err).Msg("sys.sql_modules definition lookup failed")
		return "", false
	}
	if !def.Valid || strings.TrimSpace(def.String) == "" {
		return "", false
	}
	return def.String, true
}

// definitionFromObjectDefinition falls back to the generic metadata function,
// which applies its own permission rules.
func (s *Service) definitionFromObjectDefinition(ctx context.Context, q querier, schema, name string) (string, bool) {
	var def sql.NullString
	err := q.QueryRowContext(ctx,
		"SELECT OBJECT_DEFINITION(OBJECT_ID(@qualified))",
		sql.Named("qualified", quoteIdent(schema)+"."+quoteIdent(name))).Scan(&def)
	if err != nil {
		s.log.Debug().Err(err).Msg("OBJECT_DEFINITION lookup failed")
		return "", false
	}
	if !def.Valid || strings.TrimSpace(def.String) == "" {
		return "", false
	}
	return def.String, true
}

// definitionFromHelptext reconstructs the text via sp_helptext, which
// sometimes succeeds where the catalog views return nothing.
func (s *Service) definitionFromHelptext(ctx context.Context, q querier, schema, name string) (string, bool) {
	rows, err := q.QueryContext(ctx, "EXEC sp_helptext @objname = @objname",
		sql.Named("objname", schema+"."+name))
	if err != nil {
		s.log.Debug().Err(err).Msg("sp_helptext lookup failed")
		return "", false
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", false
		}
		b.WriteString(line)
	}
	if rows.Err() != nil || strings.TrimSpace(b.String()) == "" {
		return "", false
	}
	return b.String(), true
}

// moduleIsEncrypted checks whether the module body is stored encrypted,
// which is why every retrieval strategy came back empty.
func (s *Service) moduleIsEncrypted(ctx context.Context, q querier, schema, name string) bool {
	var encrypted sql.NullInt64
	err := q.QueryRowContext(ctx,
		"SELECT OBJECTPROPERTY(OBJECT_ID(@qualified), 'IsEncrypted')",
		sql.Named("qualified", quoteIdent(schema)+"."+quoteIdent(name))).Scan(&encrypted)
	if err != nil {
		return false
	}
	return encrypted.Valid && encrypted.Int64 == 1
}
