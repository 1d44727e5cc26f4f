// Package dbtools wires the database-server tool surface to the MCP
// registry: every db_* tool is a thin layer composing internal/dbpool,
// internal/query, internal/migrate, internal/dataimport and
// internal/subscription. Direct Tool mode registers these; the same
// executors back Code-API mode's query/streamAggregate helpers via
// internal/sandbox/capabilities.go.
package dbtools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/pulsegrid/mcpcore/internal/audit"
	"github.com/pulsegrid/mcpcore/internal/dataimport"
	"github.com/pulsegrid/mcpcore/internal/dbpool"
	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/migrate"
	"github.com/pulsegrid/mcpcore/internal/policy"
	"github.com/pulsegrid/mcpcore/internal/query"
	"github.com/pulsegrid/mcpcore/internal/registry"
	"github.com/pulsegrid/mcpcore/internal/rpc"
	"github.com/pulsegrid/mcpcore/internal/subscription"
	"github.com/pulsegrid/mcpcore/internal/tenant"
	"github.com/pulsegrid/mcpcore/internal/toolguard"
)

// Deps bundles everything the db_* tools need. Constructed once in
// cmd/mcpcore-db and passed in; no package-level state.
type Deps struct {
	Manager        *dbpool.Manager
	Executor       *query.Executor
	Policy         *policy.Engine
	Audit          *audit.Logger
	Hub            *subscription.Hub
	Tenants        *tenant.Registry
	MigrationsDir  string
	AcquireTimeout time.Duration
	ConfirmTTL     time.Duration
	StreamBatchSize int
}

// Register wires every db_* tool and db:// resource into reg.
func Register(reg *registry.Registry, deps Deps) error {
	if deps.AcquireTimeout <= 0 {
		deps.AcquireTimeout = 10 * time.Second
	}
	if deps.ConfirmTTL <= 0 {
		deps.ConfirmTTL = 5 * time.Minute
	}
	guard := toolguard.New(deps.Policy, deps.Audit, "connectionId", deps.ConfirmTTL)
	t := &toolset{deps: deps}

	for _, reg2 := range []struct {
		tool rpc.Tool
		exec registry.Executor
	}{
		{connectionAddTool(), t.connectionAdd},
		{connectionSwitchTool(), guard.Wrap("db_connection_switch", t.connectionSwitch)},
		{connectionShutdownTool(), guard.Wrap("db_connection_shutdown", t.connectionShutdown)},
		{queryTool(), t.query},
		{queryStreamTool(), t.queryStream},
		{batchTool(), t.batch},
		{explainTool(), t.explain},
		{schemaTablesTool(), t.schemaTables},
		{schemaColumnsTool(), t.schemaColumns},
		{migrationApplyTool(), guard.Wrap("db_migration_apply", t.migrationApply)},
		{migrationStatusTool(), t.migrationStatus},
		{dataImportTool(), guard.Wrap("db_data_import", t.dataImport)},
		{subscribeTool(), t.subscribe},
		{unsubscribeTool(), t.unsubscribe},
		{pollTool(), t.poll},
		{confirmTool(), guard.Confirm},
	} {
		if err := reg.RegisterTool(reg2.tool, reg2.exec); err != nil {
			return err
		}
	}

	resources := []struct {
		resource rpc.Resource
		read     registry.ResourceReader
	}{
		{rpc.Resource{URI: "db://schema", Name: "schema", MimeType: "application/json"}, t.readSchema},
		{rpc.Resource{URI: "db://connections", Name: "connections", MimeType: "application/json"}, t.readConnections},
		{rpc.Resource{URI: "db://health", Name: "health", MimeType: "application/json"}, t.readHealth},
	}
	for _, r := range resources {
		if err := reg.RegisterResource(r.resource, r.read); err != nil {
			return err
		}
	}

	prompts := []struct {
		prompt rpc.Prompt
		render registry.PromptRenderer
	}{
		{explainSchemaPrompt(), renderExplainSchema},
		{slowQueryPrompt(), renderSlowQuery},
	}
	for _, p := range prompts {
		if err := reg.RegisterPrompt(p.prompt, p.render); err != nil {
			return err
		}
	}
	return nil
}

func renderExplainSchema(args map[string]string) (rpc.GetPromptResult, error) {
	text := "Use db_schema_tables and db_schema_columns to enumerate the connected database's schema, then explain what each table stores and how the tables relate to each other."
	if table := args["table"]; table != "" {
		text = fmt.Sprintf("Use db_schema_columns with table=%q and explain what the table stores, its key columns, and how other tables reference it.", table)
	}
	return rpc.GetPromptResult{
		Description: "Schema walkthrough",
		Messages:    []rpc.PromptMessage{{Role: "user", Content: rpc.NewTextContent(text)}},
	}, nil
}

func renderSlowQuery(args map[string]string) (rpc.GetPromptResult, error) {
	sql := args["sql"]
	if sql == "" {
		return rpc.GetPromptResult{}, mcperrors.New(mcperrors.InvalidArgument, "sql argument is required")
	}
	text := fmt.Sprintf("Run db_explain on the following statement, identify the most expensive plan nodes, and suggest indexes or rewrites that would reduce its cost:\n\n%s", sql)
	return rpc.GetPromptResult{
		Description: "Slow-query investigation",
		Messages:    []rpc.PromptMessage{{Role: "user", Content: rpc.NewTextContent(text)}},
	}, nil
}

type toolset struct {
	deps Deps
}

// acquire resolves the pool to check out from: a tenant's ConnectionOverride
// if one is configured and known to Manager, otherwise the active
// connection. tenant.go documents ConnectionOverride as exactly this kind
// of per-tenant routing, previously left unconsulted.
func (t *toolset) acquire(ctx context.Context, args map[string]any) (*pgxpool.Conn, *dbpool.Connection, error) {
	tenantID, _ := args["tenantId"].(string)
	if tenantID != "" && t.deps.Tenants != nil {
		if tn, err := t.deps.Tenants.Get(tenantID); err == nil && tn.ConnectionOverride != "" {
			if dbConn, ok := t.deps.Manager.Get(tn.ConnectionOverride); ok {
				return t.deps.Manager.AcquireFrom(ctx, dbConn, t.deps.AcquireTimeout)
			}
		}
	}
	return t.deps.Manager.Acquire(ctx, t.deps.AcquireTimeout)
}

func (t *toolset) connectionAdd(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	connString, _ := args["connectionString"].(string)
	id, _ := args["id"].(string)
	if connString == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "connectionString is required")), nil
	}
	if id == "" {
		id = fmt.Sprintf("conn-%d", time.Now().UnixNano())
	}
	if err := t.deps.Manager.AddConnection(ctx, id, connString); err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"id": id, "active": t.deps.Manager.ActiveID() == id}), nil
}

func (t *toolset) connectionSwitch(_ context.Context, args map[string]any) (rpc.CallToolResult, error) {
	id, _ := args["connectionId"].(string)
	if err := t.deps.Manager.SwitchConnection(id); err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"active": id}), nil
}

func (t *toolset) connectionShutdown(_ context.Context, _ map[string]any) (rpc.CallToolResult, error) {
	t.deps.Manager.Shutdown()
	return rpc.JSONResult(map[string]any{"shutdown": true}), nil
}

func (t *toolset) query(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	req, err := requestFromArgs(args)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	conn, dbConn, err := t.acquire(ctx, args)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	defer conn.Release()
	req.ConnectionID = dbConn.ID

	result, err := t.deps.Executor.Run(ctx, conn, req)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{
		"rows":     result.Rows,
		"rowCount": result.RowCount,
		"fields":   result.Fields,
		"elapsed":  result.Elapsed.String(),
		"cacheHit": result.CacheHit,
	}), nil
}

// queryStream runs the query and chunks its (already-materialized) rows
// into batches of the configured size, the closest a request/response
// transport gets to a live cursor.
func (t *toolset) queryStream(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	req, err := requestFromArgs(args)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	batchSize := t.deps.StreamBatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	if n, ok := args["batchSize"].(float64); ok && n > 0 {
		batchSize = int(n)
	}

	conn, dbConn, err := t.acquire(ctx, args)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	defer conn.Release()
	req.ConnectionID = dbConn.ID
	req.Stream = true

	result, err := t.deps.Executor.Run(ctx, conn, req)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}

	var batches [][]map[string]any
	for start := 0; start < len(result.Rows); start += batchSize {
		end := start + batchSize
		if end > len(result.Rows) {
			end = len(result.Rows)
		}
		batches = append(batches, result.Rows[start:end])
	}
	return rpc.JSONResult(map[string]any{
		"batches":  batches,
		"rowCount": result.RowCount,
		"fields":   result.Fields,
	}), nil
}

func (t *toolset) batch(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	rawStmts, _ := args["statements"].([]any)
	if len(rawStmts) == 0 {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "statements must be a non-empty array")), nil
	}
	stmts := make([]query.Request, 0, len(rawStmts))
	for _, raw := range rawStmts {
		m, ok := raw.(map[string]any)
		if !ok {
			return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "each statement must be an object")), nil
		}
		req, err := requestFromArgs(m)
		if err != nil {
			return rpc.ErrorResult(err), nil
		}
		stmts = append(stmts, req)
	}

	conn, _, err := t.acquire(ctx, args)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	defer conn.Release()

	results, err := query.RunBatch(ctx, conn, stmts)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"results": results}), nil
}

func (t *toolset) explain(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	req, err := requestFromArgs(args)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	req.SQL = "EXPLAIN " + req.SQL
	req.Cache = query.DirectiveOff

	conn, dbConn, err := t.acquire(ctx, args)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	defer conn.Release()
	req.ConnectionID = dbConn.ID

	result, err := t.deps.Executor.Run(ctx, conn, req)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"plan": result.Rows}), nil
}

func (t *toolset) schemaTables(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	conn, dbConn, err := t.acquire(ctx, args)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	defer conn.Release()

	result, err := t.deps.Executor.Run(ctx, conn, query.Request{
		SQL:          `SELECT table_schema, table_name FROM information_schema.tables WHERE table_schema NOT IN ('pg_catalog', 'information_schema') ORDER BY 1, 2`,
		Cache:        query.DirectiveRead,
		ConnectionID: dbConn.ID,
	})
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"tables": result.Rows}), nil
}

func (t *toolset) schemaColumns(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	table, _ := args["table"].(string)
	if table == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "table is required")), nil
	}
	conn, dbConn, err := t.acquire(ctx, args)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	defer conn.Release()

	result, err := t.deps.Executor.Run(ctx, conn, query.Request{
		SQL:          `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = @table ORDER BY ordinal_position`,
		Params:       map[string]any{"table": table},
		Cache:        query.DirectiveRead,
		ConnectionID: dbConn.ID,
	})
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"columns": result.Rows}), nil
}

func (t *toolset) migrationApply(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	dir := t.deps.MigrationsDir
	if d, ok := args["directory"].(string); ok && d != "" {
		dir = d
	}
	migrations, err := migrate.Discover(dir)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	dbConn, err := t.deps.Manager.Active()
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	runner := migrate.NewRunner(dbConn.Pool())
	ran, err := runner.Apply(ctx, migrations)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"applied": ran}), nil
}

func (t *toolset) migrationStatus(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	dir := t.deps.MigrationsDir
	if d, ok := args["directory"].(string); ok && d != "" {
		dir = d
	}
	migrations, err := migrate.Discover(dir)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	dbConn, err := t.deps.Manager.Active()
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	runner := migrate.NewRunner(dbConn.Pool())
	status, err := runner.Status(ctx, migrations)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"status": status}), nil
}

func (t *toolset) dataImport(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	table, _ := args["table"].(string)
	rawColumns, _ := args["columns"].([]any)
	rawRows, _ := args["rows"].([]any)
	if table == "" || len(rawColumns) == 0 || len(rawRows) == 0 {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "table, columns and rows are required")), nil
	}
	columns := make([]string, len(rawColumns))
	for i, c := range rawColumns {
		columns[i], _ = c.(string)
	}
	rows := make([][]any, len(rawRows))
	for i, r := range rawRows {
		row, _ := r.([]any)
		rows[i] = row
	}
	batchSize := 0
	if n, ok := args["batchSize"].(float64); ok {
		batchSize = int(n)
	}
	useCopy, _ := args["useCopy"].(bool)

	conn, _, err := t.acquire(ctx, args)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	defer conn.Release()

	result, err := dataimport.Run(ctx, conn, dataimport.Request{
		Table: table, Columns: columns, Rows: rows, BatchSize: batchSize, UseCopy: useCopy,
	})
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(result), nil
}

func (t *toolset) subscribe(_ context.Context, args map[string]any) (rpc.CallToolResult, error) {
	capacity := 1024
	if n, ok := args["bufferSize"].(float64); ok && n > 0 {
		capacity = int(n)
	}
	overflow := subscription.OverflowDropOldest
	if p, ok := args["overflowPolicy"].(string); ok && p != "" {
		overflow = subscription.OverflowPolicy(p)
	}
	id := t.deps.Hub.Subscribe(capacity, overflow)
	return rpc.JSONResult(map[string]any{"subscriptionId": id}), nil
}

func (t *toolset) unsubscribe(_ context.Context, args map[string]any) (rpc.CallToolResult, error) {
	id, _ := args["subscriptionId"].(string)
	t.deps.Hub.Unsubscribe(id)
	return rpc.JSONResult(map[string]any{"unsubscribed": true}), nil
}

func (t *toolset) poll(_ context.Context, args map[string]any) (rpc.CallToolResult, error) {
	id, _ := args["subscriptionId"].(string)
	events, err := t.deps.Hub.Poll(id)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"events": events}), nil
}

func (t *toolset) readSchema(ctx context.Context, uri string) (rpc.ReadResourceResult, error) {
	result, err := t.schemaTables(ctx, nil)
	if err != nil {
		return rpc.ReadResourceResult{}, err
	}
	return resourceResultFromTool(uri, result)
}

func (t *toolset) readConnections(_ context.Context, uri string) (rpc.ReadResourceResult, error) {
	conns := t.deps.Manager.List()
	return rpc.ReadResourceResult{Contents: []rpc.ResourceContent{{
		URI:      uri,
		MimeType: "application/json",
		Text:     mustJSON(map[string]any{"connections": conns, "active": t.deps.Manager.ActiveID()}),
	}}}, nil
}

func (t *toolset) readHealth(_ context.Context, uri string) (rpc.ReadResourceResult, error) {
	conns := t.deps.Manager.List()
	return rpc.ReadResourceResult{Contents: []rpc.ResourceContent{{
		URI:      uri,
		MimeType: "application/json",
		Text:     mustJSON(map[string]any{"pools": conns}),
	}}}, nil
}

func resourceResultFromTool(uri string, result rpc.CallToolResult) (rpc.ReadResourceResult, error) {
	text := ""
	if len(result.Content) > 0 {
		text = result.Content[0].Text
	}
	return rpc.ReadResourceResult{Contents: []rpc.ResourceContent{{URI: uri, MimeType: "application/json", Text: text}}}, nil
}

func requestFromArgs(args map[string]any) (query.Request, error) {
	sql, ok := args["sql"].(string)
	if !ok || sql == "" {
		return query.Request{}, mcperrors.New(mcperrors.InvalidArgument, "sql must be a non-empty string")
	}
	params, _ := args["params"].(map[string]any)
	directive := query.DirectiveOff
	if c, ok := args["cache"].(string); ok && c != "" {
		directive = query.Directive(c)
	}
	timeout := time.Duration(0)
	if n, ok := args["timeoutMs"].(float64); ok && n > 0 {
		timeout = time.Duration(n) * time.Millisecond
	}
	return query.Request{SQL: sql, Params: params, Cache: directive, Timeout: timeout}, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode resource payload")
		return "{}"
	}
	return string(b)
}
