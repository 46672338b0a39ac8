package api

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/uhi-map/internal/db"
)

// DBHandler exposes the DuckDB copy of the grid statistics.
type DBHandler struct {
	db *sql.DB
}

// NewDBHandler creates a new database handler. conn may be nil.
func NewDBHandler(conn *sql.DB) *DBHandler {
	return &DBHandler{db: conn}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("db"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("db"))
	huma.Get(api, "/api/v1/stats/classes", h.ClassSummary, huma.OperationTags("db"))
}

// TablesBody is the response for listing tables.
type TablesBody struct {
	Tables []string `json:"tables" doc:"List of table names"`
}

// ListTables returns all DuckDB tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*struct{ Body TablesBody }, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}

	return &struct{ Body TablesBody }{Body: TablesBody{Tables: tables}}, nil
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" doc:"SQL query to execute" example:"SELECT * FROM grid_stats WHERE ndvi_class = 1"`
	}
}

// QueryBody is the response for SQL queries.
type QueryBody struct {
	Columns []string         `json:"columns" doc:"Column names"`
	Rows    []map[string]any `json:"rows" doc:"Query results"`
	Count   int              `json:"count" doc:"Number of rows returned"`
}

// Query executes a SQL query against DuckDB.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*struct{ Body QueryBody }, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, input.Body.Query)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get columns", err)
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			continue
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return &struct{ Body QueryBody }{Body: QueryBody{
		Columns: columns,
		Rows:    results,
		Count:   len(results),
	}}, nil
}

// ClassRow summarises the grid cells of one NDVI class.
type ClassRow struct {
	Class    int      `json:"class" doc:"NDVI class, 0 when unclassifiable"`
	Cells    int      `json:"cells" doc:"Number of cells"`
	NDVIMean *float64 `json:"ndviMean,omitempty" doc:"Mean of the cell NDVI medians"`
	LSTMean  *float64 `json:"lstMean,omitempty" doc:"Mean of the cell LST means (°C)"`
}

// ClassSummary relates greenness to surface temperature per NDVI class.
func (h *DBHandler) ClassSummary(ctx context.Context, input *struct{}) (*struct{ Body []ClassRow }, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	q := fmt.Sprintf(`SELECT ndvi_class, count(*), avg(ndvi_median), avg(lst_mean)
		FROM %s GROUP BY ndvi_class ORDER BY ndvi_class`, db.GridStatsTable)
	rows, err := h.db.QueryContext(ctx, q)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("Grid statistics not loaded", err)
	}
	defer rows.Close()

	result := []ClassRow{}
	for rows.Next() {
		var (
			r         ClassRow
			ndvi, lst sql.NullFloat64
		)
		if err := rows.Scan(&r.Class, &r.Cells, &ndvi, &lst); err != nil {
			return nil, huma.Error500InternalServerError("Failed to read summary", err)
		}
		if ndvi.Valid {
			r.NDVIMean = &ndvi.Float64
		}
		if lst.Valid {
			r.LSTMean = &lst.Float64
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, huma.Error500InternalServerError("Failed to read summary", err)
	}
	return &struct{ Body []ClassRow }{Body: result}, nil
}
