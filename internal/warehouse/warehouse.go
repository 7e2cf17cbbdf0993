package warehouse

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/driftwatch/driftwatch/internal/util"
	"github.com/driftwatch/driftwatch/pkg/catalog"
	"github.com/driftwatch/driftwatch/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Descriptor sync scrapes the warehouse's information_schema into a
// catalog.ExternalSource so queries can be planned against table and
// column names without touching warehouse data.

const columnsSQL = `
SELECT table_schema, table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name, ordinal_position;
`

type Client struct {
	pool *pgxpool.Pool
	name string
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{
		pool: pool,
		name: util.GetEnvString("WAREHOUSE_NAME", "warehouse"),
	}
}

// Describe reads the warehouse schema into an ExternalSource. Schemas map
// to databases, tables to tables.
func (c *Client) Describe(ctx context.Context) (catalog.ExternalSource, error) {
	start := time.Now()
	source := catalog.ExternalSource{
		Name:         c.name,
		Kind:         "postgres",
		ConnectionID: c.name,
	}

	rows, err := c.pool.Query(ctx, columnsSQL)
	if err != nil {
		return source, fmt.Errorf("query information_schema: %w", err)
	}
	defer rows.Close()

	type tableKey struct {
		schema string
		table  string
	}
	tables := make(map[tableKey][]catalog.ExternalColumn)
	var order []tableKey

	for rows.Next() {
		var schema, table, column, dataType string
		if err := rows.Scan(&schema, &table, &column, &dataType); err != nil {
			return source, fmt.Errorf("scan column row: %w", err)
		}
		key := tableKey{schema: schema, table: table}
		if _, ok := tables[key]; !ok {
			order = append(order, key)
		}
		tables[key] = append(tables[key], catalog.ExternalColumn{
			Name:     column,
			DataType: dataType,
		})
	}
	if err := rows.Err(); err != nil {
		return source, fmt.Errorf("read information_schema: %w", err)
	}

	bySchema := make(map[string][]catalog.ExternalTable)
	for _, key := range order {
		bySchema[key.schema] = append(bySchema[key.schema], catalog.ExternalTable{
			Name:    key.table,
			Columns: tables[key],
		})
	}

	schemas := make([]string, 0, len(bySchema))
	for schema := range bySchema {
		schemas = append(schemas, schema)
	}
	sort.Strings(schemas)
	for _, schema := range schemas {
		source.Databases = append(source.Databases, catalog.ExternalDatabase{
			Name:   schema,
			Tables: bySchema[schema],
		})
	}

	logger.Info("[Warehouse] Described warehouse schema",
		"schemas", len(source.Databases),
		"tables", len(order),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return source, nil
}

// Sync writes the current warehouse descriptor into the catalog store.
// Failures are returned but never fatal to the caller's boot sequence.
func (c *Client) Sync(ctx context.Context, store *catalog.Store) error {
	source, err := util.RetryWithContext(ctx, 3, func(ctx context.Context) (catalog.ExternalSource, error) {
		return c.Describe(ctx)
	})
	if err != nil {
		return err
	}
	if err := store.SaveExternalSource(source); err != nil {
		return fmt.Errorf("save external source: %w", err)
	}
	return nil
}
