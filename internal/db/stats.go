package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
)

// Stats summarizes what the memory store currently holds.
type Stats struct {
	Turns            int `json:"turns"`
	ActiveFacts      int `json:"active_facts"`
	TotalFacts       int `json:"total_facts"`
	Episodes         int `json:"episodes"`
	ArchivedEpisodes int `json:"archived_episodes"`
}

type countRow struct {
	Count int `json:"count"`
}

func (c *Client) countQuery(ctx context.Context, sql string) (int, error) {
	results, err := surrealdb.Query[[]countRow](ctx, c.db, sql, nil)
	if err != nil {
		return 0, err
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}

// CollectStats counts rows per table for inspection tooling.
func (c *Client) CollectStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	for _, q := range []struct {
		sql  string
		dest *int
	}{
		{`SELECT count() AS count FROM turn GROUP ALL`, &stats.Turns},
		{`SELECT count() AS count FROM assertion WHERE active = true GROUP ALL`, &stats.ActiveFacts},
		{`SELECT count() AS count FROM assertion GROUP ALL`, &stats.TotalFacts},
		{`SELECT count() AS count FROM episode WHERE archived = false GROUP ALL`, &stats.Episodes},
		{`SELECT count() AS count FROM episode WHERE archived = true GROUP ALL`, &stats.ArchivedEpisodes},
	} {
		n, err := c.countQuery(ctx, q.sql)
		if err != nil {
			return nil, fmt.Errorf("collect stats: %w", err)
		}
		*q.dest = n
	}
	return &stats, nil
}
