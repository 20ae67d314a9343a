// Package cmd wires shared infrastructure for the binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/reportd/reportd/pkg/persistence"
	"github.com/reportd/reportd/pkg/persistence/file"
	"github.com/reportd/reportd/pkg/persistence/postgresql"
)

// NewPersistence builds a persistence layer from the database URL
// scheme: postgres/postgresql selects PostgreSQL, anything else falls
// back to file storage.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		persist, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return persist
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)

	return parts[0]
}
