package history

import (
	"context"
	"fmt"
	"strings"
)

// NewStore selects a history driver. "memory" (or empty) stays in process,
// "badger" persists under dataDir, "postgres" needs databaseURL.
func NewStore(ctx context.Context, driver, databaseURL, dataDir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return NewInMemoryStore(), nil
	case "badger":
		return NewBadgerStore(BadgerOptions{Dir: dataDir})
	case "postgres":
		return NewPostgresStore(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unknown history driver %q", driver)
	}
}
