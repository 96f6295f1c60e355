/*
Package storage provides the storage abstraction for tinycarbon series.

# Storage Interface

Every metric name maps to exactly one fixed-size series. Backends:
  - whisperdb: one whisper file per metric under the data directory
  - memory: in-memory series for tests and dry runs

All backends implement the Storage interface:

	type Storage interface {
	    Exists(name string) (bool, error)
	    Create(ctx context.Context, name string) error
	    Write(ctx context.Context, name string, points []metric.Datapoint) (int, error)
	    Fetch(ctx context.Context, name string, from, until time.Time) (*Series, error)
	    GetMetadata(name, key string) (string, error)
	    SetMetadata(name, key, value string) (string, error)
	    List(ctx context.Context, prefix string, limit int) ([]string, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

Write does not create series. The cache writer calls Create first, subject
to its create rate limit, so a burst of new metrics cannot flood the disk
with file creations.

# Metadata

The only metadata key is "aggregationMethod". Changing it affects future
rollups only; points already propagated keep their values. Any other key
returns ErrUnsupportedKey.

# Errors

	ErrNotFound        series does not exist yet
	ErrOutOfRange      point outside the retention window (counted, not fatal)
	ErrFormat          corrupt series file (fail fast, never retried)
	ErrUnsupportedKey  metadata key other than aggregationMethod

# Usage Example

	store, err := whisperdb.New(whisperdb.Config{DataDir: "./data", Schemas: schemas})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	if err := store.Create(ctx, "servers.web1.cpu"); err != nil {
	    log.Fatal(err)
	}
	rejected, err := store.Write(ctx, "servers.web1.cpu", []metric.Datapoint{
	    metric.NewDatapoint(time.Now(), 0.42),
	})

	series, err := store.Fetch(ctx, "servers.web1.cpu", time.Now().Add(-time.Hour), time.Now())
*/
package storage
