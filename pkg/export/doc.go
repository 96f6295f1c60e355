// Package export renders fetched series as JSON or CSV and restores JSON
// exports into storage.
//
// # Formats
//
// JSON carries export metadata and one object per series. Slots without
// data are encoded as null, so a series keeps one value per step:
//
//	{
//	  "metadata": {
//	    "exported_at": "2026-10-15T12:00:00Z",
//	    "from": 1792065600,
//	    "until": 1792069200,
//	    "series_count": 1,
//	    "format": "json",
//	    "version": "1.0"
//	  },
//	  "series": [
//	    {"name": "servers.web1.cpu", "from": 1792065600, "until": 1792065720, "step": 60, "values": [0.5, null, 0.7]}
//	  ]
//	}
//
// CSV is flattened to "name,timestamp,value" rows. Empty value cells mark
// missing slots. CSV exports cannot be imported.
//
// # HTTP API
//
// Fetch endpoint: GET /v1/fetch
//   - target: metric name, may be repeated
//   - from, until: unix seconds, RFC3339, "now" or a relative offset such as
//     "-6h" or "-7d" (default: last hour)
//   - format: "json" or "csv" (default: json)
//   - maxDataPoints: consolidate each series to at most this many values
//
// Import endpoint: POST /v1/import with a JSON export as the body. Missing
// series are created with the schema their name matches; points outside the
// retention window are reported as rejected.
//
//	curl "http://localhost:8080/v1/fetch?target=servers.web1.cpu&from=-1d&format=csv"
package export
