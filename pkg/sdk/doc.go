/*
Package sdk is the tinycarbon client library for instrumenting Go
applications.

# Quick Start

	client, err := sdk.New(sdk.ClientConfig{
	    Prefix:   "myapp.web01",
	    Endpoint: "http://localhost:8080/v1/ingest",
	})
	if err != nil {
	    log.Fatal(err)
	}

	client.Start(context.Background())
	defer client.Stop()

	handler := httpx.Middleware(client)(mux)
	http.ListenAndServe(":8000", handler)

Use "tcp://localhost:2003" as the endpoint to write the plaintext line
protocol to the line receiver instead of posting JSON.

# Metric Types

Every metric is a dotted path under the client prefix. Extra arguments
are appended as path segments and sanitized to [A-Za-z0-9_-]:

	requests := client.Counter("requests")
	requests.Inc("GET", "200")          // myapp.web01.requests.GET.200

	queue := client.Gauge("queue_depth")
	queue.Set(127, "emails")            // myapp.web01.queue_depth.emails

	latency := client.Timer("db")
	latency.Observe(elapsed, "select")  // myapp.web01.db.select.{count,sum,mean,min,max}

Counters and gauges send their current value on every change. Timers
keep count, sum, mean, min and max in milliseconds and report them once
per flush interval. Every segment becomes a whisper file on the server,
so keep segment values to a small fixed set (method, status, route).

# Batching & Flushing

Samples are buffered until FlushEvery elapses (default 10 seconds) or
MaxBatchSize samples are pending (default 1000). Stop collects a final
round and flushes what is left. Transport errors are logged and the
batch is dropped; Failed reports how many samples were lost.

# Runtime Metrics

Unless DisableRuntime is set, heap, GC and goroutine gauges are reported
under <prefix>.runtime every flush interval.
*/
package sdk
