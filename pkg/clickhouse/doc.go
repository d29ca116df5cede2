// Package clickhouse provides the ClickHouse connection used to execute
// backfill statements.
//
// The package exposes a small Executor interface that the backfill
// coordinator depends on, a Client implementation backed by clickhouse-go,
// and environment fingerprinting helpers used to bind backfill plans to the
// database they were created against.
//
// # Usage Example
//
//	client, err := clickhouse.NewClient(ctx, "localhost:9000", clickhouse.ClientOptions{
//		Database: "analytics",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Execute(ctx, "INSERT INTO analytics.events ..."); err != nil {
//		log.Fatal(err)
//	}
//
// The Client's Fingerprint method returns the endpoint origin and database
// name, which the plan builder captures into new plans so a plan created
// against staging cannot silently run against production.
package clickhouse
