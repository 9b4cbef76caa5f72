/*
Package salesetl is a small ETL job which loads a retail sales export into a
relational table.

Each run reads the export (a local file or a Cloud Storage object), normalizes
the column names, coerces dates and numbers, derives total_amount and
total_sales_per_order, drops records missing a required field, and replaces
the destination table with the result.

Getting started

	cfg, err := salesetl.LoadConfig("salesetl.yaml")
	if err != nil {
		panic(err)
	}

	job, err := salesetl.NewFromConfig(ctx, cfg, salesetl.WithPrettyLogging())
	if err != nil {
		panic(err)
	}

	res, err := job.Run(ctx, cfg.Input.Source())
	if err != nil {
		// res.Phase tells which phase failed.
	}

Destination connection parameters come from the config file or the
environment (DB_HOST, DB_NAME, DB_USER, DB_PASSWORD, DB_PORT or
SALESETL_POSTGRES__HOST and friends).

To run the job daily, see package go.nownabe.dev/salesetl/trigger.
*/
package salesetl
