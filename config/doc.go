// Package config loads the featuresync configuration.
//
// Configuration starts from Default, is overlaid by each file layer in
// order and finally by FEATURESYNC_* environment variables. Layers are JSON
// or YAML and are deep-merged as maps, so a layer only needs the keys it
// changes. Duration settings accept strings such as "250ms", "30s" or "1d".
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.json")
//	cfg, err := loader.Load()
//
// Environment overrides:
//
//	FEATURESYNC_STORE_DRIVER, FEATURESYNC_STORE_URL, FEATURESYNC_STORE_DSN,
//	FEATURESYNC_STORE_TOKEN, FEATURESYNC_STORE_RATE_LIMIT,
//	FEATURESYNC_NATS_URLS (comma separated), FEATURESYNC_NATS_USERNAME,
//	FEATURESYNC_NATS_PASSWORD, FEATURESYNC_NATS_TOKEN,
//	FEATURESYNC_WEBSOCKET_ENABLED, FEATURESYNC_WEBSOCKET_TOKEN,
//	FEATURESYNC_NATS_SOURCE_ENABLED, FEATURESYNC_NOTIFY_SUBJECT,
//	FEATURESYNC_METRICS_ENABLED
//
// Files are size and depth limited and must be regular files.
package config
