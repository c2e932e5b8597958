/*
Package config loads eventcore configuration from YAML or JSON.

Config wraps the decoded document and exposes typed accessors that return a
default on missing keys or type mismatches. Keys may be dotted paths:

	cfg, err := config.FromFile("eventcore.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	every := cfg.Int("repository.snapshot_every", 100)

Settings is the typed view used to wire storage, repositories, the bus and
logging:

	storage:
	  log: file            # memory | file | sqlite
	  snapshots: redis     # memory | sqlite | redis | mongo
	  events: sqlite       # memory | sqlite
	  dir: /var/lib/eventcore
	  sqlite_path: /var/lib/eventcore/events.db
	  redis:
	    addr: localhost:6379
	repository:
	  snapshot_every: 100
	bus:
	  executor: pool       # sync | pool
	  workers: 8
	  queue_size: 1024
	log:
	  level: info
	  encoding: json

Config is safe for concurrent reads as long as the source map is not modified.
*/
package config
