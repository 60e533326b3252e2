// Package featuresync propagates edits from a point layer to the polygon
// layer it lies in.
//
// When a charging point (Laadpaal) is created or updated, every search area
// (Zoekgebied) that intersects it receives the point's accepted state in its
// own coded-value domain. The propagation runs detached from the edit that
// triggered it and reports its outcome as a single notice.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│   Edit sources                       │  WebSocket editors,
//	│   (source/wssource, natssource)      │  NATS subjects, JetStream
//	└──────────────────────────────────────┘
//	           ↓ EditEvent
//	┌──────────────────────────────────────┐
//	│   normalizer.FanIn                   │  One subscription per source,
//	│                                      │  batched per tick
//	└──────────────────────────────────────┘
//	           ↓ ChangeSet
//	┌──────────────────────────────────────┐
//	│   propagation.Pipeline               │  resolver → spatialjoin →
//	│   (on a pkg/worker pool)             │  applier → notify
//	└──────────────────────────────────────┘
//	           ↓ ApplyUpdates
//	┌──────────────────────────────────────┐
//	│   store backends                     │  memory, featureservice,
//	│                                      │  postgis, sqlite
//	└──────────────────────────────────────┘
//
// # Packages
//
// Core pipeline:
//   - feature: refs, snapshots, fields, change sets and edit events
//   - translator: coded-value domain translation between layers
//   - normalizer: edit event normalisation and the source fan-in
//   - resolver: batched lookup of the edited source features
//   - spatialjoin: target lookup by intersection
//   - applier: staged attribute writes and result tallying
//   - propagation: sessions, installation and the run pipeline
//
// Infrastructure:
//   - store: store interfaces, the read-only wrapper and the backends
//   - source: edit sources and the browser payload codec
//   - notify: notice sinks (log, NATS, WebSocket broadcast)
//   - geo: planar intersection predicates on orb geometries
//   - config, errors, health, metric, natsclient: ambient services
//   - pkg/retry, pkg/worker: generic retry and worker pool helpers
//
// # Running
//
//	featuresync --config /etc/featuresync/config.yaml
//
// SIGHUP closes the current session and installs the propagation again
// against a fresh one. SIGINT and SIGTERM shut the process down.
package featuresync
