// Package ipx800 bridges a GCE Electronics IPX800 V3 relay controller to
// the rest of the system.
//
// The IPX800 V3 exposes eight relay outputs over plain HTTP. Status is read
// from status.xml and relays are switched one at a time through
// preset.htm. The device can also call back into the bridge whenever an
// output changes.
//
// # Architecture
//
//	                ┌──────────────────────────────────────────┐
//	  MQTT / REST   │                Controller                │
//	 ──────────────►│  SetChannel ─► Store (optimistic)        │
//	                │            └─► Dispatcher ─► Client ─────┼──► IPX800
//	                │                                          │   (HTTP GET)
//	  webhook       │  ApplyWebhook ─► Store (confirmed)       │
//	 ──────────────►│  poll ticker ─► Client ─► Store          │◄── status.xml
//	                └──────────────────────────────────────────┘
//	                         │ device.Change
//	                         ▼
//	                  Bridge (MQTT state, InfluxDB, SQLite history)
//
// # Command Dispatch
//
// The device processes HTTP requests slowly and drops them under load. The
// Dispatcher therefore sends at most one command at a time, in FIFO order,
// and waits a fixed delay (200ms by default) after every send before taking
// the next one, whether or not the send succeeded. Failed commands are
// logged and dropped; nothing is retried automatically.
//
// # Webhook
//
// The device is configured to call:
//
//	GET /api/ipx800_update?state=<0|1>&index=<1..8>
//
// ParseUpdate validates the query. Malformed requests are rejected with
// ErrInvalidWebhookRequest and never reach the store.
//
// # MQTT Topics
//
//	graylogic/state/ipx800/{device_id}/{channel}    retained channel state
//	graylogic/command/ipx800/{device_id}/{channel}  on | off | toggle
//	graylogic/ack/ipx800/{device_id}/{channel}      queued | accepted | failed
//	graylogic/health/ipx800                         retained bridge health, LWT
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package ipx800
