// Package device holds the channel model and state store of an IPX800 V3
// relay board.
//
// # Architecture
//
//	  poll (all 8)      webhook (1)      local write (1)
//	       │                 │                  │
//	       ▼                 ▼                  ▼
//	┌───────────────────────────────────────────────────┐
//	│                      Store                        │
//	│  confirmed[1..8]   optimistic[1..8] (+ set time)  │
//	└───────────────────────────────────────────────────┘
//	       │ IsOn / Snapshot          │ Subscribe
//	       ▼                          ▼
//	   REST, MQTT             MQTT state, WebSocket,
//	                          history, telemetry
//
// Reads return the optimistic value while it is pending, otherwise the last
// confirmed value. A webhook supersedes the optimistic value of its channel.
// A poll supersedes optimistic values written before the poll was issued.
// With a non-zero OptimisticTTL, an unconfirmed value falls back to the
// confirmed one after the TTL.
//
// The SQLite repositories in this package record history and command
// outcomes. Nothing reads them back into the Store.
package device
