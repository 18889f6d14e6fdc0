// Package api serves the bridge's HTTP surface: the device webhook, the
// REST control API under /api/v1 and a WebSocket feed of channel changes.
//
// The webhook lives outside /api/v1 at the path the IPX800 is configured to
// call. Control routes require an HS256 bearer token when a JWT secret is
// configured; reads and the webhook do not.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
