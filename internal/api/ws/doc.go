// Package ws streams editor changes into the session store over WebSocket.
//
// Every connection owns a workspace, so each editor tab has its own cache
// and write queue. Content edits are debounced; titles are written at once.
//
// Message Types (Client → Server):
//   - open: load a session and make it active
//   - content: replace the document body (debounced)
//   - title: rename the session
//   - save: write pending edits now
//   - ping: keep-alive
//
// Message Types (Server → Client):
//   - system: connection greeting with its id
//   - opened: the loaded session
//   - saved: a write finished
//   - error: a request or write failed
//   - pong: keep-alive reply
//
// Example Usage:
//
//	handler := ws.NewHandler(service, ws.Options{Debounce: time.Second})
//	router.GET("/stream/editor", handler.HandleConnection)
package ws
