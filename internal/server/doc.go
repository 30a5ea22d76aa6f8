// Package server exposes gorooms over HTTP and WebSocket.
//
// The package adapts gorilla/websocket connections to room.Conn, mounts one
// endpoint per room on a chi router, and runs the HTTP listener, the rooms and
// the demo clock publisher under a suture supervisor.
package server
