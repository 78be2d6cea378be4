// Package server implements the HTTP API for the file-sharing
// service: registration, login, encrypted upload/download, sharing,
// and the websocket endpoint. It wires the routes to their
// dependencies (database, MinIO client, session registry, notifier)
// and provides lifecycle helpers used by tests and the production
// binary.
package server
