// Package server implements the portal's HTTP API and its real-time channel.
//
// The Hub owns the connection registry and is the only goroutine that
// mutates it; HTTP handlers and per-connection pumps talk to it through
// channels. Handlers receive their collaborators (session gate, store,
// chatbot, statistics) through the Server value rather than package state.
package server
