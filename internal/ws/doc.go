// Package ws is the local event bridge between chat sessions and UI clients.
//
// The package implements:
//   - Hub: fans one session's events out to its attached clients
//   - HubManager: one hub per chat session
//   - Handler: upgrades UI connections and turns their commands into session calls
//   - Service: attaches sessions to hubs and owns the event subscriptions
//
// On attach a client first receives a snapshot of the session state, then every
// bus event as {"type":"event","event":kind,"data":...}. Commands are send,
// typing, stop_typing, presence, mark_read, visibility and online.
package ws
