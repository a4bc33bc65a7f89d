// Package cli implements the interactive terminal front-end of the portal
// client. It wires the configuration, the local store, the REST client, and
// the session orchestrator into a small REPL with auth, chat, and quota
// commands.
//
// The REPL never exits on a command failure: handlers print their own
// messages and the loop continues. Connectivity is tracked by a background
// watcher probing the health endpoint and shown in the prompt.
package cli
