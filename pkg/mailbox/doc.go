/*
Package mailbox defines the external document-store interface spec.md §6
and §9 describe as the asynchronous channel between the client and the
agent: pilot commands, task claiming, and final-state publication. Any
storage backend satisfying the interface can stand in for the reference
bolt-backed implementation in this package (bolt.go).
*/
package mailbox
