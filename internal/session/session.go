// Package session manages connected-client sessions. It handles session
// creation, lookup, expiration, and storage of ephemeral presence state
// (display name, current room) backed by Redis.
package session
