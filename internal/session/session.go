// Package session keeps per-user ephemeral state in Redis: registration
// progress between messages and which gateway a user is connected to.
package session
