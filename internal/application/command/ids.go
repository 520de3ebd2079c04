// Package command contains write operations (CQRS - Commands).
package command

import "github.com/google/uuid"

// IDGenerator returns a fresh entity id.
type IDGenerator func() string

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}
