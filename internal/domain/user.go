// Package domain contains entity without logic, just meta-data
package domain

type UserID string

// ConnID identifies one live relay connection. The relay mints these as
// "<processID>:<uuid>" so a presence entry can be traced back to the process
// that created it.
type ConnID string

type ConversationID string

type User struct {
	ID    UserID `json:"id"`
	Email string `json:"email"`
}
