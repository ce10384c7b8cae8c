package domain

import (
	"fmt"
	"time"
)

// Workspace groups conversations.
type Workspace struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// EntityID returns the workspace's identity.
func (w Workspace) EntityID() string { return w.ID }

// Clone returns a copy of w. Workspaces hold no reference types.
func (w Workspace) Clone() Workspace { return w }

// Validate checks the fields a client must supply.
func (w Workspace) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workspace name is required")
	}
	return nil
}
