package model

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// HostProfile describes one remote target managed by the registry.
// Authentication material is referenced by CredentialID; the raw secret
// lives in a separate credentials table and never appears in logs or
// API responses.
type HostProfile struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	Port         int       `json:"port"`
	User         string    `json:"user"`
	CredentialID string    `json:"credentialId"`
	Label        string    `json:"label,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Addr returns the dialable host:port address.
func (p *HostProfile) Addr() string {
	return net.JoinHostPort(p.Address, fmt.Sprintf("%d", p.Port))
}

// Credential is the secret material a session needs to authenticate.
// Exactly one of Password or KeyPath is expected to be set.
type Credential struct {
	ID       string
	Password string
	KeyPath  string
}

// CreateHostRequest carries the fields accepted when registering a host.
type CreateHostRequest struct {
	ID       string `json:"id" binding:"required"`
	Address  string `json:"address" binding:"required"`
	Port     int    `json:"port"`
	User     string `json:"user" binding:"required"`
	Password string `json:"password,omitempty"`
	KeyPath  string `json:"keyPath,omitempty"`
	Label    string `json:"label,omitempty"`
}

// Validate checks the request fields before they reach storage.
func (r *CreateHostRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if strings.ContainsAny(r.ID, " \t\n/") {
		return &ValidationError{Field: "id", Reason: "must not contain whitespace or slashes"}
	}
	if strings.TrimSpace(r.Address) == "" {
		return &ValidationError{Field: "address", Reason: "must not be empty"}
	}
	if r.Port == 0 {
		r.Port = 22
	}
	if r.Port < 1 || r.Port > 65535 {
		return &ValidationError{Field: "port", Reason: "must be between 1 and 65535"}
	}
	if strings.TrimSpace(r.User) == "" {
		return &ValidationError{Field: "user", Reason: "must not be empty"}
	}
	if r.Password == "" && r.KeyPath == "" {
		return &ValidationError{Field: "password", Reason: "either password or keyPath is required"}
	}
	return nil
}

// UpdateHostRequest carries optional fields for updating a profile.
// Nil fields are left unchanged.
type UpdateHostRequest struct {
	Address  *string `json:"address,omitempty"`
	Port     *int    `json:"port,omitempty"`
	User     *string `json:"user,omitempty"`
	Password *string `json:"password,omitempty"`
	KeyPath  *string `json:"keyPath,omitempty"`
	Label    *string `json:"label,omitempty"`
}

// Validate checks the provided fields of an update request.
func (r *UpdateHostRequest) Validate() error {
	if r.Address != nil && strings.TrimSpace(*r.Address) == "" {
		return &ValidationError{Field: "address", Reason: "must not be empty"}
	}
	if r.Port != nil && (*r.Port < 1 || *r.Port > 65535) {
		return &ValidationError{Field: "port", Reason: "must be between 1 and 65535"}
	}
	if r.User != nil && strings.TrimSpace(*r.User) == "" {
		return &ValidationError{Field: "user", Reason: "must not be empty"}
	}
	return nil
}
