package models

import (
	"time"
)

const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"

	StatusActive  = "active"
	StatusBlocked = "blocked"
)

// EncryptedSecret is an AES-256-GCM sealed TOTP secret.
type EncryptedSecret struct {
	Ciphertext []byte
	Nonce      []byte
}

// Identity is an admin account. Email never changes after creation.
type Identity struct {
	ID                 string
	Email              string
	Username           string
	PasswordHash       string
	Role               string
	Status             string
	BlockReason        string
	MustChangePassword bool
	SecretCodeHash     string // empty when no login secret code is required

	MFAEnabled       bool
	MFASecret        *EncryptedSecret
	MFAPendingSecret *EncryptedSecret
	MFALastStep      int64 // last accepted TOTP time step

	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastLoginAt       *time.Time
	PasswordChangedAt *time.Time
}

func (i *Identity) IsBlocked() bool {
	return i.Status == StatusBlocked
}

func (i *Identity) IsSuperAdmin() bool {
	return i.Role == RoleSuperAdmin
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (i *Identity) Clone() *Identity {
	c := *i
	c.MFASecret = i.MFASecret.clone()
	c.MFAPendingSecret = i.MFAPendingSecret.clone()
	if i.LastLoginAt != nil {
		t := *i.LastLoginAt
		c.LastLoginAt = &t
	}
	if i.PasswordChangedAt != nil {
		t := *i.PasswordChangedAt
		c.PasswordChangedAt = &t
	}
	return &c
}

func (s *EncryptedSecret) clone() *EncryptedSecret {
	if s == nil {
		return nil
	}
	return &EncryptedSecret{
		Ciphertext: append([]byte(nil), s.Ciphertext...),
		Nonce:      append([]byte(nil), s.Nonce...),
	}
}

// AdminSummary is the listing view of an identity
type AdminSummary struct {
	ID                 string     `json:"_id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	Role               string     `json:"role"`
	IsActive           bool       `json:"isActive"`
	BlockReason        string     `json:"blockReason,omitempty"`
	TwoFactorEnabled   bool       `json:"twoFactorEnabled"`
	MustChangePassword bool       `json:"mustChangePassword"`
	LastLoginAt        *time.Time `json:"lastLoginAt"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func (i *Identity) Summary() AdminSummary {
	return AdminSummary{
		ID:                 i.ID,
		Username:           i.Username,
		Email:              i.Email,
		Role:               i.Role,
		IsActive:           !i.IsBlocked(),
		BlockReason:        i.BlockReason,
		TwoFactorEnabled:   i.MFAEnabled,
		MustChangePassword: i.MustChangePassword,
		LastLoginAt:        i.LastLoginAt,
		CreatedAt:          i.CreatedAt,
	}
}
