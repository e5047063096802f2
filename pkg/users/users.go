// Package users is the Redis-backed profile directory that supplies roles to
// the authentication middleware.
package users

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ngoyal88/docgen/pkg/cache"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	ErrNotFound    = errors.New("user not found")
	ErrEmailTaken  = errors.New("email already registered")
	ErrInvalidRole = errors.New("invalid role")
	ErrInvalidUser = errors.New("invalid user")
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Organization string    `json:"organization,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAdmin reports whether u carries the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// UserUpdate holds the mutable profile fields. Nil fields are left unchanged.
type UserUpdate struct {
	FullName     *string `json:"full_name,omitempty"`
	Organization *string `json:"organization,omitempty"`
	Role         *string `json:"role,omitempty"`
}

func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// Directory handles user profile operations
type Directory struct {
	rdb *cache.Client
	now func() time.Time
}

func New(rdb *cache.Client) *Directory {
	return &Directory{rdb: rdb, now: time.Now}
}

func userKey(id string) string { return "user:" + id }

func emailKey(email string) string { return "user:email:" + normalizeEmail(email) }

const indexKey = "users:all"

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create registers a new profile. The email is claimed first so two
// concurrent registrations for the same address cannot both succeed.
func (d *Directory) Create(ctx context.Context, email, fullName, organization, role string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidUser)
	}
	if role == "" {
		role = RoleUser
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	now := d.now().UTC()
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		Organization: strings.TrimSpace(organization),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	claimed, err := d.rdb.Redis().SetNX(ctx, emailKey(email), u.ID, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("claim email: %w", err)
	}
	if !claimed {
		return nil, ErrEmailTaken
	}

	if err := d.save(ctx, u); err != nil {
		_ = d.rdb.Del(ctx, emailKey(email))
		return nil, err
	}
	return u, nil
}

func (d *Directory) save(ctx context.Context, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = d.rdb.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userKey(u.ID), data, 0)
		pipe.SAdd(ctx, indexKey, u.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

// Get retrieves a profile by ID.
func (d *Directory) Get(ctx context.Context, id string) (*User, error) {
	data, err := d.rdb.Get(ctx, userKey(id))
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	return &u, nil
}

// GetByEmail resolves a profile through the email index.
func (d *Directory) GetByEmail(ctx context.Context, email string) (*User, error) {
	id, err := d.rdb.Get(ctx, emailKey(email))
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.Get(ctx, string(id))
}

// Update applies the non-nil fields of upd and returns the stored profile.
func (d *Directory) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	u, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Role != nil {
		if !ValidRole(*upd.Role) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, *upd.Role)
		}
		u.Role = *upd.Role
	}
	if upd.FullName != nil {
		u.FullName = strings.TrimSpace(*upd.FullName)
	}
	if upd.Organization != nil {
		u.Organization = strings.TrimSpace(*upd.Organization)
	}
	u.UpdatedAt = d.now().UTC()

	if err := d.save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Delete permanently removes a profile and frees its email.
func (d *Directory) Delete(ctx context.Context, id string) error {
	u, err := d.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = d.rdb.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, userKey(id), emailKey(u.Email))
		pipe.SRem(ctx, indexKey, id)
		return nil
	})
	return err
}

// List returns every profile, oldest first.
func (d *Directory) List(ctx context.Context) ([]*User, error) {
	ids, err := d.rdb.Redis().SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*User, 0, len(ids))
	for _, id := range ids {
		u, err := d.Get(ctx, id)
		if err == nil {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Email < result[j].Email
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// GenerateSecret creates a cryptographically secure random secret with the given prefix.
// It backs admin keys and JWT signing secrets.
func GenerateSecret(prefix string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}
