package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CredentialSet is a stored credential record owned by an external entity
// or an external project. Dispatch only reads it.
type CredentialSet struct {
	ID        uuid.UUID
	Name      string
	Code      ChannelType
	Values    Credentials
	Enabled   bool
	EntityID  *uuid.UUID
	ProjectID *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCredentialSet creates an enabled credential set
func NewCredentialSet(name string, code ChannelType, values Credentials) *CredentialSet {
	now := time.Now()
	if values == nil {
		values = Credentials{}
	}
	return &CredentialSet{
		ID:        uuid.New(),
		Name:      name,
		Code:      code,
		Values:    values,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CredentialSetRepository reads credential sets
type CredentialSetRepository interface {
	// ListEnabledByEntity returns enabled sets of an entity ordered by creation
	ListEnabledByEntity(ctx context.Context, entityID uuid.UUID) ([]*CredentialSet, error)
	// ListEnabledByProject returns enabled sets of a project ordered by creation
	ListEnabledByProject(ctx context.Context, projectID uuid.UUID) ([]*CredentialSet, error)
	FindByID(ctx context.Context, id uuid.UUID) (*CredentialSet, error)
	Save(ctx context.Context, set *CredentialSet) error
}
