// Package accesscontrol stores API key pairs together with their embedded,
// ordered list of access rules.
package accesscontrol

import (
	"context"

	"github.com/imagestore/imagestore/internal/models"
)

type Repository interface {
	GetPrivateKey(ctx context.Context, publicKey string) (string, bool, error)
	CreateKeyPair(ctx context.Context, publicKey, privateKey string) error
	DeletePublicKey(ctx context.Context, publicKey string) (bool, error)
	UpdatePrivateKey(ctx context.Context, publicKey, privateKey string) (bool, error)
	KeyExists(ctx context.Context, publicKey string) (bool, error)

	AddRule(ctx context.Context, publicKey string, rule models.AccessRule) (string, error)
	GetRule(ctx context.Context, publicKey, ruleID string) (*models.AccessRule, error)
	DeleteRule(ctx context.Context, publicKey, ruleID string) (bool, error)
	ListRules(ctx context.Context, publicKey string) ([]models.AccessRule, error)

	// RemoveGroupReferences drops every rule, across all key pairs, that
	// grants access through group. It returns the number of key pairs changed.
	RemoveGroupReferences(ctx context.Context, group string) (int64, error)
}
