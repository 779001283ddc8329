package accesscontrol

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/imagestore/imagestore/internal/common"
	"github.com/imagestore/imagestore/internal/docstore"
	"github.com/imagestore/imagestore/internal/logging"
	"github.com/imagestore/imagestore/internal/models"
	"github.com/imagestore/imagestore/internal/normalize"
)

const CollectionName = "accesscontrol"

const (
	fieldPublicKey  = "publicKey"
	fieldPrivateKey = "privateKey"
	fieldACL        = "acl"

	ruleID        = "id"
	ruleResources = "resources"
	ruleUsers     = "users"
	ruleGroup     = "group"
)

// DocumentRepository keeps one document per key pair; rules live in its
// acl array and are only ever changed through whole-document updates.
type DocumentRepository struct {
	keys  docstore.Collection
	newID func() string
	log   logging.Logger
}

type Option func(*DocumentRepository)

// WithIDGenerator replaces uuid.NewString as the source of rule ids.
func WithIDGenerator(f func() string) Option {
	return func(r *DocumentRepository) { r.newID = f }
}

func WithLogger(l logging.Logger) Option {
	return func(r *DocumentRepository) { r.log = l }
}

func NewDocumentRepository(store docstore.Store, opts ...Option) *DocumentRepository {
	r := &DocumentRepository{
		keys:  store.Collection(CollectionName),
		newID: uuid.NewString,
		log:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("repository", "accesscontrol")
	return r
}

func byPublicKey(publicKey string) docstore.Filter {
	return docstore.Filter{docstore.Eq(fieldPublicKey, publicKey)}
}

func persistence(action string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrPersistence, action, err)
}

func (r *DocumentRepository) findKey(ctx context.Context, publicKey string, projection []string) (docstore.Document, bool, error) {
	doc, err := r.keys.FindOne(ctx, byPublicKey(publicKey), &docstore.FindOptions{Projection: projection})
	if errors.Is(err, docstore.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, persistence("unable to find key pair", err)
	}
	return doc, true, nil
}

func (r *DocumentRepository) GetPrivateKey(ctx context.Context, publicKey string) (string, bool, error) {
	doc, ok, err := r.findKey(ctx, publicKey, []string{fieldPrivateKey})
	if err != nil || !ok {
		return "", false, err
	}
	priv, ok := doc[fieldPrivateKey].(string)
	return priv, ok, nil
}

// CreateKeyPair inserts a key pair with an empty rule list. A second pair
// for the same public key is rejected with common.ErrConflict when the
// store enforces the publicKey unique index.
func (r *DocumentRepository) CreateKeyPair(ctx context.Context, publicKey, privateKey string) error {
	err := r.keys.InsertOne(ctx, docstore.Document{
		fieldPublicKey:  publicKey,
		fieldPrivateKey: privateKey,
		fieldACL:        []any{},
	})
	if errors.Is(err, docstore.ErrDuplicateKey) {
		return fmt.Errorf("%w: public key %s already exists", common.ErrConflict, publicKey)
	}
	if err != nil {
		return persistence("unable to insert key", err)
	}
	return nil
}

func (r *DocumentRepository) DeletePublicKey(ctx context.Context, publicKey string) (bool, error) {
	n, err := r.keys.DeleteOne(ctx, byPublicKey(publicKey))
	if err != nil {
		return false, persistence("unable to delete key", err)
	}
	return n > 0, nil
}

// UpdatePrivateKey reports whether a key pair matched, even if the private
// key was already set to the same value.
func (r *DocumentRepository) UpdatePrivateKey(ctx context.Context, publicKey, privateKey string) (bool, error) {
	res, err := r.keys.UpdateOne(ctx, byPublicKey(publicKey), docstore.Update{
		Set: map[string]any{fieldPrivateKey: privateKey},
	})
	if err != nil {
		return false, persistence("unable to update private key", err)
	}
	return res.Matched > 0, nil
}

func (r *DocumentRepository) KeyExists(ctx context.Context, publicKey string) (bool, error) {
	_, ok, err := r.findKey(ctx, publicKey, []string{fieldPublicKey})
	return ok, err
}

// AddRule appends rule under a freshly generated id and returns that id.
// Any ID set by the caller is ignored.
func (r *DocumentRepository) AddRule(ctx context.Context, publicKey string, rule models.AccessRule) (string, error) {
	id := r.newID()
	entry := map[string]any{
		ruleID:        id,
		ruleResources: stringList(rule.Resources),
	}
	if rule.Users != nil {
		entry[ruleUsers] = stringList(rule.Users)
	}
	if rule.Group != "" {
		entry[ruleGroup] = rule.Group
	}

	res, err := r.keys.UpdateOne(ctx, byPublicKey(publicKey), docstore.Update{
		Push: map[string]any{fieldACL: entry},
	})
	if err != nil {
		return "", persistence("unable to add access rule", err)
	}
	if res.Matched == 0 {
		return "", fmt.Errorf("%w: public key %s", common.ErrNotFound, publicKey)
	}
	return id, nil
}

func (r *DocumentRepository) GetRule(ctx context.Context, publicKey, id string) (*models.AccessRule, error) {
	rules, err := r.ListRules(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if rules[i].ID == id {
			return &rules[i], nil
		}
	}
	return nil, nil
}

// DeleteRule pulls the rule with the given id. It reports false when the key
// pair or the rule does not exist.
func (r *DocumentRepository) DeleteRule(ctx context.Context, publicKey, id string) (bool, error) {
	res, err := r.keys.UpdateOne(ctx, byPublicKey(publicKey), docstore.Update{
		Pull: map[string]docstore.Document{fieldACL: {ruleID: ruleIDMatch(id)}},
	})
	if err != nil {
		return false, persistence("unable to delete access rule", err)
	}
	return res.Modified > 0, nil
}

// ruleIDMatch also matches rules stored with ObjectID ids, which ListRules
// reports in hex.
func ruleIDMatch(id string) any {
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return docstore.AnyOf{id, oid}
	}
	return id
}

// ListRules returns the rules of a key pair in insertion order. An unknown
// key has no rules.
func (r *DocumentRepository) ListRules(ctx context.Context, publicKey string) ([]models.AccessRule, error) {
	doc, ok, err := r.findKey(ctx, publicKey, []string{fieldACL})
	if err != nil || !ok {
		return nil, err
	}
	list, _ := normalize.Value(doc[fieldACL]).([]any)

	rules := make([]models.AccessRule, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			r.log.Warn(ctx, "skipping malformed access rule", "publicKey", publicKey)
			continue
		}
		rules = append(rules, decodeRule(entry))
	}
	return rules, nil
}

func (r *DocumentRepository) RemoveGroupReferences(ctx context.Context, group string) (int64, error) {
	res, err := r.keys.UpdateMany(ctx,
		docstore.Filter{docstore.Eq(fieldACL+"."+ruleGroup, group)},
		docstore.Update{Pull: map[string]docstore.Document{fieldACL: {ruleGroup: group}}},
	)
	if err != nil {
		return 0, persistence("unable to remove group references", err)
	}
	return res.Modified, nil
}

func decodeRule(entry map[string]any) models.AccessRule {
	rule := models.AccessRule{
		ID:        normalize.String(entry[ruleID]),
		Resources: normalize.Strings(entry[ruleResources]),
		Users:     normalize.Strings(entry[ruleUsers]),
		Group:     normalize.String(entry[ruleGroup]),
	}
	if rule.Resources == nil {
		rule.Resources = []string{}
	}
	return rule
}

func stringList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
