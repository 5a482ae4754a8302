// Package registry owns napp metadata: validation, ownership enforcement,
// readme resolution and synchronization from the package's git remote.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"napps/internal/kv"
	"napps/internal/models"
)

// RemoteFetcher pulls package files from the napp's source-control remote.
type RemoteFetcher interface {
	FetchMetadata(ctx context.Context, napp *models.Napp) (map[string]any, error)
	FetchReadme(ctx context.Context, napp *models.Napp) (string, error)
}

// Renderer turns stored readme text into display HTML.
type Renderer interface {
	Render(src string) (string, error)
}

type Service struct {
	store    *kv.Store
	remote   RemoteFetcher
	renderer Renderer
	validate *validator.Validate
}

func NewService(store *kv.Store, remote RemoteFetcher, renderer Renderer) *Service {
	return &Service{
		store:    store,
		remote:   remote,
		renderer: renderer,
		validate: validator.New(),
	}
}

// ValidateAndPopulate builds a napp from raw attributes. Required fields
// must be present and non-empty, list fields are normalized to ordered
// duplicate-free sequences, unknown attributes are ignored. An empty readme
// is backfilled from the remote on a best-effort basis: an unreachable
// repository leaves it empty.
func (s *Service) ValidateAndPopulate(ctx context.Context, attrs map[string]any) (*models.Napp, error) {
	ofversion, err := listAttr(attrs, "ofversion")
	if err != nil {
		return nil, err
	}
	tags, err := listAttr(attrs, "tags")
	if err != nil {
		return nil, err
	}
	// dependencies must be declared even when empty.
	if _, ok := attrs["dependencies"]; !ok {
		return nil, fmt.Errorf("%w: missing or invalid field %q", models.ErrInvalidNappMetadata, "dependencies")
	}
	dependencies, err := listAttr(attrs, "dependencies")
	if err != nil {
		return nil, err
	}
	if dependencies == nil {
		dependencies = []string{}
	}

	napp := &models.Napp{
		Author:          stringAttr(attrs, "author"),
		Name:            stringAttr(attrs, "name"),
		Version:         stringAttr(attrs, "version"),
		Description:     stringAttr(attrs, "description"),
		LongDescription: stringAttr(attrs, "long_description"),
		License:         stringAttr(attrs, "license"),
		Git:             stringAttr(attrs, "git"),
		Branch:          stringAttr(attrs, "branch"),
		Readme:          stringAttr(attrs, "readme"),
		OFVersion:       dedupe(ofversion),
		Tags:            dedupe(tags),
		Dependencies:    dedupe(dependencies),
	}

	if err := s.validate.Struct(napp); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			field := strings.ToLower(fieldErrs[0].Field())
			return nil, fmt.Errorf("%w: missing or invalid field %q", models.ErrInvalidNappMetadata, field)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidNappMetadata, err)
	}

	if napp.Readme == "" && s.remote != nil {
		if readme, err := s.remote.FetchReadme(ctx, napp); err == nil {
			napp.Readme = readme
		}
	}

	return napp, nil
}

// Create validates the attributes and persists a new napp owned by the
// acting user. The declared author must be the acting user.
func (s *Service) Create(ctx context.Context, attrs map[string]any, acting *models.User) (*models.Napp, error) {
	napp, err := s.ValidateAndPopulate(ctx, attrs)
	if err != nil {
		return nil, err
	}
	if err := models.RequireOwner(acting, napp.Author); err != nil {
		return nil, err
	}

	if err := s.save(ctx, napp); err != nil {
		return nil, err
	}

	return napp, nil
}

// Update repopulates an existing napp from new attributes. Ownership cannot
// be transferred: the new attributes' author must be the existing owner.
func (s *Service) Update(ctx context.Context, existing *models.Napp, attrs map[string]any) (*models.Napp, error) {
	if stringAttr(attrs, "author") != existing.Author {
		return nil, fmt.Errorf("%w: author change not allowed", models.ErrInvalidAuthor)
	}

	napp, err := s.ValidateAndPopulate(ctx, attrs)
	if err != nil {
		return nil, err
	}

	if err := s.save(ctx, napp); err != nil {
		return nil, err
	}

	return napp, nil
}

// SyncFromRemote refreshes the napp from the kytos.json at its git remote.
// Unlike the opportunistic readme backfill, a fetch failure here propagates.
func (s *Service) SyncFromRemote(ctx context.Context, napp *models.Napp) (*models.Napp, error) {
	attrs, err := s.remote.FetchMetadata(ctx, napp)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, napp, attrs)
}

// ResolveReadme prefers the stored readme and falls back to the long
// description.
func (s *Service) ResolveReadme(napp *models.Napp) string {
	if napp.Readme != "" {
		return napp.Readme
	}
	return napp.LongDescription
}

// RenderReadme resolves the readme and delegates HTML rendering.
func (s *Service) RenderReadme(napp *models.Napp) (string, error) {
	return s.renderer.Render(s.ResolveReadme(napp))
}

func (s *Service) Get(ctx context.Context, author, name string) (*models.Napp, error) {
	fields, err := s.store.HGetAll(ctx, models.NappKey(author, name))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("napp %s/%s: %w", author, name, models.ErrEntryNotFound)
	}
	if err != nil {
		return nil, err
	}
	return models.NappFromFields(fields)
}

func (s *Service) All(ctx context.Context) ([]*models.Napp, error) {
	return s.loadSet(ctx, "napps")
}

func (s *Service) ByOwner(ctx context.Context, username string) ([]*models.Napp, error) {
	return s.loadSet(ctx, models.UserKey(username)+":napps")
}

// Delete removes the napp record and every index entry referencing it.
func (s *Service) Delete(ctx context.Context, author, name string) error {
	napp, err := s.Get(ctx, author, name)
	if err != nil {
		return err
	}

	return s.store.Update(ctx, func(tx *kv.Tx) error {
		if err := tx.SRem("napps", napp.Key()); err != nil {
			return err
		}
		if err := tx.SRem(models.UserKey(author)+":napps", napp.Key()); err != nil {
			return err
		}
		return tx.Delete(napp.Key())
	})
}

// save persists the record and both membership indices atomically.
func (s *Service) save(ctx context.Context, napp *models.Napp) error {
	return s.store.Update(ctx, func(tx *kv.Tx) error {
		if err := tx.SAdd("napps", napp.Key()); err != nil {
			return err
		}
		if err := tx.SAdd(models.UserKey(napp.Author)+":napps", napp.Key()); err != nil {
			return err
		}
		return tx.HSetAll(napp.Key(), napp.Fields())
	})
}

func (s *Service) loadSet(ctx context.Context, setKey string) ([]*models.Napp, error) {
	keys, err := s.store.SMembers(ctx, setKey)
	if err != nil {
		return nil, err
	}
	// listings are key-sorted so repeated calls return a stable order
	sort.Strings(keys)

	napps := make([]*models.Napp, 0, len(keys))
	for _, key := range keys {
		fields, err := s.store.HGetAll(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("indexed napp %q has no record: %w", key, models.ErrEntryNotFound)
		}
		if err != nil {
			return nil, err
		}
		napp, err := models.NappFromFields(fields)
		if err != nil {
			return nil, err
		}
		napps = append(napps, napp)
	}

	return napps, nil
}

func stringAttr(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

// listAttr normalizes an array attribute: a native string slice, a JSON
// array of strings, or the stored JSON string form. A present-but-malformed
// value is a metadata error; an absent key yields nil and is caught by
// required-field validation.
func listAttr(attrs map[string]any, key string) ([]string, error) {
	v, ok := attrs[key]
	if !ok || v == nil {
		return nil, nil
	}

	switch value := v.(type) {
	case []string:
		return value, nil
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: field %q holds a non-string item", models.ErrInvalidNappMetadata, key)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		out, err := models.DecodeStringList(value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", models.ErrInvalidNappMetadata, key, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: field %q is not a list", models.ErrInvalidNappMetadata, key)
	}
}

// dedupe drops repeated entries while preserving first-seen order.
func dedupe(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
