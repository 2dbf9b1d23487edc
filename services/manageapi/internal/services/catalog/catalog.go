package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentgraph/agentgraph-open/pkg/logger"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/store"
)

// Service handles the project-scoped catalog of tools, data components and
// artifact components.
type Service struct {
	store  *store.Store
	logger *logger.Logger
}

// NewService creates a new catalog service
func NewService(s *store.Store, logger *logger.Logger) *Service {
	return &Service{
		store:  s,
		logger: logger,
	}
}

// Missing returns the ids that have no catalog entry of the given kind,
// deduplicated and in first-seen order.
func (s *Service) Missing(ctx context.Context, scope models.Scope, kind models.CatalogKind, ids []string) ([]string, error) {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return nil, nil
	}

	var found map[string]bool
	err := s.store.Read(ctx, func(tx *store.Tx) error {
		var err error
		found, err = tx.ExistingCatalogIDs(ctx, scope, kind, unique)
		return err
	})
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range unique {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// List returns one page of entries of a kind.
func (s *Service) List(ctx context.Context, scope models.Scope, kind models.CatalogKind, limit, offset int) ([]*models.CatalogEntry, int, error) {
	var entries []*models.CatalogEntry
	var total int
	err := s.store.Read(ctx, func(tx *store.Tx) error {
		var err error
		entries, total, err = tx.ListCatalog(ctx, scope, kind, limit, offset)
		return err
	})
	return entries, total, err
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, scope models.Scope, kind models.CatalogKind, id string) (*models.CatalogEntry, error) {
	var entry *models.CatalogEntry
	err := s.store.Read(ctx, func(tx *store.Tx) error {
		var err error
		entry, err = tx.GetCatalogEntry(ctx, scope, kind, id)
		return err
	})
	return entry, err
}

// Create adds an entry. An existing id is a ConflictError.
func (s *Service) Create(ctx context.Context, scope models.Scope, kind models.CatalogKind, in models.CatalogInput) (*models.CatalogEntry, error) {
	if err := validateInput(in, true); err != nil {
		return nil, err
	}
	config, err := encodeConfig(in.Config)
	if err != nil {
		return nil, err
	}

	now := store.Now()
	entry := &models.CatalogEntry{
		Scope:       scope,
		Kind:        kind,
		ID:          in.ID,
		Name:        in.Name.Value,
		Description: in.Description.Or(""),
		Config:      config,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		return tx.InsertCatalogEntry(ctx, entry)
	})
	if err != nil {
		s.logger.Errorf("Failed to create %s %s: %v", kind, in.ID, err)
		return nil, err
	}
	s.logger.Infof("Created %s %s for tenant: %s, project: %s", kind, entry.ID, scope.TenantID, scope.ProjectID)
	return entry, nil
}

// Update applies a partial update to an entry.
func (s *Service) Update(ctx context.Context, scope models.Scope, kind models.CatalogKind, id string, in models.CatalogInput) (*models.CatalogEntry, error) {
	if err := validateInput(in, false); err != nil {
		return nil, err
	}

	var entry *models.CatalogEntry
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		entry, err = tx.GetCatalogEntry(ctx, scope, kind, id)
		if err != nil {
			return err
		}
		if in.Name.HasValue() {
			entry.Name = in.Name.Value
		}
		if in.Description.Set {
			entry.Description = in.Description.Or("")
		}
		if in.Config != nil {
			if entry.Config, err = encodeConfig(in.Config); err != nil {
				return err
			}
		}
		entry.UpdatedAt = store.Now()
		return tx.UpdateCatalogEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Delete removes an entry. Entries still referenced by an agent cannot be
// deleted.
func (s *Service) Delete(ctx context.Context, scope models.Scope, kind models.CatalogKind, id string) error {
	return s.store.InTx(ctx, func(tx *store.Tx) error {
		exists, err := tx.LockCatalogEntry(ctx, scope, kind, id)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound(kindResource(kind))
		}

		agents, err := tx.ListProjectAgents(ctx, scope)
		if err != nil {
			return err
		}
		var users []string
		for _, a := range agents {
			if references(a, kind, id) {
				users = append(users, a.GraphID+"/"+a.ID)
			}
		}
		if len(users) > 0 {
			return apperr.Conflict(fmt.Sprintf("%s %s is still used by agents %s", kind, id, strings.Join(users, ", ")), nil)
		}

		ok, err := tx.DeleteCatalogEntry(ctx, scope, kind, id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound(kindResource(kind))
		}
		s.logger.Infof("Deleted %s %s for tenant: %s, project: %s", kind, id, scope.TenantID, scope.ProjectID)
		return nil
	})
}

// References returns the catalog ids of one kind an agent refers to.
func References(a *models.Agent, kind models.CatalogKind) []string {
	switch kind {
	case models.CatalogTool:
		ids := append([]string(nil), a.Tools...)
		for _, sel := range a.CanUse {
			ids = append(ids, sel.ToolID)
		}
		return ids
	case models.CatalogDataComponent:
		return a.DataComponents
	case models.CatalogArtifactComponent:
		return a.ArtifactComponents
	}
	return nil
}

func references(a *models.Agent, kind models.CatalogKind, id string) bool {
	for _, ref := range References(a, kind) {
		if ref == id {
			return true
		}
	}
	return false
}

func validateInput(in models.CatalogInput, create bool) error {
	schemaErr := &apperr.SchemaValidationError{}
	if create && in.ID == "" {
		schemaErr.Errors = append(schemaErr.Errors, apperr.FieldError{Pointer: "/id", Reason: "is required"})
	}
	if in.Name.Set && (in.Name.Null || in.Name.Value == "") {
		schemaErr.Errors = append(schemaErr.Errors, apperr.FieldError{Pointer: "/name", Reason: "must be a non-empty string"})
	} else if create && !in.Name.Set {
		schemaErr.Errors = append(schemaErr.Errors, apperr.FieldError{Pointer: "/name", Reason: "is required"})
	}
	if len(schemaErr.Errors) > 0 {
		return schemaErr
	}
	return nil
}

func encodeConfig(config map[string]any) ([]byte, error) {
	if config == nil {
		return nil, nil
	}
	data, err := json.Marshal(config)
	if err != nil {
		return nil, apperr.NewSchemaError("/config", "must be a JSON object")
	}
	return data, nil
}

func kindResource(kind models.CatalogKind) string {
	switch kind {
	case models.CatalogDataComponent:
		return "Data component"
	case models.CatalogArtifactComponent:
		return "Artifact component"
	default:
		return "Tool"
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
