package catalog

import (
	"context"
	"time"

	"github.com/operon-dev/operon/pkg/schema"
)

// TemplateStore is the persistence surface the catalog needs. Implemented by
// LibSQLStore; a nil store makes the catalog builtin-only.
type TemplateStore interface {
	StoreTemplate(ctx context.Context, tpl *schema.WorkflowTemplate) error
	GetTemplate(ctx context.Context, id string) (*schema.WorkflowTemplate, error)
	ListTemplates(ctx context.Context) ([]*schema.WorkflowTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error
}

// builtinTemplates are always available and cannot be overridden or deleted.
var builtinTemplates = []*schema.WorkflowTemplate{
	{
		ID:          "site-deploy",
		Name:        "Site Deploy",
		Description: "Initialize, build and deploy a site",
		Type:        schema.WorkflowTypeDeploy,
		Steps: []schema.StepSpec{
			{ID: "init", Name: "Initialize project", Description: "Prepare the project workspace"},
			{ID: "deps", Name: "Install dependencies", Description: "Resolve and install packages"},
			{ID: "components", Name: "Generate components", Description: "Generate site components"},
			{ID: "build", Name: "Build site", Description: "Compile and bundle assets"},
			{ID: "deploy", Name: "Deploy", Description: "Publish the built site"},
		},
		Tags: []string{"builtin", "deploy"},
	},
	{
		ID:          "site-build",
		Name:        "Site Build",
		Description: "Build a site without deploying",
		Type:        schema.WorkflowTypeBuild,
		Steps: []schema.StepSpec{
			{ID: "init", Name: "Initialize project"},
			{ID: "deps", Name: "Install dependencies"},
			{ID: "build", Name: "Build site"},
		},
		Tags: []string{"builtin", "build"},
	},
	{
		ID:          "content-import",
		Name:        "Content Import",
		Description: "Import external content into the project",
		Type:        schema.WorkflowTypeImport,
		Steps: []schema.StepSpec{
			{ID: "init", Name: "Initialize project"},
			{ID: "fetch", Name: "Fetch content"},
			{ID: "transform", Name: "Transform content"},
			{ID: "store", Name: "Store content"},
		},
		Tags: []string{"builtin", "import"},
	},
}

// Catalog resolves workflow templates: built-in templates first, then the
// backing store for user-defined ones. Built-in ids are reserved.
type Catalog struct {
	builtins  map[string]*schema.WorkflowTemplate
	store     TemplateStore
	validator *TemplateValidator
}

// New creates a Catalog over the given store. store may be nil for a
// builtin-only catalog.
func New(store TemplateStore) (*Catalog, error) {
	validator, err := NewTemplateValidator()
	if err != nil {
		return nil, err
	}
	builtins := make(map[string]*schema.WorkflowTemplate, len(builtinTemplates))
	for _, tpl := range builtinTemplates {
		builtins[tpl.ID] = tpl
	}
	return &Catalog{builtins: builtins, store: store, validator: validator}, nil
}

// Get resolves a template by id. Built-ins shadow stored templates.
func (c *Catalog) Get(ctx context.Context, id string) (*schema.WorkflowTemplate, error) {
	if tpl, ok := c.builtins[id]; ok {
		return cloneTemplate(tpl), nil
	}
	if c.store == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "template not found: "+id)
	}
	return c.store.GetTemplate(ctx, id)
}

// List returns all templates, built-ins first.
func (c *Catalog) List(ctx context.Context) ([]*schema.WorkflowTemplate, error) {
	out := make([]*schema.WorkflowTemplate, 0, len(builtinTemplates))
	for _, tpl := range builtinTemplates {
		out = append(out, cloneTemplate(tpl))
	}
	if c.store == nil {
		return out, nil
	}
	stored, err := c.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	return append(out, stored...), nil
}

// Define validates and stores a user-defined template. Overriding a built-in
// id is a conflict.
func (c *Catalog) Define(ctx context.Context, tpl *schema.WorkflowTemplate) error {
	if err := c.validator.Validate(tpl); err != nil {
		return err
	}
	if _, ok := c.builtins[tpl.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "template id %q is reserved", tpl.ID)
	}
	if c.store == nil {
		return schema.NewError(schema.ErrCodeStore, "catalog has no backing store")
	}
	now := time.Now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	return c.store.StoreTemplate(ctx, tpl)
}

// Delete removes a user-defined template. Built-ins cannot be deleted.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if _, ok := c.builtins[id]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "template id %q is builtin", id)
	}
	if c.store == nil {
		return schema.NewError(schema.ErrCodeNotFound, "template not found: "+id)
	}
	return c.store.DeleteTemplate(ctx, id)
}

func cloneTemplate(tpl *schema.WorkflowTemplate) *schema.WorkflowTemplate {
	cp := *tpl
	cp.Steps = make([]schema.StepSpec, len(tpl.Steps))
	copy(cp.Steps, tpl.Steps)
	if tpl.Tags != nil {
		cp.Tags = make([]string, len(tpl.Tags))
		copy(cp.Tags, tpl.Tags)
	}
	return &cp
}
