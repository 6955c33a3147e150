package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operon-dev/operon/pkg/schema"
)

type fakeTemplateStore struct {
	templates map[string]*schema.WorkflowTemplate
}

func newFakeTemplateStore() *fakeTemplateStore {
	return &fakeTemplateStore{templates: make(map[string]*schema.WorkflowTemplate)}
}

func (f *fakeTemplateStore) StoreTemplate(_ context.Context, tpl *schema.WorkflowTemplate) error {
	f.templates[tpl.ID] = tpl
	return nil
}

func (f *fakeTemplateStore) GetTemplate(_ context.Context, id string) (*schema.WorkflowTemplate, error) {
	tpl, ok := f.templates[id]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeNotFound, "template not found: "+id)
	}
	return tpl, nil
}

func (f *fakeTemplateStore) ListTemplates(_ context.Context) ([]*schema.WorkflowTemplate, error) {
	out := make([]*schema.WorkflowTemplate, 0, len(f.templates))
	for _, tpl := range f.templates {
		out = append(out, tpl)
	}
	return out, nil
}

func (f *fakeTemplateStore) DeleteTemplate(_ context.Context, id string) error {
	if _, ok := f.templates[id]; !ok {
		return schema.NewError(schema.ErrCodeNotFound, "template not found: "+id)
	}
	delete(f.templates, id)
	return nil
}

func validTemplate() *schema.WorkflowTemplate {
	return &schema.WorkflowTemplate{
		ID:   "nightly-backup",
		Name: "Nightly Backup",
		Type: schema.WorkflowTypeCustom,
		Steps: []schema.StepSpec{
			{ID: "snapshot", Name: "Snapshot data"},
			{ID: "upload", Name: "Upload snapshot"},
		},
	}
}

func TestBuiltinTemplatesAlwaysAvailable(t *testing.T) {
	c, err := New(newFakeTemplateStore())
	require.NoError(t, err)

	tpl, err := c.Get(context.Background(), "site-deploy")
	require.NoError(t, err)
	assert.Equal(t, "Site Deploy", tpl.Name)
	require.Len(t, tpl.Steps, 5)
	assert.Equal(t, "init", tpl.Steps[0].ID)
	assert.Equal(t, "deploy", tpl.Steps[4].ID)

	list, err := c.List(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(list), 3)
	assert.Equal(t, "site-deploy", list[0].ID, "builtins listed first")
}

func TestDefineStoresValidTemplate(t *testing.T) {
	store := newFakeTemplateStore()
	c, err := New(store)
	require.NoError(t, err)

	tpl := validTemplate()
	require.NoError(t, c.Define(context.Background(), tpl))
	assert.False(t, tpl.CreatedAt.IsZero())
	assert.False(t, tpl.UpdatedAt.IsZero())

	got, err := c.Get(context.Background(), "nightly-backup")
	require.NoError(t, err)
	assert.Equal(t, "Nightly Backup", got.Name)
}

func TestDefineRejectsInvalidTemplates(t *testing.T) {
	c, err := New(newFakeTemplateStore())
	require.NoError(t, err)
	ctx := context.Background()

	cases := map[string]func(*schema.WorkflowTemplate){
		"missing name":       func(tpl *schema.WorkflowTemplate) { tpl.Name = "" },
		"no steps":           func(tpl *schema.WorkflowTemplate) { tpl.Steps = nil },
		"bad type":           func(tpl *schema.WorkflowTemplate) { tpl.Type = "nonsense" },
		"uppercase id":       func(tpl *schema.WorkflowTemplate) { tpl.ID = "Nightly-Backup" },
		"step missing name":  func(tpl *schema.WorkflowTemplate) { tpl.Steps[0].Name = "" },
		"duplicate step ids": func(tpl *schema.WorkflowTemplate) { tpl.Steps[1].ID = tpl.Steps[0].ID },
	}
	for name, mutate := range cases {
		tpl := validTemplate()
		mutate(tpl)
		err := c.Define(ctx, tpl)
		require.Error(t, err, name)

		var de *schema.Error
		require.True(t, errors.As(err, &de), name)
		assert.Equal(t, schema.ErrCodeValidation, de.Code, name)
	}
}

func TestDefineRejectsBuiltinID(t *testing.T) {
	c, err := New(newFakeTemplateStore())
	require.NoError(t, err)

	tpl := validTemplate()
	tpl.ID = "site-deploy"
	err = c.Define(context.Background(), tpl)
	require.Error(t, err)

	var de *schema.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, schema.ErrCodeConflict, de.Code)
}

func TestDeleteProtectsBuiltins(t *testing.T) {
	store := newFakeTemplateStore()
	c, err := New(store)
	require.NoError(t, err)
	ctx := context.Background()

	err = c.Delete(ctx, "site-deploy")
	require.Error(t, err)
	var de *schema.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, schema.ErrCodeConflict, de.Code)

	require.NoError(t, c.Define(ctx, validTemplate()))
	require.NoError(t, c.Delete(ctx, "nightly-backup"))
	_, err = c.Get(ctx, "nightly-backup")
	assert.Error(t, err)
}

func TestBuiltinOnlyCatalog(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "site-deploy")
	assert.NoError(t, err)

	_, err = c.Get(ctx, "unknown")
	var de *schema.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, schema.ErrCodeNotFound, de.Code)

	err = c.Define(ctx, validTemplate())
	assert.Error(t, err)

	list, listErr := c.List(ctx)
	require.NoError(t, listErr)
	assert.Len(t, list, len(builtinTemplates))
}

func TestGetReturnsCopyOfBuiltin(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	tpl, err := c.Get(context.Background(), "site-deploy")
	require.NoError(t, err)
	tpl.Steps[0].Name = "mutated"
	tpl.Tags[0] = "mutated"

	fresh, err := c.Get(context.Background(), "site-deploy")
	require.NoError(t, err)
	assert.Equal(t, "Initialize project", fresh.Steps[0].Name)
	assert.Equal(t, "builtin", fresh.Tags[0])
}

func TestValidatorAcceptsBuiltins(t *testing.T) {
	v, err := NewTemplateValidator()
	require.NoError(t, err)

	for _, tpl := range builtinTemplates {
		assert.NoError(t, v.Validate(tpl), "builtin %s", tpl.ID)
	}
}

func TestValidatorNilTemplate(t *testing.T) {
	v, err := NewTemplateValidator()
	require.NoError(t, err)
	assert.Error(t, v.Validate(nil))
}
