package categories

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/category"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

func boolPtr(b bool) *bool { return &b }

func newService() (*Service, *memory.Store) {
	store := memory.New()
	return New(store, nil), store
}

func TestCreateDerivesSlugAndDefaults(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	c, err := svc.Create(ctx, CategoryInput{Name: "  Elettricità "})
	require.NoError(t, err)
	assert.Equal(t, "Elettricità", c.Name)
	assert.Equal(t, "elettricita", c.Slug)
	assert.Equal(t, category.DefaultColor, c.Color)
	assert.Equal(t, category.DefaultTextColor, c.TextColor)
	assert.True(t, c.IsActive)

	_, err = svc.Create(ctx, CategoryInput{Name: "Elettricita"})
	assert.Equal(t, http.StatusConflict, errors.HTTPStatusFor(err))

	_, err = svc.Create(ctx, CategoryInput{Name: "Idraulica", Color: "blue"})
	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, errors.CodeValidation, se.Code)
}

func TestInactiveCategoriesHiddenFromPublic(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	active, err := svc.Create(ctx, CategoryInput{Name: "Idraulica"})
	require.NoError(t, err)
	hidden, err := svc.Create(ctx, CategoryInput{Name: "Giardinaggio", IsActive: boolPtr(false)})
	require.NoError(t, err)

	public, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, active.ID, public[0].ID)

	all, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.Get(ctx, hidden.ID, false)
	assert.Equal(t, http.StatusNotFound, errors.HTTPStatusFor(err))
}

func TestDeleteRefusedWhileInUse(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	c, err := svc.Create(ctx, CategoryInput{Name: "Idraulica"})
	require.NoError(t, err)
	sc, err := svc.CreateSubcategory(ctx, SubcategoryInput{CategoryID: c.ID, Name: "Caldaie"})
	require.NoError(t, err)

	err = svc.Delete(ctx, c.ID)
	assert.Equal(t, http.StatusConflict, errors.HTTPStatusFor(err))

	req, err := store.CreateRequest(ctx, request.Request{
		ClientID: "c1", Title: "Caldaia", CategoryID: c.ID, SubcategoryID: sc.ID, Status: request.StatusPending,
	})
	require.NoError(t, err)

	err = svc.DeleteSubcategory(ctx, sc.ID)
	assert.Equal(t, http.StatusConflict, errors.HTTPStatusFor(err), "open request blocks removal")

	req.Status = request.StatusCompleted
	_, err = store.UpdateRequest(ctx, req)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteSubcategory(ctx, sc.ID))

	err = svc.Delete(ctx, c.ID)
	assert.Equal(t, http.StatusConflict, errors.HTTPStatusFor(err), "requests still reference the category")
}

func TestSubcategorySlugUniquePerCategory(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	a, err := svc.Create(ctx, CategoryInput{Name: "Idraulica"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CategoryInput{Name: "Riscaldamento"})
	require.NoError(t, err)

	_, err = svc.CreateSubcategory(ctx, SubcategoryInput{CategoryID: a.ID, Name: "Caldaie"})
	require.NoError(t, err)
	_, err = svc.CreateSubcategory(ctx, SubcategoryInput{CategoryID: a.ID, Name: "caldaie"})
	assert.Equal(t, http.StatusConflict, errors.HTTPStatusFor(err))
	_, err = svc.CreateSubcategory(ctx, SubcategoryInput{CategoryID: b.ID, Name: "Caldaie"})
	assert.NoError(t, err)

	_, err = svc.CreateSubcategory(ctx, SubcategoryInput{CategoryID: "missing", Name: "Boiler"})
	assert.Equal(t, http.StatusNotFound, errors.HTTPStatusFor(err))

	subs, err := svc.Subcategories(ctx, a.ID, false)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestValidate(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	plumbing, err := svc.Create(ctx, CategoryInput{Name: "Idraulica"})
	require.NoError(t, err)
	heating, err := svc.Create(ctx, CategoryInput{Name: "Riscaldamento"})
	require.NoError(t, err)
	closed, err := svc.Create(ctx, CategoryInput{Name: "Traslochi", IsActive: boolPtr(false)})
	require.NoError(t, err)
	boilers, err := svc.CreateSubcategory(ctx, SubcategoryInput{CategoryID: heating.ID, Name: "Caldaie"})
	require.NoError(t, err)
	retired, err := svc.CreateSubcategory(ctx, SubcategoryInput{CategoryID: heating.ID, Name: "Stufe", IsActive: boolPtr(false)})
	require.NoError(t, err)

	assert.NoError(t, svc.Validate(ctx, plumbing.ID, ""))
	assert.NoError(t, svc.Validate(ctx, heating.ID, boilers.ID))

	cases := []struct {
		name          string
		category, sub string
		field         string
	}{
		{"unknown category", "missing", "", "categoryId"},
		{"inactive category", closed.ID, "", "categoryId"},
		{"foreign subcategory", plumbing.ID, boilers.ID, "subcategoryId"},
		{"unknown subcategory", heating.ID, "missing", "subcategoryId"},
		{"inactive subcategory", heating.ID, retired.ID, "subcategoryId"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			se := errors.GetServiceError(svc.Validate(ctx, tc.category, tc.sub))
			require.NotNil(t, se)
			assert.Equal(t, errors.CodeValidation, se.Code)
			assert.Contains(t, se.Details, tc.field)
		})
	}
}
