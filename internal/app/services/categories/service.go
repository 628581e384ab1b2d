// Package categories manages the service catalogue and checks the category
// references carried by requests.
package categories

import (
	"context"
	"regexp"
	"strings"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/category"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// openStatuses block the removal of a subcategory.
var openStatuses = []request.Status{request.StatusPending, request.StatusAssigned, request.StatusInProgress}

// CategoryInput carries the editable fields of a category. Nil pointers keep
// the stored value on update.
type CategoryInput struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Description  string `json:"description"`
	Icon         string `json:"icon"`
	Color        string `json:"color"`
	TextColor    string `json:"textColor"`
	IsActive     *bool  `json:"isActive"`
	DisplayOrder *int   `json:"displayOrder"`
}

// SubcategoryInput carries the editable fields of a subcategory.
type SubcategoryInput struct {
	CategoryID   string `json:"categoryId"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Description  string `json:"description"`
	Color        string `json:"color"`
	IsActive     *bool  `json:"isActive"`
	DisplayOrder *int   `json:"displayOrder"`
}

// Service manages categories and subcategories.
type Service struct {
	store storage.CategoryStore
	log   *logger.Logger
}

// New constructs the catalogue service.
func New(store storage.CategoryStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("categories")
	}
	return &Service{store: store, log: log}
}

// List returns categories ordered for display. Inactive ones are included
// only when includeInactive is set.
func (s *Service) List(ctx context.Context, includeInactive bool) ([]category.Category, error) {
	cats, err := s.store.ListCategories(ctx, !includeInactive)
	if err != nil {
		return nil, err
	}
	if cats == nil {
		cats = []category.Category{}
	}
	return cats, nil
}

// Get returns a category. Inactive categories are hidden from the public.
func (s *Service) Get(ctx context.Context, id string, includeInactive bool) (category.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return category.Category{}, err
	}
	if !c.IsActive && !includeInactive {
		return category.Category{}, errors.NotFound("category", id)
	}
	return c, nil
}

// Create stores a category. The slug is derived from the name when empty.
func (s *Service) Create(ctx context.Context, in CategoryInput) (category.Category, error) {
	c := category.Category{
		Color:     category.DefaultColor,
		TextColor: category.DefaultTextColor,
		IsActive:  true,
	}
	if err := applyCategory(&c, in); err != nil {
		return category.Category{}, err
	}
	created, err := s.store.CreateCategory(ctx, c)
	if err != nil {
		return category.Category{}, slugConflict(err, c.Slug)
	}
	s.log.WithField("category_id", created.ID).WithField("slug", created.Slug).Info("category created")
	return created, nil
}

// Update replaces the editable fields of a category.
func (s *Service) Update(ctx context.Context, id string, in CategoryInput) (category.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return category.Category{}, err
	}
	if err := applyCategory(&c, in); err != nil {
		return category.Category{}, err
	}
	updated, err := s.store.UpdateCategory(ctx, c)
	if err != nil {
		return category.Category{}, slugConflict(err, c.Slug)
	}
	return updated, nil
}

// Delete removes a category that has neither subcategories nor requests.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return err
	}
	if c.SubcategoryCount > 0 {
		return errors.Conflict("category has %d subcategories", c.SubcategoryCount)
	}
	if c.RequestCount > 0 {
		return errors.Conflict("category is used by %d requests", c.RequestCount)
	}
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.log.WithField("category_id", id).Info("category deleted")
	return nil
}

// Subcategories lists the subcategories of a category.
func (s *Service) Subcategories(ctx context.Context, categoryID string, includeInactive bool) ([]category.Subcategory, error) {
	if _, err := s.Get(ctx, categoryID, includeInactive); err != nil {
		return nil, err
	}
	subs, err := s.store.ListSubcategories(ctx, categoryID, !includeInactive)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []category.Subcategory{}
	}
	return subs, nil
}

// CreateSubcategory stores a subcategory under an existing category.
func (s *Service) CreateSubcategory(ctx context.Context, in SubcategoryInput) (category.Subcategory, error) {
	if strings.TrimSpace(in.CategoryID) == "" {
		return category.Subcategory{}, errors.Validation(map[string]string{"categoryId": "categoryId is required"})
	}
	if _, err := s.store.GetCategory(ctx, in.CategoryID); err != nil {
		return category.Subcategory{}, err
	}
	sc := category.Subcategory{IsActive: true}
	if err := applySubcategory(&sc, in); err != nil {
		return category.Subcategory{}, err
	}
	created, err := s.store.CreateSubcategory(ctx, sc)
	if err != nil {
		return category.Subcategory{}, slugConflict(err, sc.Slug)
	}
	return created, nil
}

// UpdateSubcategory replaces the editable fields of a subcategory. An empty
// categoryId keeps the current parent.
func (s *Service) UpdateSubcategory(ctx context.Context, id string, in SubcategoryInput) (category.Subcategory, error) {
	sc, err := s.store.GetSubcategory(ctx, id)
	if err != nil {
		return category.Subcategory{}, err
	}
	if in.CategoryID == "" {
		in.CategoryID = sc.CategoryID
	} else if _, err := s.store.GetCategory(ctx, in.CategoryID); err != nil {
		return category.Subcategory{}, err
	}
	if err := applySubcategory(&sc, in); err != nil {
		return category.Subcategory{}, err
	}
	updated, err := s.store.UpdateSubcategory(ctx, sc)
	if err != nil {
		return category.Subcategory{}, slugConflict(err, sc.Slug)
	}
	return updated, nil
}

// DeleteSubcategory removes a subcategory unless open requests reference it.
func (s *Service) DeleteSubcategory(ctx context.Context, id string) error {
	if _, err := s.store.GetSubcategory(ctx, id); err != nil {
		return err
	}
	open, err := s.store.CountSubcategoryRequests(ctx, id, openStatuses...)
	if err != nil {
		return err
	}
	if open > 0 {
		return errors.Conflict("subcategory has %d open requests", open)
	}
	return s.store.DeleteSubcategory(ctx, id)
}

// Validate checks that categoryID names an active category and that
// subcategoryID, when set, is an active subcategory of it.
func (s *Service) Validate(ctx context.Context, categoryID, subcategoryID string) error {
	c, err := s.store.GetCategory(ctx, categoryID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !c.IsActive) {
		return errors.Validation(map[string]string{"categoryId": "unknown category"})
	}
	if err != nil {
		return err
	}
	if subcategoryID == "" {
		return nil
	}
	sc, err := s.store.GetSubcategory(ctx, subcategoryID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && (!sc.IsActive || sc.CategoryID != c.ID)) {
		return errors.Validation(map[string]string{"subcategoryId": "subcategory does not belong to the category"})
	}
	return err
}

func applyCategory(c *category.Category, in CategoryInput) error {
	fields := map[string]string{}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		fields["name"] = "name is required"
	}
	slug := category.Slugify(in.Slug)
	if slug == "" {
		slug = category.Slugify(name)
	}
	if slug == "" && name != "" {
		fields["slug"] = "slug must contain letters or digits"
	}
	if in.Color != "" && !hexColor.MatchString(in.Color) {
		fields["color"] = "color must be #RRGGBB"
	}
	if in.TextColor != "" && !hexColor.MatchString(in.TextColor) {
		fields["textColor"] = "textColor must be #RRGGBB"
	}
	if len(fields) > 0 {
		return errors.Validation(fields)
	}
	c.Name = name
	c.Slug = slug
	c.Description = strings.TrimSpace(in.Description)
	c.Icon = strings.TrimSpace(in.Icon)
	if in.Color != "" {
		c.Color = in.Color
	}
	if in.TextColor != "" {
		c.TextColor = in.TextColor
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if in.DisplayOrder != nil {
		c.DisplayOrder = *in.DisplayOrder
	}
	return nil
}

func applySubcategory(sc *category.Subcategory, in SubcategoryInput) error {
	fields := map[string]string{}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		fields["name"] = "name is required"
	}
	slug := category.Slugify(in.Slug)
	if slug == "" {
		slug = category.Slugify(name)
	}
	if slug == "" && name != "" {
		fields["slug"] = "slug must contain letters or digits"
	}
	if in.Color != "" && !hexColor.MatchString(in.Color) {
		fields["color"] = "color must be #RRGGBB"
	}
	if len(fields) > 0 {
		return errors.Validation(fields)
	}
	sc.CategoryID = in.CategoryID
	sc.Name = name
	sc.Slug = slug
	sc.Description = strings.TrimSpace(in.Description)
	if in.Color != "" {
		sc.Color = in.Color
	}
	if in.IsActive != nil {
		sc.IsActive = *in.IsActive
	}
	if in.DisplayOrder != nil {
		sc.DisplayOrder = *in.DisplayOrder
	}
	return nil
}

func slugConflict(err error, slug string) error {
	if errors.Is(err, storage.ErrConflict) {
		return errors.Conflict("slug %q is already in use", slug)
	}
	return err
}
