package memory

import (
	"context"
	"sort"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/category"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
)

// CategoryStore implementation -----------------------------------------------

func (s *Store) CreateCategory(_ context.Context, c category.Category) (category.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = s.nextIDLocked()
	}
	if err := s.checkCategorySlugLocked(c.ID, c.Slug); err != nil {
		return category.Category{}, err
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.categories[c.ID] = c
	return s.countCategoryLocked(c), nil
}

func (s *Store) UpdateCategory(_ context.Context, c category.Category) (category.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.categories[c.ID]
	if !ok {
		return category.Category{}, notFound("category", c.ID)
	}
	if err := s.checkCategorySlugLocked(c.ID, c.Slug); err != nil {
		return category.Category{}, err
	}
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.categories[c.ID] = c
	return s.countCategoryLocked(c), nil
}

func (s *Store) GetCategory(_ context.Context, id string) (category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return category.Category{}, notFound("category", id)
	}
	return s.countCategoryLocked(c), nil
}

func (s *Store) ListCategories(_ context.Context, activeOnly bool) ([]category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]category.Category, 0, len(s.categories))
	for _, c := range s.categories {
		if activeOnly && !c.IsActive {
			continue
		}
		result = append(result, s.countCategoryLocked(c))
	}
	sort.Slice(result, func(i, j int) bool {
		return category.Less(result[i], result[j])
	})
	return result, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[id]
	if !ok {
		return notFound("category", id)
	}
	if counted := s.countCategoryLocked(c); counted.SubcategoryCount > 0 || counted.RequestCount > 0 {
		return conflict("category %s is in use", id)
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) CreateSubcategory(_ context.Context, sc category.Subcategory) (category.Subcategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[sc.CategoryID]; !ok {
		return category.Subcategory{}, notFound("category", sc.CategoryID)
	}
	if sc.ID == "" {
		sc.ID = s.nextIDLocked()
	}
	if err := s.checkSubcategorySlugLocked(sc); err != nil {
		return category.Subcategory{}, err
	}
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now
	s.subcategories[sc.ID] = sc
	return sc, nil
}

func (s *Store) UpdateSubcategory(_ context.Context, sc category.Subcategory) (category.Subcategory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.subcategories[sc.ID]
	if !ok {
		return category.Subcategory{}, notFound("subcategory", sc.ID)
	}
	if _, ok := s.categories[sc.CategoryID]; !ok {
		return category.Subcategory{}, notFound("category", sc.CategoryID)
	}
	if err := s.checkSubcategorySlugLocked(sc); err != nil {
		return category.Subcategory{}, err
	}
	sc.CreatedAt = original.CreatedAt
	sc.UpdatedAt = time.Now().UTC()
	s.subcategories[sc.ID] = sc
	return sc, nil
}

func (s *Store) GetSubcategory(_ context.Context, id string) (category.Subcategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.subcategories[id]
	if !ok {
		return category.Subcategory{}, notFound("subcategory", id)
	}
	return sc, nil
}

func (s *Store) ListSubcategories(_ context.Context, categoryID string, activeOnly bool) ([]category.Subcategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]category.Subcategory, 0)
	for _, sc := range s.subcategories {
		if sc.CategoryID != categoryID || (activeOnly && !sc.IsActive) {
			continue
		}
		result = append(result, sc)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DisplayOrder != result[j].DisplayOrder {
			return result[i].DisplayOrder < result[j].DisplayOrder
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (s *Store) DeleteSubcategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subcategories[id]; !ok {
		return notFound("subcategory", id)
	}
	delete(s.subcategories, id)
	return nil
}

func (s *Store) CountSubcategoryRequests(_ context.Context, subcategoryID string, statuses ...request.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, req := range s.requests {
		if req.SubcategoryID != subcategoryID {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, req.Status) {
			continue
		}
		count++
	}
	return count, nil
}

func hasStatus(statuses []request.Status, status request.Status) bool {
	for _, st := range statuses {
		if st == status {
			return true
		}
	}
	return false
}

func (s *Store) countCategoryLocked(c category.Category) category.Category {
	c.SubcategoryCount = 0
	c.RequestCount = 0
	for _, sc := range s.subcategories {
		if sc.CategoryID == c.ID {
			c.SubcategoryCount++
		}
	}
	for _, req := range s.requests {
		if req.CategoryID == c.ID {
			c.RequestCount++
		}
	}
	return c
}

func (s *Store) checkCategorySlugLocked(id, slug string) error {
	for _, other := range s.categories {
		if other.ID != id && other.Slug == slug {
			return conflict("category slug %q is taken", slug)
		}
	}
	return nil
}

func (s *Store) checkSubcategorySlugLocked(sc category.Subcategory) error {
	for _, other := range s.subcategories {
		if other.ID != sc.ID && other.CategoryID == sc.CategoryID && other.Slug == sc.Slug {
			return conflict("subcategory slug %q is taken", sc.Slug)
		}
	}
	return nil
}
