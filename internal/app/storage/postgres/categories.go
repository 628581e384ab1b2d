package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/category"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
)

// --- CategoryStore ----------------------------------------------------------

const categoryColumns = `id, name, slug, description, icon, color, text_color, is_active, display_order, created_at, updated_at`

const categorySelect = `SELECT c.id, c.name, c.slug, c.description, c.icon, c.color, c.text_color, c.is_active,
		c.display_order, c.created_at, c.updated_at,
		(SELECT COUNT(*) FROM subcategories sc WHERE sc.category_id = c.id) AS subcategory_count,
		(SELECT COUNT(*) FROM assistance_requests r WHERE r.category_id = c.id) AS request_count
	FROM categories c`

type categoryRow struct {
	ID               string    `db:"id"`
	Name             string    `db:"name"`
	Slug             string    `db:"slug"`
	Description      string    `db:"description"`
	Icon             string    `db:"icon"`
	Color            string    `db:"color"`
	TextColor        string    `db:"text_color"`
	IsActive         bool      `db:"is_active"`
	DisplayOrder     int       `db:"display_order"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
	SubcategoryCount int       `db:"subcategory_count"`
	RequestCount     int       `db:"request_count"`
}

func (r categoryRow) toDomain() category.Category {
	return category.Category{
		ID:               r.ID,
		Name:             r.Name,
		Slug:             r.Slug,
		Description:      r.Description,
		Icon:             r.Icon,
		Color:            r.Color,
		TextColor:        r.TextColor,
		IsActive:         r.IsActive,
		DisplayOrder:     r.DisplayOrder,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		SubcategoryCount: r.SubcategoryCount,
		RequestCount:     r.RequestCount,
	}
}

func (s *Store) CreateCategory(ctx context.Context, c category.Category) (category.Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.Name, c.Slug, c.Description, c.Icon, c.Color, c.TextColor, c.IsActive, c.DisplayOrder, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return category.Category{}, mapErr("category", c.Slug, err)
	}
	return c, nil
}

func (s *Store) UpdateCategory(ctx context.Context, c category.Category) (category.Category, error) {
	c.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE categories
		SET name = $2, slug = $3, description = $4, icon = $5, color = $6, text_color = $7,
			is_active = $8, display_order = $9, updated_at = $10
		WHERE id = $1
	`, c.ID, c.Name, c.Slug, c.Description, c.Icon, c.Color, c.TextColor, c.IsActive, c.DisplayOrder, c.UpdatedAt)
	if err != nil {
		return category.Category{}, mapErr("category", c.Slug, err)
	}
	if err := mustAffect(result, "category", c.ID); err != nil {
		return category.Category{}, err
	}
	return s.GetCategory(ctx, c.ID)
}

func (s *Store) GetCategory(ctx context.Context, id string) (category.Category, error) {
	var row categoryRow
	if err := s.db.GetContext(ctx, &row, categorySelect+` WHERE c.id = $1`, id); err != nil {
		return category.Category{}, mapErr("category", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListCategories(ctx context.Context, activeOnly bool) ([]category.Category, error) {
	query := categorySelect
	if activeOnly {
		query += ` WHERE c.is_active = TRUE`
	}
	query += ` ORDER BY c.display_order, c.created_at DESC`

	var rows []categoryRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	result := make([]category.Category, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return mapErr("category", id, err)
	}
	return mustAffect(result, "category", id)
}

const subcategoryColumns = `id, category_id, name, slug, description, color, is_active, display_order, created_at, updated_at`

type subcategoryRow struct {
	ID           string    `db:"id"`
	CategoryID   string    `db:"category_id"`
	Name         string    `db:"name"`
	Slug         string    `db:"slug"`
	Description  string    `db:"description"`
	Color        string    `db:"color"`
	IsActive     bool      `db:"is_active"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r subcategoryRow) toDomain() category.Subcategory {
	return category.Subcategory{
		ID:           r.ID,
		CategoryID:   r.CategoryID,
		Name:         r.Name,
		Slug:         r.Slug,
		Description:  r.Description,
		Color:        r.Color,
		IsActive:     r.IsActive,
		DisplayOrder: r.DisplayOrder,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s *Store) CreateSubcategory(ctx context.Context, sc category.Subcategory) (category.Subcategory, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subcategories (`+subcategoryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sc.ID, sc.CategoryID, sc.Name, sc.Slug, sc.Description, sc.Color, sc.IsActive, sc.DisplayOrder, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return category.Subcategory{}, mapErr("subcategory", sc.Slug, err)
	}
	return sc, nil
}

func (s *Store) UpdateSubcategory(ctx context.Context, sc category.Subcategory) (category.Subcategory, error) {
	sc.UpdatedAt = time.Now().UTC()
	var createdAt time.Time
	err := s.db.GetContext(ctx, &createdAt, `
		UPDATE subcategories
		SET category_id = $2, name = $3, slug = $4, description = $5, color = $6,
			is_active = $7, display_order = $8, updated_at = $9
		WHERE id = $1
		RETURNING created_at
	`, sc.ID, sc.CategoryID, sc.Name, sc.Slug, sc.Description, sc.Color, sc.IsActive, sc.DisplayOrder, sc.UpdatedAt)
	if err != nil {
		return category.Subcategory{}, mapErr("subcategory", sc.ID, err)
	}
	sc.CreatedAt = createdAt
	return sc, nil
}

func (s *Store) GetSubcategory(ctx context.Context, id string) (category.Subcategory, error) {
	var row subcategoryRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+subcategoryColumns+` FROM subcategories WHERE id = $1`, id); err != nil {
		return category.Subcategory{}, mapErr("subcategory", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListSubcategories(ctx context.Context, categoryID string, activeOnly bool) ([]category.Subcategory, error) {
	query := `SELECT ` + subcategoryColumns + ` FROM subcategories WHERE category_id = $1`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY display_order, name`

	var rows []subcategoryRow
	if err := s.db.SelectContext(ctx, &rows, query, categoryID); err != nil {
		return nil, err
	}
	result := make([]category.Subcategory, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteSubcategory(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM subcategories WHERE id = $1`, id)
	if err != nil {
		return mapErr("subcategory", id, err)
	}
	return mustAffect(result, "subcategory", id)
}

func (s *Store) CountSubcategoryRequests(ctx context.Context, subcategoryID string, statuses ...request.Status) (int, error) {
	query := `SELECT COUNT(*) FROM assistance_requests WHERE subcategory_id = $1`
	args := []interface{}{subcategoryID}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += ` AND status = ANY($2)`
		args = append(args, pq.Array(names))
	}
	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, err
	}
	return count, nil
}
