package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/richiesta-assistenza/service_layer/internal/app/services/categories"
)

func (h *Handler) categoryRoutes(r *mux.Router) {
	r.HandleFunc("/categories", h.listCategories).Methods(http.MethodGet)
	r.HandleFunc("/categories/{id}", h.getCategory).Methods(http.MethodGet)
	r.HandleFunc("/categories/{id}/subcategories", h.listSubcategories).Methods(http.MethodGet)
}

func (h *Handler) adminCategoryRoutes(r *mux.Router) {
	r.HandleFunc("/categories", h.listAllCategories).Methods(http.MethodGet)
	r.HandleFunc("/categories", h.createCategory).Methods(http.MethodPost)
	r.HandleFunc("/categories/{id}", h.updateCategory).Methods(http.MethodPut)
	r.HandleFunc("/categories/{id}", h.deleteCategory).Methods(http.MethodDelete)
	r.HandleFunc("/subcategories", h.createSubcategory).Methods(http.MethodPost)
	r.HandleFunc("/subcategories/{id}", h.updateSubcategory).Methods(http.MethodPut)
	r.HandleFunc("/subcategories/{id}", h.deleteSubcategory).Methods(http.MethodDelete)
}

// listCategories serves the public catalogue; the route skips authentication.
func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.app.Categories.List(r.Context(), false)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", cats)
}

func (h *Handler) getCategory(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Categories.Get(r.Context(), pathVar(r, "id"), false)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", c)
}

func (h *Handler) listSubcategories(w http.ResponseWriter, r *http.Request) {
	subs, err := h.app.Categories.Subcategories(r.Context(), pathVar(r, "id"), false)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", subs)
}

func (h *Handler) listAllCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.app.Categories.List(r.Context(), true)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", cats)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var in categories.CategoryInput
	if !decode(w, r, &in) {
		return
	}
	c, err := h.app.Categories.Create(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Categoria creata", c)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	var in categories.CategoryInput
	if !decode(w, r, &in) {
		return
	}
	c, err := h.app.Categories.Update(r.Context(), pathVar(r, "id"), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Categoria aggiornata", c)
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Categories.Delete(r.Context(), pathVar(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Categoria eliminata", nil)
}

func (h *Handler) createSubcategory(w http.ResponseWriter, r *http.Request) {
	var in categories.SubcategoryInput
	if !decode(w, r, &in) {
		return
	}
	sc, err := h.app.Categories.CreateSubcategory(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Sottocategoria creata", sc)
}

func (h *Handler) updateSubcategory(w http.ResponseWriter, r *http.Request) {
	var in categories.SubcategoryInput
	if !decode(w, r, &in) {
		return
	}
	sc, err := h.app.Categories.UpdateSubcategory(r.Context(), pathVar(r, "id"), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Sottocategoria aggiornata", sc)
}

func (h *Handler) deleteSubcategory(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Categories.DeleteSubcategory(r.Context(), pathVar(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Sottocategoria eliminata", nil)
}
