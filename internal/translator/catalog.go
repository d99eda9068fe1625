package translator

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"polychat/internal/models"
	"polychat/internal/router"
)

// ProviderCatalog is one provider entry of the models response.
type ProviderCatalog struct {
	Name   string             `json:"name"`
	Models []models.ModelInfo `json:"models"`
}

// ModelsResponse is the body of GET /api/v1/models.
type ModelsResponse struct {
	Providers map[string]ProviderCatalog `json:"providers"`
}

// FromCatalogs groups catalogs by provider id.
func FromCatalogs(catalogs []router.Catalog) ModelsResponse {
	resp := ModelsResponse{Providers: make(map[string]ProviderCatalog, len(catalogs))}
	for _, cat := range catalogs {
		list := cat.Models
		if list == nil {
			list = []models.ModelInfo{}
		}
		resp.Providers[cat.ProviderID] = ProviderCatalog{
			Name:   displayName(cat.ProviderID),
			Models: list,
		}
	}
	return resp
}

// displayName upper-cases the first letter and lower-cases the rest.
func displayName(id string) string {
	r, size := utf8.DecodeRuneInString(id)
	if r == utf8.RuneError {
		return id
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(id[size:])
}
