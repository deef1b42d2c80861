package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/geoboard/internal/catalog"
	"github.com/spf13/viper"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

type catalogFile struct {
	Templates    []string              `mapstructure:"templates"`
	Categories   []catalogCategoryFile `mapstructure:"categories"`
	Conjunctions []string              `mapstructure:"conjunctions"`
}

type catalogCategoryFile struct {
	Name    string   `mapstructure:"name"`
	Fillers []string `mapstructure:"fillers"`
}

// LoadCatalog builds the message catalog from path, or from the built-in catalog when
// path is empty.
func LoadCatalog(path string, step int) (*catalog.Catalog, error) {
	catalogViper := viper.New()
	catalogViper.SetConfigType("yaml")

	if strings.TrimSpace(path) == "" {
		if err := catalogViper.ReadConfig(bytes.NewReader(defaultCatalogYAML)); err != nil {
			return nil, fmt.Errorf("read built-in catalog: %w", err)
		}
	} else {
		catalogViper.SetConfigFile(path)
		if err := catalogViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
	}

	var contents catalogFile
	if err := catalogViper.Unmarshal(&contents); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(contents.Templates) == 0 || len(contents.Categories) == 0 {
		return nil, fmt.Errorf("%w: templates and categories are required", catalog.ErrInvalidCatalog)
	}

	categories := make([]catalog.CategoryConfig, 0, len(contents.Categories))
	for _, category := range contents.Categories {
		categories = append(categories, catalog.CategoryConfig{Name: category.Name, Fillers: category.Fillers})
	}

	return catalog.New(catalog.Config{
		Templates:    contents.Templates,
		Categories:   categories,
		Conjunctions: contents.Conjunctions,
		Step:         step,
	})
}
