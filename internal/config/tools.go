package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// ToolSpec describes one tool's pricing and delivery behavior.
type ToolSpec struct {
	Tool       domain.Tool     `yaml:"tool"`
	Price      int64           `yaml:"price"`
	FileType   domain.FileType `yaml:"file_type"`
	OutputKind string          `yaml:"output_kind"` // image | pdf | generic
	// Chainable marks tools usable as follow-up actions on a delivered
	// document. Multi-input tools such as merge cannot chain.
	Chainable bool `yaml:"chainable"`
}

// ToolCatalog resolves tool specs for ingress pricing and delivery.
type ToolCatalog struct {
	specs map[domain.Tool]ToolSpec
}

func defaultToolSpecs() []ToolSpec {
	return []ToolSpec{
		{Tool: domain.ToolUpscaleImage, Price: 20, FileType: domain.FileTypeImage, OutputKind: "image", Chainable: true},
		{Tool: domain.ToolRemoveBackgroundImage, Price: 20, FileType: domain.FileTypeImage, OutputKind: "image", Chainable: true},
		{Tool: domain.ToolImagePDF, Price: 10, FileType: domain.FileTypeImage, OutputKind: "pdf", Chainable: true},
		{Tool: domain.ToolMerge, Price: 10, FileType: domain.FileTypePDF, OutputKind: "pdf", Chainable: false},
		{Tool: domain.ToolCompress, Price: 10, FileType: domain.FileTypeDocImage, OutputKind: "pdf", Chainable: true},
	}
}

// NewToolCatalog builds the built-in catalog.
func NewToolCatalog() *ToolCatalog {
	c := &ToolCatalog{specs: make(map[domain.Tool]ToolSpec)}
	for _, s := range defaultToolSpecs() {
		c.specs[s.Tool] = s
	}
	return c
}

// LoadToolCatalog returns the built-in catalog merged with an optional
// YAML override file. Entries in the file replace defaults per tool.
func LoadToolCatalog(path string) (*ToolCatalog, error) {
	c := NewToolCatalog()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadToolCatalog: %w", err)
	}
	var overrides []ToolSpec
	if err := yaml.Unmarshal(b, &overrides); err != nil {
		return nil, fmt.Errorf("op=config.LoadToolCatalog: %w", err)
	}
	for _, s := range overrides {
		if !s.Tool.Valid() {
			return nil, fmt.Errorf("op=config.LoadToolCatalog: %w: unknown tool %q", domain.ErrInvalidArgument, s.Tool)
		}
		c.specs[s.Tool] = s
	}
	return c, nil
}

// Lookup returns the spec for a tool.
func (c *ToolCatalog) Lookup(t domain.Tool) (ToolSpec, bool) {
	s, ok := c.specs[t]
	return s, ok
}

// Price returns the credit price of a tool, zero when unknown.
func (c *ToolCatalog) Price(t domain.Tool) int64 {
	return c.specs[t].Price
}

// OutputKind maps a tool to its delivered artifact kind; unknown tools
// yield "generic".
func (c *ToolCatalog) OutputKind(t domain.Tool) string {
	if s, ok := c.specs[t]; ok && s.OutputKind != "" {
		return s.OutputKind
	}
	return "generic"
}

// FollowUps lists chainable tools offered as inline actions after a
// delivery, excluding the tool that produced the artifact.
func (c *ToolCatalog) FollowUps(produced domain.Tool) []domain.Tool {
	out := make([]domain.Tool, 0, len(c.specs))
	for _, t := range domain.KnownTools {
		s, ok := c.specs[t]
		if !ok || !s.Chainable || t == produced {
			continue
		}
		out = append(out, t)
	}
	return out
}
