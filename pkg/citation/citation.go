// Package citation renders a CITATION.cff file as a BibTeX entry.
package citation

import (
	"fmt"
	"io/fs"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the citation file shipped with the launcher.
const DefaultFile = "CITATION.cff"

// DefaultKey is the BibTeX citation key.
const DefaultKey = "YourReferenceHere"

// Author is one CFF author entry. Entity authors only carry Name.
type Author struct {
	GivenNames  string `yaml:"given-names"`
	FamilyNames string `yaml:"family-names"`
	Name        string `yaml:"name"`
}

// Citation is the subset of CFF fields the BibTeX rendering uses.
type Citation struct {
	Title        string   `yaml:"title"`
	Authors      []Author `yaml:"authors"`
	Version      string   `yaml:"version"`
	DOI          string   `yaml:"doi"`
	URL          string   `yaml:"url"`
	Repository   string   `yaml:"repository-code"`
	DateReleased string   `yaml:"date-released"`
}

// Parse decodes CFF YAML.
func Parse(data []byte) (*Citation, error) {
	var c Citation
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid citation file: %w", err)
	}
	if strings.TrimSpace(c.Title) == "" {
		return nil, fmt.Errorf("invalid citation file: missing title")
	}
	return &c, nil
}

// Load reads and parses name from fsys.
func Load(fsys fs.FS, name string) (*Citation, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read citation: %w", err)
	}
	return Parse(data)
}

// BibTeX renders c as a @misc entry.
func (c *Citation) BibTeX() string {
	var b strings.Builder
	b.WriteString("@misc{" + DefaultKey + ",\n")

	var authors []string
	for _, a := range c.Authors {
		switch {
		case a.FamilyNames != "" && a.GivenNames != "":
			authors = append(authors, a.FamilyNames+", "+a.GivenNames)
		case a.FamilyNames != "":
			authors = append(authors, a.FamilyNames)
		case a.Name != "":
			authors = append(authors, "{"+a.Name+"}")
		}
	}
	if len(authors) > 0 {
		field(&b, "author", strings.Join(authors, " and "))
	}
	field(&b, "title", c.Title)
	if c.Version != "" {
		field(&b, "version", c.Version)
	}
	if c.DOI != "" {
		field(&b, "doi", c.DOI)
	}
	if released, err := time.Parse(time.DateOnly, c.DateReleased); err == nil {
		field(&b, "month", fmt.Sprint(int(released.Month())))
		field(&b, "year", fmt.Sprint(released.Year()))
	}
	if url := c.url(); url != "" {
		field(&b, "url", url)
	}
	b.WriteString("}\n")
	return b.String()
}

func (c *Citation) url() string {
	if c.URL != "" {
		return c.URL
	}
	return c.Repository
}

func field(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "%s = {%s},\n", name, value)
}
