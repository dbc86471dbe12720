package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindPlayer Kind = "player"
	KindFauna  Kind = "fauna"
	KindCrop   Kind = "crop"
)

type ClassDef struct {
	ID    string  `yaml:"id" json:"id"`
	Kind  Kind    `yaml:"kind" json:"kind"`
	Name  string  `yaml:"name" json:"name"`
	Model string  `yaml:"model,omitempty" json:"model,omitempty"`
	Speed float64 `yaml:"speed,omitempty" json:"speed,omitempty"`

	// Crop growth. A crop whose age reaches NextAge is replaced by NextStage.
	NextStage string `yaml:"next_stage,omitempty" json:"next_stage,omitempty"`
	NextAge   int64  `yaml:"next_age,omitempty" json:"next_age,omitempty"`

	// Every SeedingInterval ages a crop plants SeedClass on a free neighbour tile.
	SeedingInterval int64  `yaml:"seeding_interval,omitempty" json:"seeding_interval,omitempty"`
	SeedClass       string `yaml:"seed_class,omitempty" json:"seed_class,omitempty"`
}

type Catalogs struct {
	ByID   map[string]ClassDef
	IDs    []string
	Digest string
}

type manifest struct {
	Classes []ClassDef `yaml:"classes"`
}

// Load reads classes.yaml from configDir.
func Load(configDir string) (*Catalogs, error) {
	raw, err := os.ReadFile(filepath.Join(configDir, "classes.yaml"))
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalogs, error) {
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("classes.yaml: %w", err)
	}
	c := &Catalogs{ByID: map[string]ClassDef{}, Digest: sha256Hex(raw)}
	for _, d := range m.Classes {
		if d.ID == "" {
			return nil, fmt.Errorf("classes.yaml: empty id")
		}
		if _, dup := c.ByID[d.ID]; dup {
			return nil, fmt.Errorf("classes.yaml: duplicate id %s", d.ID)
		}
		switch d.Kind {
		case KindPlayer, KindFauna, KindCrop:
		default:
			return nil, fmt.Errorf("classes.yaml: %s: unknown kind %q", d.ID, d.Kind)
		}
		c.ByID[d.ID] = d
		c.IDs = append(c.IDs, d.ID)
	}
	sort.Strings(c.IDs)
	for _, id := range c.IDs {
		d := c.ByID[id]
		if d.NextStage != "" {
			if _, ok := c.ByID[d.NextStage]; !ok {
				return nil, fmt.Errorf("classes.yaml: %s: unknown next_stage %s", id, d.NextStage)
			}
			if d.NextAge <= 0 {
				return nil, fmt.Errorf("classes.yaml: %s: next_stage without positive next_age", id)
			}
		}
		if d.SeedingInterval > 0 {
			if _, ok := c.ByID[d.SeedClass]; !ok {
				return nil, fmt.Errorf("classes.yaml: %s: unknown seed_class %q", id, d.SeedClass)
			}
		}
	}
	return c, nil
}

func (c *Catalogs) Get(id string) (ClassDef, bool) {
	d, ok := c.ByID[id]
	return d, ok
}

// OfKind lists the classes of kind k, sorted by id.
func (c *Catalogs) OfKind(k Kind) []ClassDef {
	var out []ClassDef
	for _, id := range c.IDs {
		if d := c.ByID[id]; d.Kind == k {
			out = append(out, d)
		}
	}
	return out
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
