package queue

import (
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/CdubVentures/spec-harvester-sub015/internal/model"
)

// SeedFile is the YAML layout accepted by queue seeding.
type SeedFile struct {
	Category string        `yaml:"category"`
	Products []SeedProduct `yaml:"products"`
}

// SeedProduct is one product entry in a seed file.
type SeedProduct struct {
	Brand    string `yaml:"brand"`
	Model    string `yaml:"model"`
	Variant  string `yaml:"variant"`
	Priority int    `yaml:"priority"`
}

// ParseSeed decodes a YAML seed file.
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, eris.Wrap(err, "queue: parse seed file")
	}
	if seed.Category == "" {
		return nil, eris.New("queue: seed file missing category")
	}
	if len(seed.Products) == 0 {
		return nil, eris.New("queue: seed file has no products")
	}
	return &seed, nil
}

// Seed enqueues every valid product from the seed file that is not
// already present. Existing rows are left untouched. Returns the number
// of rows added.
func (s *Scheduler) Seed(state *model.QueueState, seed *SeedFile, now time.Time) int {
	added := 0
	for _, p := range seed.Products {
		identity := model.ProductIdentity{
			Category: seed.Category,
			Brand:    p.Brand,
			Model:    p.Model,
			Variant:  p.Variant,
		}
		if !identity.Valid() {
			continue
		}
		if s.Enqueue(state, identity, p.Priority, now) {
			added++
		}
	}
	return added
}
