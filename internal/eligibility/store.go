package eligibility

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"etfdiscovery/internal/models"
)

// GormStore keeps published rule sets in the rule_sets table. Rows are
// append-only.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Save inserts the rule set's definition.
func (s *GormStore) Save(ctx context.Context, rs *RuleSet) error {
	def := rs.Definition
	if len(def) == 0 {
		var err error
		if def, err = yaml.Marshal(rs); err != nil {
			return fmt.Errorf("encode rule set: %w", err)
		}
	}
	key := rs.Key()
	rec := &models.RuleSetRecord{
		Jurisdiction: key.Jurisdiction,
		AccountType:  key.AccountType,
		Version:      rs.Version,
		Definition:   string(def),
		PublishedAt:  rs.PublishedAt,
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// LoadAll parses every stored rule set. Rows that fail to parse are reported
// as an error.
func (s *GormStore) LoadAll(ctx context.Context) ([]*RuleSet, error) {
	var recs []models.RuleSetRecord
	if err := s.db.WithContext(ctx).Order("jurisdiction, account_type, published_at").Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]*RuleSet, 0, len(recs))
	for _, rec := range recs {
		rs, err := Parse([]byte(rec.Definition))
		if err != nil {
			return nil, fmt.Errorf("rule set %s/%s@%s: %w", rec.Jurisdiction, rec.AccountType, rec.Version, err)
		}
		if rs.PublishedAt.IsZero() {
			rs.PublishedAt = rec.PublishedAt
		}
		out = append(out, rs)
	}
	return out, nil
}
