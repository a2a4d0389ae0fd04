package config

import (
	"fmt"
	"sort"

	"github.com/mostlygeek/genstudio/schema"
)

// VariantConfig derives a configuration from a base one by presetting
// input values and toggling field visibility.
type VariantConfig struct {
	Description string         `yaml:"description"`
	Values      map[string]any `yaml:"values"`
	Hide        []string       `yaml:"hide"`
	Show        []string       `yaml:"show"`
}

// expandVariants adds a base:variant configuration for every variant.
// Configurations already present under a generated slug win over the
// generated one.
func expandVariants(config Config) (Config, error) {
	if len(config.Variants) == 0 {
		return config, nil
	}

	baseIDs := make([]string, 0, len(config.Variants))
	for id := range config.Variants {
		baseIDs = append(baseIDs, id)
	}
	sort.Strings(baseIDs)

	for _, baseID := range baseIDs {
		base, exists := config.Configurations[baseID]
		if !exists {
			return Config{}, fmt.Errorf("variants.%s: no configuration named %s", baseID, baseID)
		}

		variants := config.Variants[baseID]
		variantIDs := make([]string, 0, len(variants))
		for id := range variants {
			variantIDs = append(variantIDs, id)
		}
		sort.Strings(variantIDs)

		for _, variantID := range variantIDs {
			slug := fmt.Sprintf("%s:%s", baseID, variantID)
			if _, exists := config.Configurations[slug]; exists {
				continue
			}
			generated, err := buildVariant(slug, base, variants[variantID])
			if err != nil {
				return Config{}, fmt.Errorf("variants.%s.%s: %w", baseID, variantID, err)
			}
			config.Configurations[slug] = generated
		}
	}

	return config, nil
}

func buildVariant(slug string, base schema.Configuration, variant VariantConfig) (schema.Configuration, error) {
	cfg := base.Clone()
	cfg.Name = slug
	cfg.Description = firstNonEmpty(variant.Description, base.Description)

	index := make(map[string]int, len(cfg.Inputs))
	for i, field := range cfg.Inputs {
		index[field.Key] = i
	}
	field := func(key string) (*schema.FieldDescriptor, error) {
		i, ok := index[key]
		if !ok {
			return nil, fmt.Errorf("unknown input %q", key)
		}
		return &cfg.Inputs[i], nil
	}

	keys := make([]string, 0, len(variant.Values))
	for key := range variant.Values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		f, err := field(key)
		if err != nil {
			return schema.Configuration{}, err
		}
		f.Value = variant.Values[key]
	}

	for _, key := range variant.Hide {
		f, err := field(key)
		if err != nil {
			return schema.Configuration{}, err
		}
		f.Show = false
	}
	for _, key := range variant.Show {
		f, err := field(key)
		if err != nil {
			return schema.Configuration{}, err
		}
		f.Show = true
	}

	return cfg, nil
}

func firstNonEmpty(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}
