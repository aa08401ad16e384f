package configuration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultTierName = "Basic"

type (
	// TierProperties is one entry of the tier provisioning file.
	TierProperties struct {
		Name           string `yaml:"name"`
		ThumbnailSizes string `yaml:"thumbnail_sizes"`
		OriginalLink   bool   `yaml:"original_link"`
		ExpirationLink bool   `yaml:"expiration_link"`
	}

	tiersFile struct {
		Tiers []TierProperties `yaml:"tiers"`
	}
)

// DefaultTiers is used when no provisioning file is configured.
func DefaultTiers() []TierProperties {
	return []TierProperties{
		{Name: DefaultTierName, ThumbnailSizes: "200"},
		{Name: "Premium", ThumbnailSizes: "200, 400", OriginalLink: true},
		{Name: "Enterprise", ThumbnailSizes: "200, 400", OriginalLink: true, ExpirationLink: true},
	}
}

// LoadTiers reads the tier provisioning file. An empty path yields DefaultTiers.
// The Basic tier is appended when the file does not declare it.
func LoadTiers(path string) ([]TierProperties, error) {
	if path == "" {
		return DefaultTiers(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can not read tiers file %s: %w", path, err)
	}
	return ParseTiers(raw)
}

func ParseTiers(raw []byte) ([]TierProperties, error) {
	var parsed tiersFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("can not parse tiers: %w", err)
	}
	seen := make(map[string]bool, len(parsed.Tiers))
	for _, tier := range parsed.Tiers {
		if tier.Name == "" {
			return nil, fmt.Errorf("tier without name")
		}
		if seen[tier.Name] {
			return nil, fmt.Errorf("duplicate tier %q", tier.Name)
		}
		seen[tier.Name] = true
	}
	if !seen[DefaultTierName] {
		parsed.Tiers = append(parsed.Tiers, DefaultTiers()[0])
	}
	return parsed.Tiers, nil
}
