package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"civic/api/internal/store"
)

// LawSeed is one law inserted by SeedLaws.
type LawSeed struct {
	Title       string       `yaml:"title"`
	Description string       `yaml:"description"`
	FullText    string       `yaml:"fullText"`
	Status      store.Status `yaml:"status"`
}

type seedFile struct {
	Laws []LawSeed `yaml:"laws"`
}

// LoadSeeds reads a YAML seed file of the form `laws: [{title, description, fullText, status}]`.
func LoadSeeds(path string) ([]LawSeed, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var parsed seedFile
	if err := yaml.Unmarshal(buf, &parsed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, seed := range parsed.Laws {
		if seed.Status == "" {
			parsed.Laws[i].Status = store.StatusActive
			continue
		}
		if !seed.Status.Valid() {
			return nil, fmt.Errorf("seed %d (%q): unknown status %q", i, seed.Title, seed.Status)
		}
	}
	return parsed.Laws, nil
}

func DefaultSeeds() []LawSeed {
	return []LawSeed{
		{
			Title:       "Community Gardens Initiative",
			Description: "Establish community gardens on vacant lots for sustainable food production and stronger neighbourhood ties.",
			FullText: `Article 1: Purpose
This law sets out a framework for creating and maintaining community gardens in designated areas of the grid.

Article 2: Eligibility
Any resident with a placed house may request a garden plot adjacent to their location.

Article 3: Responsibilities
Plot holders must keep their plot in good condition, follow organic growing practices and share surplus produce with neighbours.

Article 4: Governance
A gardening committee of 5 elected residents oversees operations and settles disputes.`,
			Status: store.StatusActive,
		},
		{
			Title:       "Quiet Hours Policy",
			Description: "Introduce quiet hours from 10pm to 7am in residential areas to keep the neighbourhood peaceful.",
			FullText: `Article 1: Quiet Hours
All residents must observe quiet hours between 22:00 and 07:00 every day.

Article 2: Restrictions
During quiet hours loud music, construction work and outdoor gatherings of more than 5 people are prohibited.

Article 3: Enforcement
Violations may lead to warnings and community service.`,
			Status: store.StatusPassed,
		},
		{
			Title:       "Public Transit Extension",
			Description: "Extend bus lines to cover underserved areas of the grid for better mobility.",
			FullText: `Article 1: Extension Plan
The public transit authority shall extend service to grid sectors 100-200 and 400-500.

Article 2: Schedule
Work starts within 60 days of adoption and completes within 180 days.

Article 3: Funding
Funded by a 0.5% levy on every placed house.`,
			Status: store.StatusPending,
		},
		{
			Title:       "Renewable Energy Mandate",
			Description: "Require new buildings on the grid to source part of their energy from renewable installations.",
			FullText: `Article 1: Scope
Every house placed after adoption must be fitted with a renewable energy installation.

Article 2: Targets
At least 30% of each building's consumption must come from renewable sources within two years.

Article 3: Support
Residents may apply for a grant covering half of the installation cost.`,
			Status: store.StatusActive,
		},
	}
}
