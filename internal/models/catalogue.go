package models

import (
	"encoding/json"
	"fmt"
	"os"
)

// Activity is one pre-defined choice within a catalogue section. The choice
// is immutable once a pupil selects it without deleting the section.
type Activity struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CatalogueSection defines one of the six slots of an award.
type CatalogueSection struct {
	Name       string     `json:"name"`
	Activities []Activity `json:"activities"`
}

// Award is a fixed bundle of six sections a pupil progresses through.
type Award struct {
	Name     string                         `json:"name"`
	Sections [SectionSlots]CatalogueSection `json:"sections"`
}

// Catalogue holds the full award catalogue. It is injected at startup and
// read-only afterwards.
type Catalogue struct {
	Awards []Award `json:"awards"`
}

// LoadCatalogue reads the award catalogue from a JSON file.
func LoadCatalogue(path string) (Catalogue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalogue{}, fmt.Errorf("reading catalogue: %w", err)
	}

	var cat Catalogue
	if err := json.Unmarshal(raw, &cat); err != nil {
		return Catalogue{}, fmt.Errorf("parsing catalogue: %w", err)
	}

	return cat, nil
}

// ValidAward reports whether the award index exists in the catalogue.
func (c Catalogue) ValidAward(award int) bool {
	return award >= 0 && award < len(c.Awards)
}

// ValidActivity reports whether the activity index is in range for the given
// award and section slot.
func (c Catalogue) ValidActivity(award, section, activity int) bool {
	if !c.ValidAward(award) || section < 0 || section >= SectionSlots {
		return false
	}
	sec := c.Awards[award].Sections[section]
	return activity >= 0 && activity < len(sec.Activities)
}
