// Package glossary unifies the custom-choice vocabularies embedded in survey
// responses. Custom-choice prompts carry their own choice catalog inside each
// response; before export the catalogs are merged into one glossary per
// prompt, user-defined choices are renumbered with stable surrogate IDs, and
// each response is rewritten to hold only the chosen value(s).
package glossary

import (
	"encoding/json"
	"fmt"

	"github.com/mhealthlab/collector/internal/observer"
	"github.com/mhealthlab/collector/internal/rollup"
)

// CustomChoiceThreshold splits the choice-ID space: IDs below it belong to
// the fixed global catalog and keep their original ID; IDs at or above it are
// user-defined and are renumbered from the threshold up, per prompt, in order
// of first appearance.
const CustomChoiceThreshold = 100

// Provenance tags where a choice came from.
type Provenance string

const (
	Global Provenance = "global"
	Custom Provenance = "custom"
)

// Item is one unique choice in a prompt's glossary.
type Item struct {
	// ID is the surrogate ID: the original ID for global choices, an
	// assigned value >= CustomChoiceThreshold for custom ones.
	ID int `json:"id"`
	// OriginalID is the choice_id as supplied in the source payload.
	OriginalID int `json:"original_id"`
	// Username is the user whose response first carried the choice.
	Username string `json:"username"`
	// Value is the choice's display value.
	Value string `json:"value"`

	Provenance Provenance `json:"type"`
}

// same is the structural equality used for deduplication. Surrogate ID and
// first-seen username are derived, not identity.
func (i Item) same(o Item) bool {
	return i.OriginalID == o.OriginalID && i.Value == o.Value && i.Provenance == o.Provenance
}

// Glossary maps prompt ID to that prompt's unique choices in first-seen
// order. One glossary is built per read request and shared by every result
// that contains the prompt.
type Glossary map[string][]Item

// customChoiceResponse mirrors the stored custom-choice envelope.
type customChoiceResponse struct {
	Value         json.RawMessage `json:"value"`
	CustomChoices []struct {
		ChoiceID    int    `json:"choice_id"`
		ChoiceValue string `json:"choice_value"`
	} `json:"custom_choices"`
}

// Builder accumulates glossary state for one read request. Construct with
// NewBuilder and thread through explicitly; there is no shared state between
// requests.
type Builder struct {
	items  map[string][]Item
	nextID map[string]int
}

func NewBuilder() *Builder {
	return &Builder{
		items:  make(map[string][]Item),
		nextID: make(map[string]int),
	}
}

// Normalize scans every custom-choice response in results, registers its
// choices in the glossary, and rewrites the response value to the bare chosen
// value(s), stripping the embedded catalog. Skipped and not-displayed
// responses are left untouched.
//
// Normalizing the same results twice is a no-op for the glossary: choices are
// registered only when no structurally equal item exists for the prompt.
func (b *Builder) Normalize(results []*rollup.IndexedResult) (Glossary, error) {
	for _, res := range results {
		for _, promptID := range res.PromptIDs {
			meta := res.Metadata[promptID]
			if !observer.PromptType(meta.PromptType).IsCustomChoice() {
				continue
			}
			if err := b.normalizeResponse(res, promptID); err != nil {
				return nil, fmt.Errorf("prompt %q: %w", promptID, err)
			}
		}
	}
	return Glossary(b.items), nil
}

func (b *Builder) normalizeResponse(res *rollup.IndexedResult, promptID string) error {
	raw, ok := res.Responses[promptID].(string)
	if !ok {
		// Already rewritten on an earlier pass.
		return nil
	}
	if raw == observer.Skipped || raw == observer.NotDisplayed {
		return nil
	}

	var resp customChoiceResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return fmt.Errorf("parse custom-choice response: %w", err)
	}
	if len(resp.Value) == 0 {
		return fmt.Errorf("custom-choice response has no value")
	}

	// The glossary holds the catalog from here on; the response keeps only
	// what the user chose: an integer for single choice, else an array.
	var single int
	if err := json.Unmarshal(resp.Value, &single); err == nil {
		res.Responses[promptID] = single
	} else {
		var multi []int
		if err := json.Unmarshal(resp.Value, &multi); err != nil {
			return fmt.Errorf("custom-choice value is neither an integer nor an array of integers")
		}
		res.Responses[promptID] = multi
	}

	for _, c := range resp.CustomChoices {
		item := Item{
			OriginalID: c.ChoiceID,
			Username:   res.Key.Username,
			Value:      c.ChoiceValue,
			Provenance: Custom,
		}
		if c.ChoiceID < CustomChoiceThreshold {
			item.Provenance = Global
		}
		b.register(promptID, item)
	}
	return nil
}

// register adds item to the prompt's glossary unless a structurally equal
// item is already present. Global items keep their original ID; custom items
// receive the prompt's next surrogate ID.
func (b *Builder) register(promptID string, item Item) {
	for _, existing := range b.items[promptID] {
		if existing.same(item) {
			return
		}
	}

	if item.Provenance == Global {
		item.ID = item.OriginalID
	} else {
		next, ok := b.nextID[promptID]
		if !ok {
			next = CustomChoiceThreshold
		}
		item.ID = next
		b.nextID[promptID] = next + 1
	}
	b.items[promptID] = append(b.items[promptID], item)
}
