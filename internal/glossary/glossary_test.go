package glossary

import (
	"reflect"
	"testing"
	"time"

	"github.com/mhealthlab/collector/internal/rollup"
)

var baseTime = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func customRow(username, promptID, response string) rollup.Row {
	return rollup.Row{
		Username:  username,
		Timestamp: baseTime,
		SurveyID:  "daily",
		PromptID:  promptID,
		Response:  response,
		Metadata:  rollup.PromptMetadata{PromptType: "single_choice_custom"},
	}
}

func TestNormalize_RenumbersCustomChoices(t *testing.T) {
	results := rollup.RollUp([]rollup.Row{
		customRow("alice", "color",
			`{"value": 205, "custom_choices": [{"choice_id": 205, "choice_value": "Mauve"}]}`),
	})

	gloss, err := NewBuilder().Normalize(results)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	items := gloss["color"]
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	got := items[0]
	if got.ID != CustomChoiceThreshold {
		t.Errorf("ID = %d, want %d", got.ID, CustomChoiceThreshold)
	}
	if got.OriginalID != 205 {
		t.Errorf("OriginalID = %d, want 205", got.OriginalID)
	}
	if got.Value != "Mauve" {
		t.Errorf("Value = %q, want Mauve", got.Value)
	}
	if got.Username != "alice" {
		t.Errorf("Username = %q, want alice", got.Username)
	}
	if got.Provenance != Custom {
		t.Errorf("Provenance = %q, want custom", got.Provenance)
	}
}

func TestNormalize_GlobalChoiceKeepsID(t *testing.T) {
	results := rollup.RollUp([]rollup.Row{
		customRow("alice", "color",
			`{"value": 3, "custom_choices": [{"choice_id": 3, "choice_value": "Red"}]}`),
	})

	gloss, err := NewBuilder().Normalize(results)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	items := gloss["color"]
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].ID != 3 {
		t.Errorf("ID = %d, want the original 3", items[0].ID)
	}
	if items[0].Provenance != Global {
		t.Errorf("Provenance = %q, want global", items[0].Provenance)
	}
}

func TestNormalize_MixedCatalog(t *testing.T) {
	// One envelope carrying a global choice and a custom one: the global
	// keeps its ID, the custom is renumbered from the threshold.
	results := rollup.RollUp([]rollup.Row{
		customRow("alice", "color",
			`{"value": 3, "custom_choices": [{"choice_id": 3, "choice_value": "Red"}, {"choice_id": 101, "choice_value": "Mauve"}]}`),
	})

	gloss, err := NewBuilder().Normalize(results)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if results[0].Responses["color"] != 3 {
		t.Errorf("color = %v, want the bare chosen key 3", results[0].Responses["color"])
	}

	items := gloss["color"]
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ID != 3 || items[0].Value != "Red" || items[0].Provenance != Global {
		t.Errorf("items[0] = %+v, want global Red with ID 3", items[0])
	}
	if items[1].ID != 100 || items[1].Value != "Mauve" || items[1].Provenance != Custom {
		t.Errorf("items[1] = %+v, want custom Mauve with ID 100", items[1])
	}
}

func TestNormalize_SurrogateIDsPerPromptFirstSeen(t *testing.T) {
	// Two users invent choices for the same prompt; a third prompt gets its
	// own counter.
	rows := []rollup.Row{
		customRow("alice", "color",
			`{"value": 205, "custom_choices": [{"choice_id": 205, "choice_value": "Mauve"}]}`),
		customRow("bob", "color",
			`{"value": 300, "custom_choices": [{"choice_id": 300, "choice_value": "Teal"}]}`),
		customRow("bob", "flavor",
			`{"value": 150, "custom_choices": [{"choice_id": 150, "choice_value": "Umami"}]}`),
	}

	gloss, err := NewBuilder().Normalize(rollup.RollUp(rows))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	colors := gloss["color"]
	if len(colors) != 2 {
		t.Fatalf("color: got %d items, want 2", len(colors))
	}
	if colors[0].ID != 100 || colors[0].Value != "Mauve" {
		t.Errorf("color[0] = %+v, want Mauve with ID 100", colors[0])
	}
	if colors[1].ID != 101 || colors[1].Value != "Teal" {
		t.Errorf("color[1] = %+v, want Teal with ID 101", colors[1])
	}

	flavors := gloss["flavor"]
	if len(flavors) != 1 || flavors[0].ID != 100 {
		t.Errorf("flavor = %+v, want Umami with ID 100", flavors)
	}
}

func TestNormalize_DeduplicatesStructurally(t *testing.T) {
	rows := []rollup.Row{
		customRow("alice", "color",
			`{"value": 205, "custom_choices": [{"choice_id": 205, "choice_value": "Mauve"}]}`),
		customRow("bob", "color",
			`{"value": 205, "custom_choices": [{"choice_id": 205, "choice_value": "Mauve"}]}`),
	}

	gloss, err := NewBuilder().Normalize(rollup.RollUp(rows))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	items := gloss["color"]
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	// First-seen user wins.
	if items[0].Username != "alice" {
		t.Errorf("Username = %q, want alice", items[0].Username)
	}
}

func TestNormalize_RewritesResponses(t *testing.T) {
	single := customRow("alice", "color",
		`{"value": 205, "custom_choices": [{"choice_id": 205, "choice_value": "Mauve"}]}`)
	multi := customRow("alice", "symptoms",
		`{"value": [3, 150], "custom_choices": [{"choice_id": 150, "choice_value": "Dizzy"}]}`)
	multi.Metadata.PromptType = "multi_choice_custom"

	results := rollup.RollUp([]rollup.Row{single, multi})
	if _, err := NewBuilder().Normalize(results); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	res := results[0]
	if res.Responses["color"] != 205 {
		t.Errorf("color = %v (%T), want bare int 205", res.Responses["color"], res.Responses["color"])
	}
	if got, want := res.Responses["symptoms"], []int{3, 150}; !reflect.DeepEqual(got, want) {
		t.Errorf("symptoms = %v, want %v", got, want)
	}
}

func TestNormalize_SentinelsLeftUntouched(t *testing.T) {
	skipped := customRow("alice", "color", "SKIPPED")
	notDisplayed := customRow("alice", "flavor", "NOT_DISPLAYED")

	results := rollup.RollUp([]rollup.Row{skipped, notDisplayed})
	gloss, err := NewBuilder().Normalize(results)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if results[0].Responses["color"] != "SKIPPED" {
		t.Errorf("color = %v, want SKIPPED", results[0].Responses["color"])
	}
	if results[0].Responses["flavor"] != "NOT_DISPLAYED" {
		t.Errorf("flavor = %v, want NOT_DISPLAYED", results[0].Responses["flavor"])
	}
	if len(gloss) != 0 {
		t.Errorf("gloss = %v, want empty", gloss)
	}
}

func TestNormalize_NonCustomPromptsIgnored(t *testing.T) {
	r := customRow("alice", "mood", "good")
	r.Metadata.PromptType = "text"

	results := rollup.RollUp([]rollup.Row{r})
	gloss, err := NewBuilder().Normalize(results)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if results[0].Responses["mood"] != "good" {
		t.Errorf("mood = %v, want untouched", results[0].Responses["mood"])
	}
	if len(gloss) != 0 {
		t.Errorf("gloss = %v, want empty", gloss)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	results := rollup.RollUp([]rollup.Row{
		customRow("alice", "color",
			`{"value": 205, "custom_choices": [{"choice_id": 205, "choice_value": "Mauve"}]}`),
	})

	b := NewBuilder()
	first, err := b.Normalize(results)
	if err != nil {
		t.Fatalf("first Normalize: %v", err)
	}
	second, err := b.Normalize(results)
	if err != nil {
		t.Fatalf("second Normalize: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second pass changed the glossary: %v vs %v", first, second)
	}
	if results[0].Responses["color"] != 205 {
		t.Errorf("color = %v, want the rewritten value to survive", results[0].Responses["color"])
	}
}

func TestNormalize_MalformedEnvelope(t *testing.T) {
	results := rollup.RollUp([]rollup.Row{
		customRow("alice", "color", "not json"),
	})

	if _, err := NewBuilder().Normalize(results); err == nil {
		t.Error("expected an error for an unparseable custom-choice response")
	}
}
