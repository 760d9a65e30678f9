package enrich

import (
	"errors"
	"testing"
)

func TestParseClassification(t *testing.T) {
	t.Parallel()

	payload := []byte(`[
		{"index": 0, "topics": ["banjir jakarta"], "actors": ["BNPB"], "locations": ["Jakarta"], "language": "id", "is_editorial": false, "sentiment": "negative"},
		{"index": 1, "topics": [], "actors": [], "locations": [], "language": null, "is_editorial": null, "sentiment": null}
	]`)

	results, err := ParseClassification(payload)
	if err != nil {
		t.Fatalf("ParseClassification() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	first := results[0]
	if first.Index != 0 {
		t.Errorf("Index = %d, want 0", first.Index)
	}
	if len(first.Topics) != 1 || first.Topics[0] != "banjir jakarta" {
		t.Errorf("Topics = %v, want [banjir jakarta]", first.Topics)
	}
	if first.Language != "id" || first.Sentiment != "negative" {
		t.Errorf("Language/Sentiment = %q/%q, want id/negative", first.Language, first.Sentiment)
	}
	if first.IsEditorial == nil || *first.IsEditorial {
		t.Errorf("IsEditorial = %v, want false", first.IsEditorial)
	}

	second := results[1]
	if second.Index != 1 {
		t.Errorf("Index = %d, want 1", second.Index)
	}
	if second.Language != "" || second.Sentiment != "" || second.IsEditorial != nil {
		t.Errorf("null fields should stay zero-valued, got %+v", second)
	}
}

func TestParseClassificationRejectsBrokenAnswers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
	}{
		{"not json", "the model apologized instead"},
		{"object instead of array", `{"index": 0}`},
		{"missing required keys", `[{"index": 0, "topics": []}]`},
		{"negative index", `[{"index": -1, "topics": [], "actors": [], "locations": []}]`},
		{"sentiment outside enum", `[{"index": 0, "topics": [], "actors": [], "locations": [], "sentiment": "angry"}]`},
		{"topics not strings", `[{"index": 0, "topics": [1, 2], "actors": [], "locations": []}]`},
		{"trailing content", `[] []`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseClassification([]byte(tc.payload)); !errors.Is(err, ErrSchemaViolation) {
				t.Fatalf("ParseClassification(%q) error = %v, want ErrSchemaViolation", tc.payload, err)
			}
		})
	}
}
