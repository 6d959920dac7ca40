package ensemble

import (
	"math"
	"strconv"
	"testing"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/google/go-cmp/cmp"
)

func TestSignatureNormalisesUnits(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"It takes 4.5 quarts.", "Capacity is 4.5 qt with filter", true},
		{"Torque to 80 lb-ft", "torque them to 80 pound feet", true},
		{"80 ft lbs then 90 degrees", "90 degrees after 80 foot pounds", true},
		{"Use 5W-30 oil, 4.5 quarts", "4.5 quarts of 5w30", true},
		{"For your 2008 WRX it takes 4.5 quarts", "4.5 quarts", true},
		{"Idle around 1,200 rpm", "1200 RPM at idle", true},
		{"Inflate to 32 pounds per square inch", "32 psi", true},
		{"4.5 quarts", "5 quarts", false},
		{"80 pound feet", "80 newton meters", false},
		{"4.50 liters", "4.5 litres", true},
		{"Torque it to 89 pound-feet.", "Torque it to 89 pound feet.", true},
		{"89 foot-pounds", "89 lb ft", true},
		{"120 Newton-meters", "120 newton meters", true},
		{"120 N-m", "120 Nm", true},
		{"Opens at 195 degrees F", "opens at 195 degrees Fahrenheit", true},
		{"Opens at 90 degrees C", "90 degrees celsius", true},
		{"195 degrees F", "195 degrees C", false},
	}
	for _, tc := range tests {
		sa, sb := Signature(tc.a), Signature(tc.b)
		if (sa == sb) != tc.same {
			t.Errorf("Signature(%q)=%q, Signature(%q)=%q, want same=%v", tc.a, sa, tc.b, sb, tc.same)
		}
	}
}

func TestSignatureNoFigures(t *testing.T) {
	if got := Signature("No, that is not safe to drive."); got != "" {
		t.Fatalf("expected empty signature, got %q", got)
	}
}

var manual = []domain.DocumentPassage{
	{SourceTitle: "WRX Owner Manual", Content: "Engine oil capacity with filter: 4.5 quarts. Oil filter part 15208AA15A."},
	{SourceTitle: "Service Bulletin 12-34", Content: "Drain plug torque 32 pound feet."},
}

func TestParseCandidateCitations(t *testing.T) {
	raw := "Use 4.5 quarts and filter 15208AA15A.\n<sources>[\"wrx owner manual\", \"Made Up Guide\", \"WRX Owner Manual\"]</sources>"
	c := ParseCandidate(2, raw, manual)
	if c.Text != "Use 4.5 quarts and filter 15208AA15A." {
		t.Fatalf("citation block not stripped: %q", c.Text)
	}
	if diff := cmp.Diff([]string{"WRX Owner Manual"}, c.CitedSources); diff != "" {
		t.Fatalf("cited sources (-want +got):\n%s", diff)
	}
	if c.GroundingIndicators != 2 {
		t.Fatalf("grounding = %d, want 2 (4.5 and the part number)", c.GroundingIndicators)
	}
	if c.Index != 2 || c.Signature != Signature(c.Text) {
		t.Fatalf("unexpected candidate %+v", c)
	}
}

func TestParseCandidateMalformedBlock(t *testing.T) {
	c := ParseCandidate(0, "Torque to 32 pound feet. <sources>Service Bulletin 12-34</sources>", manual)
	if len(c.CitedSources) != 0 {
		t.Fatalf("malformed block should yield no citations, got %v", c.CitedSources)
	}
	if c.Text != "Torque to 32 pound feet." {
		t.Fatalf("block should still be stripped: %q", c.Text)
	}
	if c.GroundingIndicators != 1 {
		t.Fatalf("grounding = %d, want 1", c.GroundingIndicators)
	}
}

func TestParseCandidateNoDocuments(t *testing.T) {
	c := ParseCandidate(0, "4.5 quarts <sources>[\"WRX Owner Manual\"]</sources>", nil)
	if len(c.CitedSources) != 0 || c.GroundingIndicators != 0 {
		t.Fatalf("no documents means no citations or grounding, got %+v", c)
	}
}

func cand(i int, text string) domain.CandidateAnswer {
	return ParseCandidate(i, text, manual)
}

func TestScenarioMajorityAgreement(t *testing.T) {
	cands := []domain.CandidateAnswer{
		cand(0, "It takes 4.5 quarts."),
		cand(1, "4.5 quarts with the filter."),
		cand(2, "It takes 5 quarts."),
	}
	score := Consistency(cands)
	if math.Abs(score-2.0/3.0) > 1e-9 || math.Round(score*100)/100 != 0.67 {
		t.Fatalf("consistency = %v, want 0.67", score)
	}
	sel := Select(cands)
	if Signature(sel.Text) != "4.5 qt" {
		t.Fatalf("selected %q, want a 4.5 quarts candidate", sel.Text)
	}
	out := Evaluate(cands, 3)
	if out.Confidence < weightConsistency*score || out.Confidence > 1 {
		t.Fatalf("confidence %v does not reflect majority agreement", out.Confidence)
	}
	if out.Notes == "" {
		t.Fatal("expected a disagreement note")
	}
}

func TestConsistencyKOfN(t *testing.T) {
	for n := 2; n <= 6; n++ {
		for k := 1; k <= n; k++ {
			var cands []domain.CandidateAnswer
			for i := 0; i < k; i++ {
				cands = append(cands, cand(i, "Use 4.5 quarts."))
			}
			for i := k; i < n; i++ {
				cands = append(cands, cand(i, "Use "+strconv.Itoa(10+i)+" quarts."))
			}
			want := float64(k) / float64(n)
			if got := Consistency(cands); math.Abs(got-want) > 1e-9 {
				t.Errorf("n=%d k=%d: consistency %v, want %v", n, k, got, want)
			}
		}
	}
}

func TestConsistencyAllAgree(t *testing.T) {
	cands := []domain.CandidateAnswer{cand(0, "80 lb-ft"), cand(1, "Torque to 80 pound feet."), cand(2, "80 ft-lbs")}
	if got := Consistency(cands); got != 1 {
		t.Fatalf("consistency = %v, want 1", got)
	}
	if Notes(cands, 3) != "" {
		t.Fatal("no note expected when all agree")
	}
}

func TestConsistencyIgnoresHyphenation(t *testing.T) {
	cands := []domain.CandidateAnswer{
		cand(0, "Torque the drain plug to 30 pound feet."),
		cand(1, "Torque the drain plug to 30 pound-feet."),
		cand(2, "30 foot-pounds is the spec."),
	}
	if got := Consistency(cands); got != 1 {
		t.Fatalf("consistency = %v, want 1 (signatures %q %q %q)", got, cands[0].Signature, cands[1].Signature, cands[2].Signature)
	}
}

func TestGroundingMatchesGradesAndSkipsSmallNumbers(t *testing.T) {
	docs := []domain.DocumentPassage{{SourceTitle: "Oil", Content: "Use 5W30 oil. Step 1: remove 2 bolts. Filter 15208-AA15A."}}
	tests := []struct {
		text string
		want int
	}{
		{"Use 5W-30.", 1},
		{"Filter 15208AA15A.", 1},
		{"Remove 2 bolts in step 1.", 0},
		{"Use 5w30 and filter 15208-AA15A.", 2},
	}
	for _, tc := range tests {
		if got := ParseCandidate(0, tc.text, docs).GroundingIndicators; got != tc.want {
			t.Errorf("grounding(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestSelectTieBreaks(t *testing.T) {
	grounded := domain.CandidateAnswer{Index: 2, Text: "longer grounded text", Signature: "x", GroundingIndicators: 2}
	cited := domain.CandidateAnswer{Index: 0, Text: "cited", Signature: "x", GroundingIndicators: 1, CitedSources: []string{"A"}}
	short := domain.CandidateAnswer{Index: 1, Text: "s", Signature: "x", GroundingIndicators: 1}
	if got := Select([]domain.CandidateAnswer{short, cited, grounded}); got.Index != 2 {
		t.Fatalf("grounding should win, got %d", got.Index)
	}
	if got := Select([]domain.CandidateAnswer{short, cited}); got.Index != 0 {
		t.Fatalf("citations should win, got %d", got.Index)
	}
	plain := domain.CandidateAnswer{Index: 3, Text: "a bit longer", Signature: "x", GroundingIndicators: 1}
	if got := Select([]domain.CandidateAnswer{plain, short}); got.Index != 1 {
		t.Fatalf("shorter text should win, got %d", got.Index)
	}
	minority := domain.CandidateAnswer{Index: 4, Text: "y", Signature: "y", GroundingIndicators: 9}
	if got := Select([]domain.CandidateAnswer{minority, plain, short}); got.Signature != "x" {
		t.Fatal("selection must come from the majority group")
	}
}

func TestSelectOrderIndependent(t *testing.T) {
	cands := []domain.CandidateAnswer{
		cand(0, "It takes 4.5 quarts."),
		cand(1, "4.5 quarts with the filter."),
		cand(2, "It takes 5 quarts."),
	}
	want := Evaluate(cands, 3)
	perms := [][]int{{0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		shuffled := []domain.CandidateAnswer{cands[p[0]], cands[p[1]], cands[p[2]]}
		if diff := cmp.Diff(want, Evaluate(shuffled, 3)); diff != "" {
			t.Fatalf("order %v changed the result (-want +got):\n%s", p, diff)
		}
	}
}

func TestConfidenceBounds(t *testing.T) {
	heavy := domain.CandidateAnswer{GroundingIndicators: 50, CitedSources: []string{"a", "b", "c", "d"}}
	if got := Confidence(1, heavy); math.Abs(got-1) > 1e-9 {
		t.Fatalf("confidence = %v, want 1", got)
	}
	if got := Confidence(1.5, heavy); got != 1 {
		t.Fatalf("confidence should cap at 1, got %v", got)
	}
	if got := Confidence(0, domain.CandidateAnswer{}); got != 0 {
		t.Fatalf("confidence = %v, want 0", got)
	}
}

func TestUsedDocumentsIsUnion(t *testing.T) {
	cands := []domain.CandidateAnswer{
		{CitedSources: []string{"B"}},
		{CitedSources: []string{"A", "B"}},
		{},
	}
	if diff := cmp.Diff([]string{"A", "B"}, UsedDocuments(cands)); diff != "" {
		t.Fatal(diff)
	}
	if got := UsedDocuments(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}
