package elements

import (
	"strings"
	"testing"

	"portraitserver/internal/domain"
)

func testJob() *domain.GenerationJob {
	return &domain.GenerationJob{
		ID:            "job-1",
		GenerationID:  "gen-1",
		ReferenceKeys: []string{"selfies/a.png", "selfies/b.png"},
		Style: domain.StyleSpec{
			Clothing:   "business formal",
			Pose:       "head and shoulders",
			Expression: "confident smile",
			Background: "office interior",
			Branding:   "Acme Corp",
		},
		MustFollow:  []string{"Subject must face the camera."},
		Freedom:     []string{"Color grading may vary."},
		AspectRatio: "4:5",
		MaxAttempts: 3,
	}
}

func TestComposeMergesInRegistrationOrder(t *testing.T) {
	job := testJob()
	composite := &domain.ReferenceImage{Label: "Face References", MIME: "image/png", Data: []byte{1}}
	ctx := &Context{Job: job, FaceComposite: composite, HasFaceComposite: true}

	bundle := Default().Compose(domain.PhasePersonGeneration, ctx)

	if len(bundle.Instructions) == 0 {
		t.Fatalf("no instructions composed")
	}
	// Identity is registered first; its instruction must lead.
	if !strings.Contains(bundle.Instructions[0], "professional photographic portrait") {
		t.Fatalf("first instruction = %q, want identity lead", bundle.Instructions[0])
	}
	clothingIdx, poseIdx := -1, -1
	for i, in := range bundle.Instructions {
		if strings.Contains(in, "business formal") {
			clothingIdx = i
		}
		if strings.Contains(in, "head and shoulders") {
			poseIdx = i
		}
	}
	if clothingIdx == -1 || poseIdx == -1 || clothingIdx > poseIdx {
		t.Fatalf("clothing(%d)/pose(%d) not in registration order: %v", clothingIdx, poseIdx, bundle.Instructions)
	}
}

func TestComposeIncludesJobRulesFirst(t *testing.T) {
	job := testJob()
	ctx := &Context{Job: job}
	bundle := Default().Compose(domain.PhasePersonGeneration, ctx)

	if len(bundle.MustFollow) == 0 || bundle.MustFollow[0] != "Subject must face the camera." {
		t.Fatalf("must-follow = %v, want job rules leading", bundle.MustFollow)
	}
	if len(bundle.Freedom) == 0 || bundle.Freedom[0] != "Color grading may vary." {
		t.Fatalf("freedom = %v, want job rules leading", bundle.Freedom)
	}
}

func TestComposeIsPhaseSensitive(t *testing.T) {
	job := testJob()
	ctx := &Context{Job: job}

	background := Default().Compose(domain.PhaseBackgroundGeneration, ctx)
	joined := strings.Join(background.Instructions, " ")
	if !strings.Contains(joined, "office interior") {
		t.Fatalf("background phase missing setting: %v", background.Instructions)
	}
	if strings.Contains(joined, "business formal") {
		t.Fatalf("clothing leaked into background phase: %v", background.Instructions)
	}

	composition := Default().Compose(domain.PhaseComposition, ctx)
	joined = strings.Join(composition.Instructions, " ")
	if !strings.Contains(joined, "Acme Corp") {
		t.Fatalf("branding missing from composition phase: %v", composition.Instructions)
	}

	evaluation := Default().Compose(domain.PhaseEvaluation, ctx)
	joined = strings.Join(evaluation.Instructions, " ")
	if !strings.Contains(joined, "face_similarity") {
		t.Fatalf("evaluation phase missing verdict schema: %v", evaluation.Instructions)
	}
}

func TestComposeCarriesCompositeReferences(t *testing.T) {
	job := testJob()
	face := &domain.ReferenceImage{Label: "Face References", MIME: "image/png", Data: []byte{1, 2}}
	body := &domain.ReferenceImage{Label: "Body References", MIME: "image/png", Data: []byte{3}}
	ctx := &Context{
		Job:              job,
		FaceComposite:    face,
		BodyComposite:    body,
		HasFaceComposite: true,
		HasBodyComposite: true,
	}

	bundle := Default().Compose(domain.PhasePersonGeneration, ctx)
	if len(bundle.References) != 2 {
		t.Fatalf("references = %d, want 2", len(bundle.References))
	}
	if bundle.References[0].Label != "Face References" {
		t.Fatalf("first reference = %q, want face composite", bundle.References[0].Label)
	}
}

func TestComposePayloadKeyedByElement(t *testing.T) {
	job := testJob()
	ctx := &Context{Job: job}
	bundle := Default().Compose(domain.PhasePersonGeneration, ctx)

	if got, ok := bundle.Payload["clothing"]; !ok || got != "Business Formal" {
		t.Fatalf("payload[clothing] = %v, want Business Formal", got)
	}
	if _, ok := bundle.Payload["identity"]; !ok {
		t.Fatalf("payload missing identity fragment: %v", bundle.Payload)
	}
}

func TestSparseStyleProducesSparseBundle(t *testing.T) {
	job := testJob()
	job.Style = domain.StyleSpec{}
	ctx := &Context{Job: job}

	bundle := Default().Compose(domain.PhasePersonGeneration, ctx)
	joined := strings.Join(bundle.Instructions, " ")
	for _, absent := range []string{"attire", "Pose:", "Expression:"} {
		if strings.Contains(joined, absent) {
			t.Fatalf("untoggled feature leaked %q: %v", absent, bundle.Instructions)
		}
	}
}
