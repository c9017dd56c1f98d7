package elements

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"portraitserver/internal/domain"
)

var titleCaser = cases.Title(language.Und)

// IdentityElement anchors every phase to the person in the reference
// material. It is registered first so its references lead the bundle.
type IdentityElement struct{}

func (e *IdentityElement) Name() string { return "identity" }

func (e *IdentityElement) Contribute(phase domain.Phase, style domain.StyleSpec, ctx *Context) domain.Contribution {
	var c domain.Contribution
	switch phase {
	case domain.PhasePersonGeneration:
		c.Instructions = append(c.Instructions,
			"Generate a professional photographic portrait of the person shown in the labeled reference collage.")
		if style.Preset != "" {
			c.Instructions = append(c.Instructions,
				fmt.Sprintf("Overall style preset: %s.", style.Preset))
		}
		c.MustFollow = append(c.MustFollow,
			"The generated face must be recognizably the same person as in the references.",
			"Do not alter facial structure, skin tone, or distinguishing features.")
		if ctx.HasFaceComposite {
			c.References = append(c.References, *ctx.FaceComposite)
		}
		if ctx.HasBodyComposite {
			c.References = append(c.References, *ctx.BodyComposite)
			c.Instructions = append(c.Instructions,
				"Match body proportions to the body reference collage.")
		}
	case domain.PhaseComposition:
		c.MustFollow = append(c.MustFollow,
			"Preserve the subject's identity exactly as in the intermediate portrait.")
	case domain.PhaseEvaluation:
		c.Instructions = append(c.Instructions,
			"You are judging a generated portrait against reference photos of a real person.",
			`Answer with a single JSON object: {"face_similarity":"YES|NO|UNCERTAIN","safety":"YES|NO|UNCERTAIN|N/A","rule_adherence":"YES|NO|UNCERTAIN|N/A","notes":"..."}.`)
		if ctx.HasFaceComposite {
			c.References = append(c.References, *ctx.FaceComposite)
		}
	}
	c.Payload = map[string]any{e.Name(): map[string]any{
		"reference_count": len(ctx.Job.ReferenceKeys),
	}}
	return c
}

// ClothingElement contributes wardrobe instructions.
type ClothingElement struct{}

func (e *ClothingElement) Name() string { return "clothing" }

func (e *ClothingElement) Contribute(phase domain.Phase, style domain.StyleSpec, ctx *Context) domain.Contribution {
	var c domain.Contribution
	if style.Clothing == "" {
		return c
	}
	switch phase {
	case domain.PhasePersonGeneration:
		c.Instructions = append(c.Instructions,
			fmt.Sprintf("Dress the subject in %s attire.", style.Clothing))
		c.MustFollow = append(c.MustFollow,
			"Clothing must fit naturally with realistic fabric folds.")
		c.Freedom = append(c.Freedom,
			"Exact garment cut and color accents may vary within the requested style.")
	case domain.PhaseEvaluation:
		c.Instructions = append(c.Instructions,
			fmt.Sprintf("The subject was asked to wear %s attire; factor this into rule_adherence.", style.Clothing))
	}
	c.Payload = map[string]any{e.Name(): titleCaser.String(style.Clothing)}
	return c
}

// PoseElement contributes posture and framing instructions.
type PoseElement struct{}

func (e *PoseElement) Name() string { return "pose" }

func (e *PoseElement) Contribute(phase domain.Phase, style domain.StyleSpec, ctx *Context) domain.Contribution {
	var c domain.Contribution
	if style.Pose == "" {
		return c
	}
	switch phase {
	case domain.PhasePersonGeneration, domain.PhaseComposition:
		c.Instructions = append(c.Instructions,
			fmt.Sprintf("Pose: %s, with natural relaxed posture.", style.Pose))
		c.Freedom = append(c.Freedom,
			"Slight variations in head tilt and shoulder angle are welcome.")
	}
	c.Payload = map[string]any{e.Name(): titleCaser.String(style.Pose)}
	return c
}

// ExpressionElement contributes facial expression guidance.
type ExpressionElement struct{}

func (e *ExpressionElement) Name() string { return "expression" }

func (e *ExpressionElement) Contribute(phase domain.Phase, style domain.StyleSpec, ctx *Context) domain.Contribution {
	var c domain.Contribution
	if style.Expression == "" || phase != domain.PhasePersonGeneration {
		return c
	}
	c.Instructions = append(c.Instructions,
		fmt.Sprintf("Expression: %s.", style.Expression))
	c.MustFollow = append(c.MustFollow,
		"The expression must look natural, never forced or exaggerated.")
	return c
}

// BackgroundElement owns the background-generation phase and keeps the other
// phases consistent with the requested setting.
type BackgroundElement struct{}

func (e *BackgroundElement) Name() string { return "background" }

func (e *BackgroundElement) Contribute(phase domain.Phase, style domain.StyleSpec, ctx *Context) domain.Contribution {
	var c domain.Contribution
	setting := style.Background
	if setting == "" {
		setting = "neutral studio"
	}
	switch phase {
	case domain.PhaseBackgroundGeneration:
		c.Instructions = append(c.Instructions,
			fmt.Sprintf("Generate a %s background suitable for a professional portrait.", setting),
			"The background must not contain people, text, or logos.")
		if style.Lighting != "" {
			c.Instructions = append(c.Instructions,
				fmt.Sprintf("Lighting: %s.", style.Lighting))
		}
		c.Freedom = append(c.Freedom,
			"Depth-of-field blur strength may vary for a pleasing look.")
	case domain.PhaseComposition:
		c.Instructions = append(c.Instructions,
			fmt.Sprintf("Place the subject against the provided %s background with consistent lighting direction.", setting))
	}
	c.Payload = map[string]any{e.Name(): titleCaser.String(setting)}
	return c
}

// BrandingElement contributes an optional brand mark during composition.
type BrandingElement struct{}

func (e *BrandingElement) Name() string { return "branding" }

func (e *BrandingElement) Contribute(phase domain.Phase, style domain.StyleSpec, ctx *Context) domain.Contribution {
	var c domain.Contribution
	if style.Branding == "" || phase != domain.PhaseComposition {
		return c
	}
	c.Instructions = append(c.Instructions,
		fmt.Sprintf("Include a subtle %s brand treatment in the lower corner.", style.Branding))
	c.MustFollow = append(c.MustFollow,
		"Branding must never overlap the subject's face.")
	return c
}
