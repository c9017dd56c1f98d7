// Package elements composes prompts from independent style features. A style
// configuration is a sparse combination of toggles (clothing, pose,
// background, ...); letting each feature contribute on its own avoids a
// combinatorial explosion of phase-specific prompt builders.
package elements

import (
	"portraitserver/internal/domain"
)

// Context is what an element sees when contributing. Prior holds everything
// earlier elements produced for this phase; elements may read it to react,
// but must only append through their own return value.
type Context struct {
	Job              *domain.GenerationJob
	FaceComposite    *domain.ReferenceImage
	BodyComposite    *domain.ReferenceImage
	HasFaceComposite bool
	HasBodyComposite bool
	Prior            domain.Contribution
}

// Element contributes prompt material for one style feature.
type Element interface {
	Name() string
	Contribute(phase domain.Phase, style domain.StyleSpec, ctx *Context) domain.Contribution
}
