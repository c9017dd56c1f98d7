package elements

import (
	"portraitserver/internal/domain"
)

// Registry invokes elements in registration order and merges their
// contributions into a single PromptBundle for a phase.
type Registry struct {
	elements []Element
}

// NewRegistry builds a registry over the given elements. Order matters: it is
// the order contributions are merged in.
func NewRegistry(elements ...Element) *Registry {
	return &Registry{elements: elements}
}

// Default returns the standard portrait element set.
func Default() *Registry {
	return NewRegistry(
		&IdentityElement{},
		&ClothingElement{},
		&PoseElement{},
		&ExpressionElement{},
		&BackgroundElement{},
		&BrandingElement{},
	)
}

// Names lists registered element names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.elements))
	for i, e := range r.elements {
		names[i] = e.Name()
	}
	return names
}

// Compose runs every element for the phase and merges the results, then folds
// in the job's own must-follow and freedom rule lists. The returned bundle is
// freshly built; callers own it outright.
func (r *Registry) Compose(phase domain.Phase, ctx *Context) domain.PromptBundle {
	var merged domain.Contribution
	for _, e := range r.elements {
		ctx.Prior = merged
		merged.Append(e.Contribute(phase, ctx.Job.Style, ctx))
	}
	if extra := ctx.Job.Style.ExtraPrompt; extra != "" && phase != domain.PhaseEvaluation {
		merged.Instructions = append(merged.Instructions, extra)
	}

	bundle := domain.PromptBundle{
		Phase:        phase,
		Instructions: merged.Instructions,
		MustFollow:   append(append([]string{}, ctx.Job.MustFollow...), merged.MustFollow...),
		Freedom:      append(append([]string{}, ctx.Job.Freedom...), merged.Freedom...),
		References:   merged.References,
		Payload:      merged.Payload,
		AspectRatio:  ctx.Job.AspectRatio,
	}
	return bundle
}
