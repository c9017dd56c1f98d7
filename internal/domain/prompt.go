package domain

// ReferenceImage is one image handed to the model alongside the prompt text.
type ReferenceImage struct {
	Label string
	MIME  string
	Data  []byte
}

// Contribution is the output of a single element for a single phase. Lists are
// append-only; elements never rewrite what earlier elements produced.
type Contribution struct {
	Instructions []string
	MustFollow   []string
	Freedom      []string
	References   []ReferenceImage
	// Payload carries opaque phase-specific fragments keyed by element name.
	Payload map[string]any
}

// Append merges another contribution into this one, preserving order.
func (c *Contribution) Append(other Contribution) {
	c.Instructions = append(c.Instructions, other.Instructions...)
	c.MustFollow = append(c.MustFollow, other.MustFollow...)
	c.Freedom = append(c.Freedom, other.Freedom...)
	c.References = append(c.References, other.References...)
	if len(other.Payload) > 0 {
		if c.Payload == nil {
			c.Payload = make(map[string]any, len(other.Payload))
		}
		for k, v := range other.Payload {
			c.Payload[k] = v
		}
	}
}

// PromptBundle is the fully composed input for one model call. It is rebuilt
// from scratch for every attempt; nothing carries over between attempts.
type PromptBundle struct {
	Phase        Phase
	Instructions []string
	MustFollow   []string
	Freedom      []string
	References   []ReferenceImage
	Payload      map[string]any
	AspectRatio  string
}

// ModelRequest is the normalized request shape handed to a model invoker.
type ModelRequest struct {
	Prompt      string
	References  []ReferenceImage
	AspectRatio string
	RequestID   string
}

// GeneratedImage is a single binary output from the model.
type GeneratedImage struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}
