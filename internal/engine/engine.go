// Package engine drives the portrait generation workflow: it composes
// prompts from style elements, invokes the generative model under rate-limit
// and concurrency constraints, evaluates the result, and decides whether to
// accept, retry, or fail the attempt.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"portraitserver/internal/domain"
	"portraitserver/internal/elements"
	"portraitserver/internal/evaljson"
	"portraitserver/internal/retry"
	"portraitserver/internal/taskqueue"
)

// Resource keys for the shared task queue.
const (
	resourceClassify = "model-classification"
	resourceEvaluate = "model-evaluation"
)

// ModelInvoker is the external generative model.
type ModelInvoker interface {
	GenerateImage(ctx context.Context, req domain.ModelRequest) (*domain.GeneratedImage, error)
	GenerateText(ctx context.Context, req domain.ModelRequest) (string, error)
}

// AssetLoader resolves a reference asset key to binary content.
type AssetLoader interface {
	DownloadAsset(ctx context.Context, key string) ([]byte, error)
}

// BufferInfo describes an intermediate buffer being saved.
type BufferInfo struct {
	FileName    string
	Description string
	MIMEType    string
}

// SavedBuffer identifies a persisted intermediate buffer.
type SavedBuffer struct {
	Key         string
	MIMEType    string
	Description string
}

// IntermediateStore is scoped checkpoint storage for binary sub-step outputs.
type IntermediateStore interface {
	SaveBuffer(ctx context.Context, data []byte, info BufferInfo) (SavedBuffer, error)
	LoadBuffer(ctx context.Context, key string) ([]byte, error)
}

// StateStore persists resumable workflow snapshots.
type StateStore interface {
	PersistWorkflowState(ctx context.Context, snap domain.WorkflowSnapshot) error
}

// Config wires an Engine. Model, Assets, Intermediate, State and Progress are
// required; everything else gets a sensible default.
type Config struct {
	Model        ModelInvoker
	Assets       AssetLoader
	Intermediate IntermediateStore
	State        StateStore
	Progress     *ProgressReporter
	Registry     *elements.Registry
	Queue        *taskqueue.Queue
	Retry        *retry.Executor
	Logger       zerolog.Logger

	// EvalParseRetries bounds how often a malformed evaluation response is
	// re-requested before the verdicts are downgraded.
	EvalParseRetries int
	Now              func() time.Time
}

// Engine is the workflow orchestrator. One Engine serves many jobs; per-job
// state lives on the stack of Run.
type Engine struct {
	model        ModelInvoker
	assets       AssetLoader
	intermediate IntermediateStore
	state        StateStore
	progress     *ProgressReporter
	registry     *elements.Registry
	queue        *taskqueue.Queue
	retry        *retry.Executor
	logger       zerolog.Logger

	evalParseRetries int
	now              func() time.Time
}

// New validates cfg and constructs an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Model == nil {
		return nil, errors.New("engine: missing model invoker")
	}
	if cfg.Assets == nil {
		return nil, errors.New("engine: missing asset loader")
	}
	if cfg.Intermediate == nil {
		return nil, errors.New("engine: missing intermediate store")
	}
	if cfg.State == nil {
		return nil, errors.New("engine: missing state store")
	}
	if cfg.Progress == nil {
		return nil, errors.New("engine: missing progress reporter")
	}
	if cfg.Registry == nil {
		cfg.Registry = elements.Default()
	}
	if cfg.Queue == nil {
		cfg.Queue = taskqueue.New(0)
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.New(retry.DefaultMaxRetries, retry.DefaultBaseSleep, cfg.Logger)
	}
	if cfg.EvalParseRetries < 1 {
		cfg.EvalParseRetries = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		model:            cfg.Model,
		assets:           cfg.Assets,
		intermediate:     cfg.Intermediate,
		state:            cfg.State,
		progress:         cfg.Progress,
		registry:         cfg.Registry,
		queue:            cfg.Queue,
		retry:            cfg.Retry,
		logger:           cfg.Logger,
		evalParseRetries: cfg.EvalParseRetries,
		now:              cfg.Now,
	}, nil
}

// AcceptedImage is one final portrait the workflow accepted.
type AcceptedImage struct {
	Data []byte
	MIME string
	Key  string
}

// Result is the typed outcome of a workflow run. Exhausting all attempts is a
// normal Failed result, not an error.
type Result struct {
	Outcome   domain.AttemptState
	Attempts  int
	Images    []AcceptedImage
	Verdicts  domain.Evaluation
	LastError string
}

type attemptOutput struct {
	final    *domain.GeneratedImage
	finalKey string
	verdicts domain.Evaluation
}

// Run executes the attempt state machine for job until a portrait is accepted
// or attempts are exhausted. The returned error is reserved for context
// cancellation; every expected failure mode resolves to a Result.
func (e *Engine) Run(ctx context.Context, job *domain.GenerationJob) (*Result, error) {
	if job.MaxAttempts < 1 {
		job.MaxAttempts = 3
	}
	start := job.Attempt
	if start < 1 {
		start = 1
	}
	defer e.progress.Cleanup(job.ID)

	// Auxiliary calls run alongside the pipeline; they must settle before
	// the result is handed back.
	var aux sync.WaitGroup
	defer aux.Wait()

	var (
		lastErr      string
		lastVerdicts domain.Evaluation
	)
	for attempt := start; attempt <= job.MaxAttempts; attempt++ {
		job.Attempt = attempt
		log := e.logger.With().Str("job_id", job.ID).Int("attempt", attempt).Logger()
		began := e.now()

		out, err := e.runAttempt(ctx, job, &aux)
		elapsed := e.now().Sub(began)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err.Error()
			log.Warn().Err(err).Dur("elapsed", elapsed).Msg("engine: attempt failed")
			e.persistState(ctx, job, retryOrFail(attempt, job.MaxAttempts), nil, nil, lastErr)
			continue
		}

		lastVerdicts = out.verdicts
		if out.verdicts.Acceptable() {
			log.Info().Dur("elapsed", elapsed).Msg("engine: portrait accepted")
			e.progress.Update(ctx, job.ID, 100, "Your portrait is ready", false)
			e.persistState(ctx, job, domain.StateAccepted, &out.verdicts, []string{out.finalKey}, "")
			return &Result{
				Outcome:  domain.StateAccepted,
				Attempts: attempt,
				Images: []AcceptedImage{{
					Data: out.final.Data,
					MIME: out.final.MIME,
					Key:  out.finalKey,
				}},
				Verdicts: out.verdicts,
			}, nil
		}

		log.Info().
			Dur("elapsed", elapsed).
			Str("face_similarity", string(out.verdicts.FaceSimilarity)).
			Str("safety", string(out.verdicts.Safety)).
			Str("rule_adherence", string(out.verdicts.RuleAdherence)).
			Msg("engine: attempt rejected by evaluation")
		state := retryOrFail(attempt, job.MaxAttempts)
		e.persistState(ctx, job, state, &out.verdicts, nil, "")
		if state == domain.StateRetrying {
			e.progress.Update(ctx, job.ID, 0,
				fmt.Sprintf("Taking another shot (attempt %d of %d)", attempt+1, job.MaxAttempts), true)
		}
	}

	e.progress.Update(ctx, job.ID, 0, "We could not produce an acceptable portrait", true)
	return &Result{
		Outcome:   domain.StateFailed,
		Attempts:  job.MaxAttempts,
		Verdicts:  lastVerdicts,
		LastError: lastErr,
	}, nil
}

func retryOrFail(attempt, maxAttempts int) domain.AttemptState {
	if attempt < maxAttempts {
		return domain.StateRetrying
	}
	return domain.StateFailed
}

// runAttempt performs one full compose -> generate -> evaluate pass. Each
// attempt recomposes from scratch; nothing carries over from earlier ones.
func (e *Engine) runAttempt(ctx context.Context, job *domain.GenerationJob, aux *sync.WaitGroup) (*attemptOutput, error) {
	// Composing.
	e.progress.Update(ctx, job.ID, 5, "Preparing your reference photos", false)
	ectx, err := e.composeContext(ctx, job)
	if err != nil {
		return nil, err
	}
	e.progress.Update(ctx, job.ID, 15, "Styling your portrait", false)

	// Generating: person, then background, then the composed final image.
	personBundle := e.registry.Compose(domain.PhasePersonGeneration, ectx)
	person, _, err := e.generateStep(ctx, job, personBundle, "person", "Capturing your likeness", 35)
	if err != nil {
		return nil, err
	}
	attempt := job.Attempt
	aux.Add(1)
	go func() {
		defer aux.Done()
		e.classifyPortrait(ctx, job.ID, attempt, person)
	}()

	backgroundBundle := e.registry.Compose(domain.PhaseBackgroundGeneration, ectx)
	background, _, err := e.generateStep(ctx, job, backgroundBundle, "background", "Building the scene", 55)
	if err != nil {
		return nil, err
	}

	compositionBundle := e.registry.Compose(domain.PhaseComposition, ectx)
	compositionBundle.References = append(compositionBundle.References,
		domain.ReferenceImage{Label: "Subject portrait", MIME: person.MIME, Data: person.Data},
		domain.ReferenceImage{Label: "Background plate", MIME: background.MIME, Data: background.Data},
	)
	final, finalKey, err := e.generateStep(ctx, job, compositionBundle, "composition", "Putting it all together", 70)
	if err != nil {
		return nil, err
	}

	// Evaluating.
	e.progress.Update(ctx, job.ID, 85, "Reviewing the result", false)
	verdicts, err := e.evaluate(ctx, job, ectx, final)
	if err != nil {
		return nil, err
	}

	return &attemptOutput{final: final, finalKey: finalKey, verdicts: verdicts}, nil
}

// composeContext downloads reference assets and prepares the composites that
// elements consume. Keys containing "body" feed the body composite; all other
// references are treated as face material.
func (e *Engine) composeContext(ctx context.Context, job *domain.GenerationJob) (*elements.Context, error) {
	if len(job.ReferenceKeys) == 0 {
		return nil, fmt.Errorf("%w: no reference assets", domain.ErrInvalidJob)
	}

	var face, body []domain.ReferenceImage
	for _, key := range job.ReferenceKeys {
		data, err := e.assets.DownloadAsset(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("download reference %q: %w", key, err)
		}
		ref := domain.ReferenceImage{MIME: mimeForKey(key), Data: data}
		if strings.Contains(strings.ToLower(key), "body") {
			ref.Label = fmt.Sprintf("Body reference %d", len(body)+1)
			body = append(body, ref)
		} else {
			ref.Label = fmt.Sprintf("Selfie %d", len(face)+1)
			face = append(face, ref)
		}
	}

	ectx := &elements.Context{Job: job}
	if len(face) > 0 {
		comp, err := e.compositeOf(face, "Face references, numbered row-major")
		if err != nil {
			return nil, err
		}
		ectx.FaceComposite = comp
		ectx.HasFaceComposite = true
		e.debugDump(ctx, job, comp.Data, "face-composite.png", "Labeled collage of face references", comp.MIME)
	}
	if len(body) > 0 {
		comp, err := e.compositeOf(body, "Body references, numbered row-major")
		if err != nil {
			return nil, err
		}
		ectx.BodyComposite = comp
		ectx.HasBodyComposite = true
		e.debugDump(ctx, job, comp.Data, "body-composite.png", "Labeled collage of body references", comp.MIME)
	}
	return ectx, nil
}

// compositeOf collapses multiple references into one collage; a single
// reference is passed through untouched under the collage label.
func (e *Engine) compositeOf(refs []domain.ReferenceImage, label string) (*domain.ReferenceImage, error) {
	if len(refs) == 1 {
		ref := refs[0]
		ref.Label = label
		return &ref, nil
	}
	comp, err := BuildComposite(refs, label)
	if err != nil {
		return nil, fmt.Errorf("build composite: %w", err)
	}
	return comp, nil
}

// generateStep invokes the model for one pipeline step under the rate-limit
// retry policy, persists the output immediately, and advances progress.
func (e *Engine) generateStep(ctx context.Context, job *domain.GenerationJob, bundle domain.PromptBundle, step, message string, donePercent int) (*domain.GeneratedImage, string, error) {
	req := domain.ModelRequest{
		Prompt:      renderPrompt(bundle),
		References:  bundle.References,
		AspectRatio: job.AspectRatio,
		RequestID:   fmt.Sprintf("%s-a%02d-%s", job.ID, job.Attempt, step),
	}

	var img *domain.GeneratedImage
	err := e.retry.Do(ctx, step, func(ctx context.Context) error {
		var callErr error
		img, callErr = e.model.GenerateImage(ctx, req)
		return callErr
	}, func(attempt, waitSeconds int) {
		e.progress.Update(ctx, job.ID, 0, retry.WaitMessage(attempt), true)
	})
	if err != nil {
		return nil, "", fmt.Errorf("%s generation: %w", step, err)
	}

	saved, err := e.intermediate.SaveBuffer(ctx, img.Data, BufferInfo{
		FileName:    fmt.Sprintf("%s/attempt-%02d/%s.png", job.GenerationID, job.Attempt, step),
		Description: fmt.Sprintf("%s output of attempt %d", step, job.Attempt),
		MIMEType:    img.MIME,
	})
	if err != nil {
		return nil, "", fmt.Errorf("persist %s output: %w", step, err)
	}

	e.progress.Update(ctx, job.ID, donePercent, message, false)
	return img, saved.Key, nil
}

// classifyPortrait runs a quick single-face sanity check through the shared
// task queue, in parallel with the rest of the attempt. The result is
// diagnostic only; failures never abort generation.
func (e *Engine) classifyPortrait(ctx context.Context, jobID string, attempt int, img *domain.GeneratedImage) {
	err := e.queue.Do(ctx, resourceClassify, func() error {
		text, err := e.model.GenerateText(ctx, domain.ModelRequest{
			Prompt:     "Does this image contain exactly one clearly visible human face? Answer YES or NO.",
			References: []domain.ReferenceImage{{Label: "Candidate portrait", MIME: img.MIME, Data: img.Data}},
			RequestID:  fmt.Sprintf("%s-a%02d-classify", jobID, attempt),
		})
		if err != nil {
			return err
		}
		verdict := evaljson.YesNo(strings.TrimSpace(text))
		e.logger.Debug().
			Str("job_id", jobID).
			Str("single_face", string(verdict)).
			Msg("engine: portrait classification")
		return nil
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("engine: portrait classification failed")
	}
}

// evaluate builds the evaluation prompt, calls the model through the task
// queue, and parses verdicts out of the response. An unparseable response
// after all parse retries downgrades to UNCERTAIN/N-A instead of failing.
func (e *Engine) evaluate(ctx context.Context, job *domain.GenerationJob, ectx *elements.Context, final *domain.GeneratedImage) (domain.Evaluation, error) {
	bundle := e.registry.Compose(domain.PhaseEvaluation, ectx)
	bundle.References = append(bundle.References,
		domain.ReferenceImage{Label: "Generated portrait", MIME: final.MIME, Data: final.Data})
	prompt := renderPrompt(bundle)
	e.debugDump(ctx, job, []byte(prompt), "evaluation-prompt.txt", "Prompt used to judge the portrait", "text/plain")

	log := e.logger.With().Str("job_id", job.ID).Int("attempt", job.Attempt).Logger()
	obj, err := evaljson.EvaluateWithRetry(ctx, log, e.evalParseRetries, func(ctx context.Context, parseAttempt int) (map[string]any, error) {
		var text string
		err := e.queue.Do(ctx, resourceEvaluate, func() error {
			return e.retry.Do(ctx, "evaluation", func(ctx context.Context) error {
				var callErr error
				text, callErr = e.model.GenerateText(ctx, domain.ModelRequest{
					Prompt:     prompt,
					References: bundle.References,
					RequestID:  fmt.Sprintf("%s-a%02d-eval%d", job.ID, job.Attempt, parseAttempt),
				})
				return callErr
			}, func(attempt, waitSeconds int) {
				e.progress.Update(ctx, job.ID, 0, retry.WaitMessage(attempt), true)
			})
		})
		if err != nil {
			return nil, err
		}
		return evaljson.LastJSONObject(text), nil
	})
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("evaluation call: %w", err)
	}

	if obj == nil {
		log.Warn().Msg("engine: evaluation never parsed, downgrading verdicts")
		return domain.Evaluation{
			FaceSimilarity: domain.VerdictUncertain,
			Safety:         domain.VerdictNA,
			RuleAdherence:  domain.VerdictNA,
		}, nil
	}

	verdicts := domain.Evaluation{
		FaceSimilarity: evaljson.TriState(obj["face_similarity"]),
		Safety:         evaljson.QuadState(obj["safety"]),
		RuleAdherence:  evaljson.QuadState(obj["rule_adherence"]),
	}
	if notes, ok := obj["notes"].(string); ok {
		verdicts.Notes = notes
	}
	return verdicts, nil
}

// persistState writes the end-of-attempt checkpoint. Checkpointing exists for
// resumability; a failed write is logged and generation continues.
func (e *Engine) persistState(ctx context.Context, job *domain.GenerationJob, state domain.AttemptState, verdicts *domain.Evaluation, acceptedKeys []string, lastErr string) {
	snap := domain.WorkflowSnapshot{
		GenerationID: job.GenerationID,
		JobID:        job.ID,
		Attempt:      job.Attempt,
		State:        state,
		Verdicts:     verdicts,
		AcceptedKeys: acceptedKeys,
		LastError:    lastErr,
		UpdatedAt:    e.now(),
	}
	if err := e.state.PersistWorkflowState(ctx, snap); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("engine: persist workflow state failed")
	}
}

// debugDump saves an intermediate buffer for offline inspection. It only runs
// in debug mode and never affects control flow.
func (e *Engine) debugDump(ctx context.Context, job *domain.GenerationJob, data []byte, name, description, mime string) {
	if !job.Debug {
		return
	}
	_, err := e.intermediate.SaveBuffer(ctx, data, BufferInfo{
		FileName:    fmt.Sprintf("%s/attempt-%02d/debug/%s", job.GenerationID, job.Attempt, name),
		Description: description,
		MIMEType:    mime,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Str("file", name).Msg("engine: debug dump failed")
	}
}

// renderPrompt flattens a bundle into the text handed to the model.
func renderPrompt(b domain.PromptBundle) string {
	var sb strings.Builder
	for _, in := range b.Instructions {
		sb.WriteString(in)
		sb.WriteString("\n")
	}
	if len(b.MustFollow) > 0 {
		sb.WriteString("\nHard requirements:\n")
		for _, rule := range b.MustFollow {
			sb.WriteString("- ")
			sb.WriteString(rule)
			sb.WriteString("\n")
		}
	}
	if len(b.Freedom) > 0 {
		sb.WriteString("\nCreative latitude:\n")
		for _, rule := range b.Freedom {
			sb.WriteString("- ")
			sb.WriteString(rule)
			sb.WriteString("\n")
		}
	}
	if b.AspectRatio != "" {
		sb.WriteString("\nAspect ratio: ")
		sb.WriteString(b.AspectRatio)
		sb.WriteString("\n")
	}
	return sb.String()
}

func mimeForKey(key string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(key), ".jpg"), strings.HasSuffix(strings.ToLower(key), ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(strings.ToLower(key), ".webp"):
		return "image/webp"
	default:
		return "image/png"
	}
}
