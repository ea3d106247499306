package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
)

// Job is a unit of work ready to be enqueued: a kind some node can
// execute and the opaque payload it will receive.
type Job struct {
	Kind    string
	Payload json.RawMessage
}

// Generator defines the interface for producing new jobs. The refill
// loop calls it whenever the queue drops below its low-water mark;
// implementations decide what work the farm should chew on next.
type Generator interface {
	// GenerateJob creates one job. Returns ErrNoTemplates (or an
	// implementation-specific error) when no job can be produced;
	// the refill round stops on any error.
	GenerateJob(ctx context.Context) (Job, error)
}

// Template describes one kind of job a TemplateGenerator can mint.
type Template struct {
	Kind    string
	Payload map[string]any
}

// TemplateGenerator produces jobs by choosing uniformly among a fixed
// set of templates. Payloads are marshalled once at construction and
// copied per job.
type TemplateGenerator struct {
	kinds    []string
	payloads []json.RawMessage
}

// Ensure TemplateGenerator implements the Generator interface
var _ Generator = (*TemplateGenerator)(nil)

// NewTemplateGenerator creates a TemplateGenerator from the given
// templates. An empty set is allowed; GenerateJob then reports
// ErrNoTemplates. Returns ErrInvalidTemplate if a template has no kind
// or a payload that cannot be marshalled.
func NewTemplateGenerator(templates []Template) (*TemplateGenerator, error) {
	g := &TemplateGenerator{
		kinds:    make([]string, 0, len(templates)),
		payloads: make([]json.RawMessage, 0, len(templates)),
	}

	for i, tmpl := range templates {
		if tmpl.Kind == "" {
			return nil, fmt.Errorf("%w: template %d has no kind", ErrInvalidTemplate, i)
		}

		var payload json.RawMessage
		if tmpl.Payload != nil {
			encoded, err := json.Marshal(tmpl.Payload)
			if err != nil {
				return nil, fmt.Errorf("%w: marshalling payload of %q: %v", ErrInvalidTemplate, tmpl.Kind, err)
			}
			payload = encoded
		}

		g.kinds = append(g.kinds, tmpl.Kind)
		g.payloads = append(g.payloads, payload)
	}

	return g, nil
}

// GenerateJob picks a template uniformly at random and returns a job
// minted from it. The payload is a copy; callers may modify it.
func (g *TemplateGenerator) GenerateJob(ctx context.Context) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	if len(g.kinds) == 0 {
		return Job{}, ErrNoTemplates
	}

	i := rand.IntN(len(g.kinds))
	job := Job{Kind: g.kinds[i]}
	if g.payloads[i] != nil {
		job.Payload = append(json.RawMessage(nil), g.payloads[i]...)
	}
	return job, nil
}
