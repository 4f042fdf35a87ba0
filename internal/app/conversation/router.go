package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/PabloGalante/evolve-chat/internal/app/directive"
	"github.com/PabloGalante/evolve-chat/internal/domain"
	"github.com/PabloGalante/evolve-chat/internal/observability"
)

const (
	capInference = "inference"
	capMedia     = "media_search"
	capResearch  = "research"
)

// route dispatches one directive for req's turn. Panics raised by
// collaborators are converted into errors.
func (e *Engine) route(req *activeRequest, d domain.Directive) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrCapability, r)
		}
	}()

	switch d.Kind {
	case domain.DirectiveSingle:
		return e.routeSingle(req, d.Single)
	case domain.DirectiveCombined:
		return e.routeCombined(req, d)
	default:
		return e.routeChat(req, d.Text, e.Mode(), domain.LearningNone)
	}
}

func (e *Engine) routeSingle(req *activeRequest, tag domain.SingleTag) error {
	switch tag.Kind {
	case domain.TagSearch:
		msg, err := e.mediaSearch(req.ctx, tag)
		if err != nil {
			return err
		}
		return e.commit(req, []domain.Message{msg})

	case domain.TagMode:
		// Socratic is sticky: it outlives this request.
		e.mu.Lock()
		e.mode = domain.ModeSocratic
		e.notify()
		e.mu.Unlock()
		return e.routeChat(req, tag.Query, domain.ModeSocratic, domain.LearningNone)

	default:
		return e.routeResearch(req, tag.Query)
	}
}

// routeChat sends the prior context plus content to the inference
// capability and writes the answer into a placeholder.
func (e *Engine) routeChat(req *activeRequest, content string, mode domain.SessionMode, learning domain.LearningMode) error {
	chatReq := domain.ChatRequest{
		Messages:     append(BuildContext(e.store.Turns(), req.turnIndex), domain.ChatMessage{Role: domain.RoleUser, Content: content}),
		Mode:         mode,
		LearningMode: learning,
	}

	if err := e.apply(req, func() error {
		id, err := e.store.AppendPlaceholder(req.turnIndex)
		req.messageID = id
		return err
	}); err != nil {
		return err
	}

	if sc, ok := e.caps.Inference.(domain.StreamingInferenceClient); ok && e.cfg.Stream {
		ctx, span := observability.StartSpan(req.ctx, "capability.inference.stream",
			attribute.String("mode", string(mode)))
		ch, err := sc.StreamChat(ctx, chatReq)
		if err != nil {
			observability.CapabilityErrors.WithLabelValues(capInference).Inc()
			observability.EndSpan(span, err)
			return err
		}
		err = e.ingest(req, ch)
		observability.EndSpan(span, err)
		return err
	}

	text, err := e.chat(req.ctx, chatReq)
	if err != nil {
		return err
	}
	return e.apply(req, func() error {
		req.committed = true
		return e.store.MutateMessage(req.turnIndex, req.messageID, domain.SetContent(text))
	})
}

// routeResearch shows a research_loading placeholder while the research
// capability runs, then replaces it with the result.
func (e *Engine) routeResearch(req *activeRequest, query string) error {
	initial, err := domain.ResearchLoadingPayload(query, domain.StageInitializing)
	if err != nil {
		return err
	}
	if err := e.apply(req, func() error {
		id, err := e.store.AppendPlaceholder(req.turnIndex)
		if err != nil {
			return err
		}
		req.messageID = id
		return e.store.MutateMessage(req.turnIndex, id, domain.SetContent(initial))
	}); err != nil {
		return err
	}

	searching, err := domain.ResearchLoadingPayload(query, domain.StageSearching)
	if err != nil {
		return err
	}
	if err := e.apply(req, func() error {
		return e.store.MutateMessage(req.turnIndex, req.messageID, domain.SetContent(searching))
	}); err != nil {
		return err
	}

	msg, err := e.research(req.ctx, query)
	if err != nil {
		return err
	}
	return e.commit(req, []domain.Message{msg})
}

// routeCombined runs the mode request and then the tool request, one after
// the other, and writes whatever succeeded in a single transition.
func (e *Engine) routeCombined(req *activeRequest, d domain.Directive) error {
	var (
		results []domain.Message
		errs    []error
	)

	mode, learning := domain.ModeStandard, domain.LearningNone
	if d.Secondary.Kind == domain.TagMode {
		mode = domain.ModeSocratic
	} else if m, ok := directive.LearningModeFor(d.Secondary.Name); ok {
		learning = m
	}
	text, err := e.chat(req.ctx, domain.ChatRequest{
		Messages:     append(BuildContext(e.store.Turns(), req.turnIndex), domain.ChatMessage{Role: domain.RoleUser, Content: d.Query}),
		Mode:         mode,
		LearningMode: learning,
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", d.Secondary, err))
	} else {
		results = append(results, domain.Message{Role: domain.RoleAssistant, Content: text})
	}

	if err := req.ctx.Err(); err != nil {
		return err
	}

	var primary domain.Message
	if d.Primary.Kind == domain.TagSearch {
		primary, err = e.mediaSearch(req.ctx, d.Primary)
	} else {
		primary, err = e.research(req.ctx, d.Query)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", d.Primary, err))
	} else {
		results = append(results, primary)
	}

	if err := req.ctx.Err(); err != nil {
		return err
	}
	if len(results) == 0 {
		return errors.Join(errs...)
	}
	if err := e.commit(req, results); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// commit replaces the turn's responses with the final results.
func (e *Engine) commit(req *activeRequest, results []domain.Message) error {
	return e.apply(req, func() error {
		if err := e.store.ReplaceResponses(req.turnIndex, results); err != nil {
			return err
		}
		req.committed = true
		req.messageID = ""
		return nil
	})
}

func (e *Engine) chat(ctx context.Context, chatReq domain.ChatRequest) (string, error) {
	if e.caps.Inference == nil {
		return "", unavailable(capInference)
	}
	ctx, span := observability.StartSpan(ctx, "capability.inference",
		attribute.String("mode", string(chatReq.Mode)),
		attribute.String("learning_mode", string(chatReq.LearningMode)))
	resp, err := timed(capInference, func() (*domain.ChatResponse, error) {
		return e.caps.Inference.SendChat(ctx, chatReq)
	})
	if err == nil && (resp == nil || resp.Message == "") {
		err = &domain.CapabilityError{Capability: capInference, Err: domain.ErrEmptyResponse}
	}
	observability.EndSpan(span, err)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (e *Engine) mediaSearch(ctx context.Context, tag domain.SingleTag) (domain.Message, error) {
	if e.caps.Media == nil {
		return domain.Message{}, unavailable(capMedia)
	}
	typ := domain.MediaTypeFromTag(tag.Name)
	ctx, span := observability.StartSpan(ctx, "capability.media_search",
		attribute.String("type", string(typ)))
	res, err := timed(capMedia, func() (*domain.MediaSearchResponse, error) {
		return e.caps.Media.Search(ctx, domain.MediaSearchRequest{Query: tag.Query, Type: typ})
	})
	observability.EndSpan(span, err)
	if err != nil {
		return domain.Message{}, err
	}
	payload, err := domain.MediaSearchPayload(tag.Query, typ, res)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{Role: domain.RoleAssistant, Content: payload}, nil
}

func (e *Engine) research(ctx context.Context, query string) (domain.Message, error) {
	if e.caps.Research == nil {
		return domain.Message{}, unavailable(capResearch)
	}
	ctx, span := observability.StartSpan(ctx, "capability.research",
		attribute.Int("max_results", e.cfg.ResearchMaxResults))
	res, err := timed(capResearch, func() (*domain.ResearchResponse, error) {
		return e.caps.Research.Research(ctx, domain.ResearchRequest{Query: query, MaxResults: e.cfg.ResearchMaxResults})
	})
	observability.EndSpan(span, err)
	if err != nil {
		return domain.Message{}, err
	}
	payload, err := domain.ResearchResultsPayload(res)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{Role: domain.RoleAssistant, Content: payload}, nil
}

// timed records latency and failures of one capability call.
func timed[T any](capability string, call func() (T, error)) (T, error) {
	start := time.Now()
	out, err := call()
	observability.CapabilityDuration.WithLabelValues(capability).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.CapabilityErrors.WithLabelValues(capability).Inc()
	}
	return out, err
}

func unavailable(capability string) error {
	return &domain.CapabilityError{
		Capability: capability,
		Message:    "capability not configured",
		Err:        domain.ErrCapability,
	}
}
