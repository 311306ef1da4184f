package llm

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/resilience"
)

// Guard paces calls to a document understanding provider and runs them through the
// resilience executor. Anything that is still failing afterwards for service reasons
// comes back as domain.ErrTemporary.
type Guard struct {
	next     ports.DocumentUnderstanding
	limiter  *rate.Limiter
	executor *resilience.Executor
	name     string
}

func NewGuard(name string, next ports.DocumentUnderstanding, ratePerSecond float64, burst int, executor *resilience.Executor) *Guard {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Guard{
		next:     next,
		limiter:  rate.NewLimiter(limit, burst),
		executor: executor,
		name:     name,
	}
}

func (g *Guard) Classify(ctx context.Context, req ports.ClassifyRequest) (ports.ClassifyResult, error) {
	var out ports.ClassifyResult
	err := g.run(ctx, "classify", func(ctx context.Context) error {
		res, err := g.next.Classify(ctx, req)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (g *Guard) ExtractFields(ctx context.Context, req ports.ExtractRequest) ([]domain.CandidateField, error) {
	var out []domain.CandidateField
	err := g.run(ctx, "extract", func(ctx context.Context) error {
		res, err := g.next.ExtractFields(ctx, req)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (g *Guard) run(ctx context.Context, op string, call func(context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s rate wait: %w", g.name, op, err)
	}
	operation := g.name + "." + op

	var err error
	if g.executor != nil {
		err = g.executor.Execute(ctx, operation, call, resilience.TransientClassifier(domain.ErrTemporary))
	} else {
		err = call(ctx)
	}
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) || ctx.Err() != nil {
		return err
	}
	if resilience.IsCircuitOpen(err) || errors.Is(err, resilience.ErrAttemptTimeout) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
