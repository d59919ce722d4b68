// Package llm generalizes the teacher's raw platform/openai.Client into the
// dependency-named, breaker-and-retry-wrapped surface spec §4.6/§4.9 puts in
// front of every model call: Planner talks to llm_planner, ScenarioBuilder
// and CodeGenerator talk to llm_scene, the CodeGenerator repair round and
// any narration-expansion helper call talk to llm_helper. Each name gets its
// own breaker.Breaker instance (independent trip state per dependency, per
// spec §4.6) while retry decisions share one retry.Registry keyed on
// domain.ErrorKind.
package llm

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge-backend/internal/breaker"
	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
	"github.com/clipforge/clipforge-backend/internal/platform/openai"
	"github.com/clipforge/clipforge-backend/internal/retry"
)

// Generator is the narrowed model-call surface stages depend on, restricted
// to GenerateJSON/GenerateText per SPEC_FULL's generalization of the
// teacher's openai.Client interface.
type Generator interface {
	GenerateJSON(ctx context.Context, dependency string, correlationID uuid.UUID, system, user, schemaName string, schema map[string]any) (map[string]any, *types.ErrorRecord)
	GenerateText(ctx context.Context, dependency string, correlationID uuid.UUID, system, user string) (string, *types.ErrorRecord)
}

// Client wraps an underlying openai.Client with a per-dependency-name
// breaker and a shared retry registry, mirroring the same
// breaker.Call-then-retry.Registry.Decide loop internal/storage.Manager
// runs around its remote backend's Put.
type Client struct {
	inner    openai.Client
	log      *logger.Logger
	retry    *retry.Registry
	breakers map[string]*breaker.Breaker
}

func New(inner openai.Client, log *logger.Logger, retryRegistry *retry.Registry, breakers map[string]*breaker.Breaker) *Client {
	return &Client{
		inner:    inner,
		log:      log.With("component", "LLMClient"),
		retry:    retryRegistry,
		breakers: breakers,
	}
}

func (c *Client) breakerFor(dependency string) *breaker.Breaker {
	if b, ok := c.breakers[dependency]; ok {
		return b
	}
	b := breaker.New(dependency, breaker.DefaultConfig())
	c.breakers[dependency] = b
	return b
}

func (c *Client) GenerateJSON(ctx context.Context, dependency string, correlationID uuid.UUID, system, user, schemaName string, schema map[string]any) (map[string]any, *types.ErrorRecord) {
	var result map[string]any
	rec := c.callWithRetry(ctx, dependency, correlationID, func() error {
		var err error
		result, err = c.inner.GenerateJSON(ctx, system, user, schemaName, schema)
		return err
	})
	if rec != nil {
		return nil, rec
	}
	return result, nil
}

func (c *Client) GenerateText(ctx context.Context, dependency string, correlationID uuid.UUID, system, user string) (string, *types.ErrorRecord) {
	var result string
	rec := c.callWithRetry(ctx, dependency, correlationID, func() error {
		var err error
		result, err = c.inner.GenerateText(ctx, system, user)
		return err
	})
	if rec != nil {
		return "", rec
	}
	return result, nil
}

// callWithRetry runs op under dependency's breaker, retrying per the shared
// registry until a non-retryable outcome or exhausted attempts, sleeping the
// computed backoff between attempts the same way storage.Manager does
// around its remote PUT.
func (c *Client) callWithRetry(ctx context.Context, dependency string, correlationID uuid.UUID, op func() error) *types.ErrorRecord {
	b := c.breakerFor(dependency)
	attempts := make(map[string]int)

	for {
		if err := ctx.Err(); err != nil {
			return types.NewErrorRecord(types.ErrCancelled, dependency, correlationID, err.Error())
		}

		rec := b.Call(dependency, correlationID, op)
		if rec == nil {
			return nil
		}
		attempts[string(rec.Kind)]++

		retryOK, delay := c.retry.Decide(rec, attempts[string(rec.Kind)])
		if !retryOK {
			rec.Stage = dependency
			return rec
		}

		c.log.Warn("llm call retrying", "dependency", dependency, "kind", rec.Kind, "delay", delay.String())
		select {
		case <-ctx.Done():
			return types.NewErrorRecord(types.ErrCancelled, dependency, correlationID, ctx.Err().Error())
		case <-time.After(delay):
		}
	}
}
