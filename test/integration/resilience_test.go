package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/pitabwire/leanflow/internal/config"
	"github.com/pitabwire/leanflow/internal/reasoning"
	"github.com/pitabwire/leanflow/model"
)

// ==========================================================================
// Retry Tests
// ==========================================================================

func TestResilience_AdvisorTimeoutRetriedThenCompletes(t *testing.T) {
	h := NewTestHarness(t, WithPipeline(func(c *config.PipelineConfig) {
		c.CallTimeout = 100 * time.Millisecond
	}))

	h.Reasoning.OnTask(reasoning.TaskAdvise).
		RespondWithDelay(500*time.Millisecond, NoAdvice()).
		RespondWithDelay(500*time.Millisecond, NoAdvice()).
		RespondWith(NoAdvice())

	run := h.Optimize(t, model.RunInput{Workflow: InefficientWorkflow(), Org: CostedOrg()}, http.StatusOK)
	if run.Status != model.RunCompleted {
		t.Fatalf("Status = %s", run.Status)
	}
	st := run.Stages[model.StageOptimize]
	if st.Retries != 2 || st.Attempts != 3 {
		t.Errorf("optimize stage retries/attempts = %d/%d, want 2/3", st.Retries, st.Attempts)
	}
	h.Reasoning.AssertCalled(t, reasoning.TaskAdvise, 3)
}

func TestResilience_RetriesExhaustedFailsRun(t *testing.T) {
	h := NewTestHarness(t, WithPipeline(func(c *config.PipelineConfig) {
		c.Retry.MaxRetries = 2
	}))
	h.Reasoning.OnTask(reasoning.TaskAdvise).RespondWithStatus(http.StatusServiceUnavailable)

	resp := h.POST("/v1/optimizations?wait=true", model.RunInput{Workflow: InefficientWorkflow()})
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, http.StatusBadGateway, &body)
	if body.Error.Code != model.ErrUpstreamUnavailable {
		t.Errorf("code = %q", body.Error.Code)
	}
	h.Reasoning.AssertCalled(t, reasoning.TaskAdvise, 3)
}

func TestResilience_ConnectionErrorRetried(t *testing.T) {
	h := NewTestHarness(t)
	h.Reasoning.OnTask(reasoning.TaskAdvise).
		RespondWithConnectionError().
		RespondWith(NoAdvice())

	run := h.Optimize(t, model.RunInput{Workflow: InefficientWorkflow()}, http.StatusOK)
	if got := run.Stages[model.StageOptimize].Retries; got != 1 {
		t.Errorf("optimize retries = %d, want 1", got)
	}
}

func TestResilience_SchemaMismatchRetried(t *testing.T) {
	h := NewTestHarness(t)
	h.Reasoning.OnTask(reasoning.TaskAdvise).
		RespondWith(map[string]any{"tips": "not the advice schema"}).
		RespondWith(NoAdvice())

	run := h.Optimize(t, model.RunInput{Workflow: InefficientWorkflow()}, http.StatusOK)
	st := run.Stages[model.StageOptimize]
	if st.Retries != 1 {
		t.Errorf("optimize retries = %d, want 1", st.Retries)
	}
}

// ==========================================================================
// Circuit Breaker Tests
// ==========================================================================

func TestResilience_CircuitBreakerShortCircuitsRetries(t *testing.T) {
	h := NewTestHarness(t, WithPipeline(func(c *config.PipelineConfig) {
		c.Retry.MaxRetries = 5
		c.CircuitBreaker = config.CircuitBreakerConfig{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		}
	}))
	h.Reasoning.OnTask(reasoning.TaskAdvise).RespondWithStatus(http.StatusInternalServerError)

	h.Optimize(t, model.RunInput{Workflow: InefficientWorkflow()}, http.StatusBadGateway)

	// The breaker opens after two failures; the remaining retries never
	// reach the backend.
	h.Reasoning.AssertCalled(t, reasoning.TaskAdvise, 2)

	// A second run is rejected without a call either.
	h.Optimize(t, model.RunInput{Workflow: InefficientWorkflow()}, http.StatusBadGateway)
	h.Reasoning.AssertCalled(t, reasoning.TaskAdvise, 2)
}

func TestResilience_CircuitBreakerRecoversAfterCooldown(t *testing.T) {
	h := NewTestHarness(t, WithPipeline(func(c *config.PipelineConfig) {
		c.Retry.MaxRetries = 0
		c.CircuitBreaker = config.CircuitBreakerConfig{
			FailureThreshold: 1,
			SuccessThreshold: 1,
			Timeout:          200 * time.Millisecond,
		}
	}))
	h.Reasoning.OnTask(reasoning.TaskAdvise).
		RespondWithStatus(http.StatusInternalServerError).
		RespondWith(NoAdvice())

	h.Optimize(t, model.RunInput{Workflow: InefficientWorkflow()}, http.StatusBadGateway)

	time.Sleep(300 * time.Millisecond)

	run := h.Optimize(t, model.RunInput{Workflow: InefficientWorkflow()}, http.StatusOK)
	if run.Status != model.RunCompleted {
		t.Errorf("Status = %s, want completed after cooldown", run.Status)
	}
}

// ==========================================================================
// Deadline Tests
// ==========================================================================

func TestResilience_RunCeilingFailsRun(t *testing.T) {
	h := NewTestHarness(t, WithPipeline(func(c *config.PipelineConfig) {
		c.RunCeiling = 150 * time.Millisecond
		c.CallTimeout = time.Second
	}))
	h.Reasoning.OnTask(reasoning.TaskAdvise).RespondWithDelay(time.Second, NoAdvice())

	resp := h.POST("/v1/optimizations", model.RunInput{Workflow: InefficientWorkflow()})
	var submitted model.PipelineRun
	h.AssertJSON(t, resp, http.StatusAccepted, &submitted)

	run := h.WaitForRun(t, submitted.SessionID)
	if run.Status != model.RunFailed || run.Error == nil || run.Error.Code != model.ErrRunDeadlineExceeded {
		t.Fatalf("run = %s %+v, want failed with RUN_DEADLINE_EXCEEDED", run.Status, run.Error)
	}
}
