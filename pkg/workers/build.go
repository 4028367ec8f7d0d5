package workers

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"switchboard/pkg/agent/agenterrors"
	"switchboard/pkg/logx"
	"switchboard/pkg/proto"
)

// buildHandler runs the steps of a BUILD_DEPLOY message in order. Steps are simulated:
// each waits StepDelayMs and succeeds unless listed in FailSteps.
type buildHandler struct {
	emitter
	logger *logx.Logger
}

func (h *buildHandler) HandleMessage(ctx context.Context, msg *proto.Message) error {
	req, err := msg.Payload.ExtractBuildDeploy()
	if err != nil {
		return payloadError(h.name, err)
	}

	env := req.Environment
	if env == "" {
		env = "default"
	}
	delay := time.Duration(req.StepDelayMs) * time.Millisecond

	done := make([]string, 0, len(req.Steps))
	for i, step := range req.Steps {
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: step %s of %s: %w", h.name, step, req.Project, err)
		}
		if slices.Contains(req.FailSteps, step) {
			h.emit(msg, false, fmt.Sprintf("%s failed at step %s (%d/%d)", req.Project, step, i+1, len(req.Steps)),
				strings.Join(done, ", "))
			return agenterrors.Newf(agenterrors.KindOperation, h.name, "step %s failed for %s", step, req.Project)
		}
		done = append(done, step)
		h.logger.Debug("%s: step %s done (%d/%d)", req.Project, step, i+1, len(req.Steps))
	}

	h.emit(msg, true, fmt.Sprintf("%s deployed to %s after %d steps", req.Project, env, len(done)), strings.Join(done, ", "))
	return nil
}
