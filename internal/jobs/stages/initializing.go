package stages

import (
	"os"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	jobrt "github.com/clipforge/clipforge-backend/internal/jobs/runtime"
)

// runInitializing validates the job's configuration up front and prepares
// its scratch work directory, so a malformed submission fails fast at 5%
// rather than partway through Planning.
func (d *Deps) runInitializing(ctx *jobrt.Context) (map[string]any, error) {
	if _, err := configFrom(ctx.Payload()); err != nil {
		return d.fail(ctx, types.ErrValidation, string(types.StageInitializing), err.Error())
	}
	workDir := jobWorkDir(d.WorkRoot, ctx.Job.JobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return d.fail(ctx, types.ErrInternal, string(types.StageInitializing), "failed to create job work directory: "+err.Error())
	}
	return nil, nil
}
