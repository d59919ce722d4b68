package stages

import (
	"fmt"
	"os"

	types "github.com/clipforge/clipforge-backend/internal/domain"
	"github.com/clipforge/clipforge-backend/internal/platform/dbctx"

	jobrt "github.com/clipforge/clipforge-backend/internal/jobs/runtime"
	"github.com/clipforge/clipforge-backend/internal/storage"
)

var thumbnailSpecs = []struct {
	size     string
	fraction float64
	width    int
}{
	{size: "small", fraction: 0.10, width: 320},
	{size: "medium", fraction: 0.50, width: 640},
	{size: "large", fraction: 0.90, width: 1280},
}

// runUploader pushes every artifact a job produced to the storage.Manager
// under its canonical key, skipping artifacts already recorded for this
// job (idempotent resume after a nack) and inserting the FileMetadata row
// only once the Put has acked, per the "never record a file that wasn't
// actually written" invariant.
func (d *Deps) runUploader(ctx *jobrt.Context) (map[string]any, error) {
	cfg, err := configFrom(ctx.Payload())
	if err != nil {
		return d.fail(ctx, types.ErrValidation, string(types.StageStorage), err.Error())
	}

	workDir := jobWorkDir(d.WorkRoot, ctx.Job.JobID)
	userID := ctx.Job.UserID
	jobID := ctx.Job.JobID

	var plans []ImplementationPlan
	if err := readJSON(plansPath(workDir), &plans); err != nil {
		return d.fail(ctx, types.ErrInternal, string(types.StageStorage), "failed to load implementation plans: "+err.Error())
	}
	var results []renderResult
	if err := readJSON(renderResultsPath(workDir), &results); err != nil {
		return d.fail(ctx, types.ErrInternal, string(types.StageStorage), "failed to load render results: "+err.Error())
	}

	uploaded := 0
	for _, p := range plans {
		key := storage.SceneCodeKey(userID, jobID, p.Index)
		ok, rec := d.uploadIfMissing(ctx, types.FileSceneCode, key, sceneCodeLogicalName(p.Index), sceneCodePath(workDir, p.Index), "text/x-python", nil)
		if rec != nil {
			return nil, rec
		}
		if ok {
			uploaded++
		}
	}
	for _, r := range results {
		key := storage.SceneVideoKey(userID, jobID, r.Index)
		ok, rec := d.uploadIfMissing(ctx, types.FileSceneVideo, key, sceneVideoLogicalName(r.Index), r.VideoPath, "video/mp4", &r.DurationSeconds)
		if rec != nil {
			return nil, rec
		}
		if ok {
			uploaded++
		}
	}

	duration, rec := d.combinedDuration(ctx, workDir)
	if rec != nil {
		return nil, rec
	}

	combinedKey := storage.CombinedVideoKey(userID, jobID)
	ok, rec := d.uploadIfMissing(ctx, types.FileCombinedVideo, combinedKey, "combined", combinedVideoPath(workDir), "video/mp4", &duration)
	if rec != nil {
		return nil, rec
	}
	if ok {
		uploaded++
	}

	if cfg.EnableThumbnails {
		for _, spec := range thumbnailSpecs {
			path := thumbnailPath(workDir, spec.size)
			if err := d.Render.ExtractThumbnail(ctx.Ctx, combinedVideoPath(workDir), path, duration*spec.fraction, spec.width); err != nil {
				return d.fail(ctx, types.ErrDependencyError, string(types.StageStorage), fmt.Sprintf("thumbnail %s: %s", spec.size, err.Error()))
			}
			key := storage.ThumbnailKey(userID, jobID, spec.size)
			ok, rec := d.uploadIfMissing(ctx, types.FileThumbnail, key, thumbnailLogicalName(spec.size), path, "image/jpeg", nil)
			if rec != nil {
				return nil, rec
			}
			if ok {
				uploaded++
			}
		}
	}

	return map[string]any{"uploaded_count": uploaded}, nil
}

func (d *Deps) uploadIfMissing(ctx *jobrt.Context, kind types.FileKind, key, logicalName, localPath, contentType string, durationSeconds *float64) (bool, *types.ErrorRecord) {
	dbc := dbctx.Context{Ctx: ctx.Ctx}
	if existing, err := d.Files.FindByLogicalName(dbc, ctx.Job.JobID, kind, logicalName); err == nil && existing != nil {
		return false, nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return false, types.NewErrorRecord(types.ErrInternal, string(types.StageStorage), ctx.CorrelationID(), fmt.Sprintf("open %s: %s", localPath, err.Error()))
	}
	defer f.Close()

	result, rec := d.Storage.Put(ctx.Ctx, key, f, ctx.CorrelationID())
	if rec != nil {
		rec.Stage = string(types.StageStorage)
		return false, rec
	}

	meta := &types.FileMetadata{
		OwnerUserID:     ctx.Job.UserID,
		JobID:           &ctx.Job.JobID,
		Kind:            kind,
		ObjectKey:       &key,
		LocalPath:       &result.LocalPath,
		SizeBytes:       result.SizeBytes,
		ContentType:     contentType,
		ChecksumSHA256:  result.SHA256,
		LogicalName:     logicalName,
		DurationSeconds: durationSeconds,
	}
	if err := d.Files.Insert(dbc, meta); err != nil {
		return false, types.NewErrorRecord(types.ErrInternal, string(types.StageStorage), ctx.CorrelationID(), "failed to record file metadata: "+err.Error())
	}
	return true, nil
}

func (d *Deps) combinedDuration(ctx *jobrt.Context, workDir string) (float64, *types.ErrorRecord) {
	duration, err := d.Render.ProbeDuration(ctx.Ctx, combinedVideoPath(workDir))
	if err != nil {
		return 0, types.NewErrorRecord(types.ErrDependencyError, string(types.StageStorage), ctx.CorrelationID(), "failed to probe combined video duration: "+err.Error())
	}
	return duration, nil
}

func sceneCodeLogicalName(index int) string  { return fmt.Sprintf("scene_code_%03d", index) }
func sceneVideoLogicalName(index int) string { return fmt.Sprintf("scene_video_%03d", index) }
func thumbnailLogicalName(size string) string { return "thumbnail_" + size }
