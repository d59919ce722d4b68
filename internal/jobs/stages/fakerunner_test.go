package stages

import (
	"context"
	"sync"
)

// fakeRunner is an in-memory render.Runner double so Renderer/Combiner/
// Uploader stage logic can be exercised without ffmpeg or an external
// renderer binary installed.
type fakeRunner struct {
	mu sync.Mutex

	renderErr      error
	renderDuration float64
	renderCalls    int

	combineErr   error
	combineCalls int
	combinedArgs []string

	probeErr      error
	probeDuration float64

	thumbnailErr   error
	thumbnailCalls int
}

func (f *fakeRunner) AssertReady(context.Context) error { return nil }

func (f *fakeRunner) RenderScene(_ context.Context, _, _, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renderCalls++
	if f.renderErr != nil {
		return 0, f.renderErr
	}
	return f.renderDuration, nil
}

func (f *fakeRunner) Combine(_ context.Context, sceneVideoPaths []string, _ []string, _ bool, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.combineCalls++
	f.combinedArgs = sceneVideoPaths
	return f.combineErr
}

func (f *fakeRunner) ProbeDuration(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	return f.probeDuration, nil
}

func (f *fakeRunner) ExtractThumbnail(_ context.Context, _, outPath string, _ float64, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thumbnailCalls++
	if f.thumbnailErr != nil {
		return f.thumbnailErr
	}
	return writeBytes(outPath, []byte("thumb"))
}
