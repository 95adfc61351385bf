package task

import "fmt"

// Releaser gives back the buffer a raster task acquired.
type Releaser interface {
	Release(t *Task) error
}

// WillComplete is the first origin-side stage. It rejects tasks that were
// already finalized so a duplicate report is never processed twice.
func (t *Task) WillComplete() error {
	if t.HasCompleted() || t.finalizing {
		return fmt.Errorf("%s: %w", t, ErrAlreadyCompleted)
	}
	t.finalizing = true
	return nil
}

// CompleteOnOrigin is the second stage: raster tasks hand their buffer back
// to the broker. Sentinels own no resource.
func (t *Task) CompleteOnOrigin(r Releaser) error {
	switch t.kind {
	case KindRaster, KindGPURaster:
		if !t.acquired {
			return nil
		}
		err := r.Release(t)
		t.Detach()
		if err != nil {
			return fmt.Errorf("releasing buffer for %s: %w", t, err)
		}
		return nil
	case KindSentinel:
		return nil
	default:
		return fmt.Errorf("%s: unknown task kind %s", t, t.kind)
	}
}

// DidComplete is the third stage. It marks the task Completed; the change is
// irreversible.
func (t *Task) DidComplete() error {
	for {
		cur := t.State()
		if cur == Completed {
			return fmt.Errorf("%s: %w", t, ErrAlreadyCompleted)
		}
		if t.state.CompareAndSwap(int32(cur), int32(Completed)) {
			return nil
		}
	}
}

// RunReply is the last stage and the last observable effect of a task.
func (t *Task) RunReply() {
	if t.reply != nil {
		t.reply(t, t.result)
	}
}
