package worker

import (
	"context"
	"errors"
	"testing"

	"ragchat/internal/model"
)

type fakeIndexer struct {
	jobs []model.IndexJob
	err  error
}

func (f *fakeIndexer) IndexDocument(ctx context.Context, job model.IndexJob) (int, error) {
	f.jobs = append(f.jobs, job)
	return 3, f.err
}

func TestHandleDecodesAndIndexes(t *testing.T) {
	idx := &fakeIndexer{}
	w := NewIndexWorker(nil, idx, "q", nil)

	err := w.handle(context.Background(), []byte(`{"job_id":"j1","document_id":4,"store_loc":"threads/1"}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(idx.jobs) != 1 || idx.jobs[0].DocumentID != 4 || idx.jobs[0].StoreLoc != "threads/1" {
		t.Fatalf("jobs = %+v", idx.jobs)
	}
}

func TestHandleRejectsBadJobs(t *testing.T) {
	idx := &fakeIndexer{}
	w := NewIndexWorker(nil, idx, "q", nil)
	for _, body := range []string{`not json`, `{"job_id":"j"}`} {
		if err := w.handle(context.Background(), []byte(body)); !errors.Is(err, errBadJob) {
			t.Errorf("%s: want errBadJob, got %v", body, err)
		}
	}
	if len(idx.jobs) != 0 {
		t.Fatal("bad jobs must not reach the indexer")
	}
}

func TestHandleReportsIndexFailure(t *testing.T) {
	boom := errors.New("embed failed")
	w := NewIndexWorker(nil, &fakeIndexer{err: boom}, "q", nil)
	if err := w.handle(context.Background(), []byte(`{"job_id":"j","document_id":1,"store_loc":"x"}`)); !errors.Is(err, boom) {
		t.Fatalf("want indexer error, got %v", err)
	}
}
