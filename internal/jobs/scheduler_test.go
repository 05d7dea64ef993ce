package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"easyimg/internal/models"
)

type stubSweeper struct {
	gotMax int
	ids    []string
	err    error
}

func (s *stubSweeper) RequeueErrors(_ context.Context, maxAttempts int) ([]string, error) {
	s.gotMax = maxAttempts
	return s.ids, s.err
}

type stubEnqueuer struct {
	ids  []string
	fail map[string]bool
}

func (e *stubEnqueuer) Enqueue(_ context.Context, taskID string) error {
	if e.fail[taskID] {
		return errors.New("redis down")
	}
	e.ids = append(e.ids, taskID)
	return nil
}

type stubImages struct {
	deleted []models.Image
	removed []string
}

func (s *stubImages) ListDeleted(context.Context) ([]models.Image, error) {
	return s.deleted, nil
}

func (s *stubImages) Remove(_ context.Context, id string) error {
	s.removed = append(s.removed, id)
	return nil
}

type stubFiles struct {
	removed []string
	fail    map[string]bool
}

func (s *stubFiles) Remove(_ context.Context, filename string) error {
	if s.fail[filename] {
		return errors.New("object store error")
	}
	s.removed = append(s.removed, filename)
	return nil
}

func TestRetrySweepRequeuesAndWakes(t *testing.T) {
	sweeper := &stubSweeper{ids: []string{"t1", "t2"}}
	enqueuer := &stubEnqueuer{}
	s := NewScheduler(sweeper, enqueuer, &stubImages{}, &stubFiles{}, 5, zerolog.Nop())

	if err := s.RetrySweep(context.Background()); err != nil {
		t.Fatalf("RetrySweep: %v", err)
	}
	if sweeper.gotMax != 5 {
		t.Errorf("maxAttempts = %d", sweeper.gotMax)
	}
	if len(enqueuer.ids) != 2 || enqueuer.ids[0] != "t1" || enqueuer.ids[1] != "t2" {
		t.Fatalf("enqueued %v", enqueuer.ids)
	}
}

func TestRetrySweepContinuesPastEnqueueFailure(t *testing.T) {
	sweeper := &stubSweeper{ids: []string{"t1", "t2"}}
	enqueuer := &stubEnqueuer{fail: map[string]bool{"t1": true}}
	s := NewScheduler(sweeper, enqueuer, &stubImages{}, &stubFiles{}, 5, zerolog.Nop())

	if err := s.RetrySweep(context.Background()); err != nil {
		t.Fatalf("RetrySweep: %v", err)
	}
	if len(enqueuer.ids) != 1 || enqueuer.ids[0] != "t2" {
		t.Fatalf("enqueued %v, want t2 despite t1 failure", enqueuer.ids)
	}
}

func TestPurgeSweepRemovesObjectThenRow(t *testing.T) {
	images := &stubImages{deleted: []models.Image{
		{ID: "i1", Filename: "a.jpg"},
		{ID: "i2", Filename: "b.png"},
	}}
	files := &stubFiles{}
	s := NewScheduler(&stubSweeper{}, &stubEnqueuer{}, images, files, 5, zerolog.Nop())

	if err := s.PurgeSweep(context.Background()); err != nil {
		t.Fatalf("PurgeSweep: %v", err)
	}
	if len(files.removed) != 2 {
		t.Fatalf("removed objects %v", files.removed)
	}
	if len(images.removed) != 2 {
		t.Fatalf("removed rows %v", images.removed)
	}
}

func TestPurgeSweepKeepsRowWhenObjectDeleteFails(t *testing.T) {
	images := &stubImages{deleted: []models.Image{
		{ID: "i1", Filename: "a.jpg"},
		{ID: "i2", Filename: "b.png"},
	}}
	files := &stubFiles{fail: map[string]bool{"a.jpg": true}}
	s := NewScheduler(&stubSweeper{}, &stubEnqueuer{}, images, files, 5, zerolog.Nop())

	if err := s.PurgeSweep(context.Background()); err != nil {
		t.Fatalf("PurgeSweep: %v", err)
	}
	if len(images.removed) != 1 || images.removed[0] != "i2" {
		t.Fatalf("removed rows %v, row i1 must survive for the next sweep", images.removed)
	}
}
