package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"easyimg/internal/config"
	"easyimg/internal/models"
	"easyimg/internal/notify"
)

var pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, bytes.Repeat([]byte{0}, 24)...)
var jpegBytes = append([]byte{0xff, 0xd8, 0xff, 0xe0}, bytes.Repeat([]byte{0}, 24)...)

type stubImages struct {
	created []models.Image
	err     error
}

func (s *stubImages) Create(_ context.Context, image models.Image) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, image)
	return nil
}

type stubTasks struct {
	created   []models.ModerationTask
	duplicate bool
	err       error
}

func (s *stubTasks) Create(_ context.Context, task models.ModerationTask) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.duplicate {
		return false, nil
	}
	s.created = append(s.created, task)
	return true, nil
}

type stubFiles struct {
	saved map[string][]byte
	types map[string]string
	err   error
}

func newStubFiles() *stubFiles {
	return &stubFiles{saved: map[string][]byte{}, types: map[string]string{}}
}

func (s *stubFiles) SaveFile(_ context.Context, filename string, data []byte, contentType string) error {
	if s.err != nil {
		return s.err
	}
	s.saved[filename] = data
	s.types[filename] = contentType
	return nil
}

func (s *stubFiles) PublicURL(filename string) string {
	return "https://img.test/i/" + filename
}

type stubGate struct{ enabled bool }

func (g stubGate) Enabled(context.Context) bool { return g.enabled }

type stubEnqueuer struct {
	ids []string
	err error
}

func (e *stubEnqueuer) Enqueue(_ context.Context, taskID string) error {
	if e.err != nil {
		return e.err
	}
	e.ids = append(e.ids, taskID)
	return nil
}

type stubNotifier struct {
	uploads []notify.UploadInfo
}

func (n *stubNotifier) SendUpload(_ context.Context, info notify.UploadInfo) notify.DeliveryResult {
	n.uploads = append(n.uploads, info)
	return notify.DeliveryResult{Success: true}
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Upload: config.UploadConfig{
			MaxFileSize:  1 << 20,
			MaxBatchURLs: 3,
		},
	}
}

type uploadFixture struct {
	images   *stubImages
	tasks    *stubTasks
	files    *stubFiles
	enqueuer *stubEnqueuer
	notifier *stubNotifier
	svc      *UploadService
}

func newUploadFixture(moderationOn bool) *uploadFixture {
	f := &uploadFixture{
		images:   &stubImages{},
		tasks:    &stubTasks{},
		files:    newStubFiles(),
		enqueuer: &stubEnqueuer{},
		notifier: &stubNotifier{},
	}
	f.svc = NewUploadService(f.images, f.tasks, f.files, stubGate{enabled: moderationOn}, f.enqueuer, f.notifier, testConfig(), zerolog.Nop())
	return f
}

func TestUploadStoresObjectRowAndTask(t *testing.T) {
	f := newUploadFixture(true)

	result, err := f.svc.Upload(context.Background(), UploadInput{
		Data:         pngBytes,
		OriginalName: "cat.png",
		Uploader:     "admin",
		Source:       models.UploadSourceWeb,
		IP:           "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if result.Image.Format != "png" {
		t.Errorf("format = %s", result.Image.Format)
	}
	if _, ok := f.files.saved[result.Image.Filename]; !ok {
		t.Error("object not saved")
	}
	if f.files.types[result.Image.Filename] != "image/png" {
		t.Errorf("content type = %s", f.files.types[result.Image.Filename])
	}
	if len(f.images.created) != 1 {
		t.Fatalf("rows created = %d", len(f.images.created))
	}
	if len(f.tasks.created) != 1 {
		t.Fatalf("tasks created = %d", len(f.tasks.created))
	}
	task := f.tasks.created[0]
	if task.ImageID != result.Image.ID || task.Filename != result.Image.Filename {
		t.Errorf("task = %+v", task)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("task status = %s", task.Status)
	}
	if len(f.enqueuer.ids) != 1 || f.enqueuer.ids[0] != task.ID {
		t.Errorf("enqueued %v", f.enqueuer.ids)
	}
	if len(f.notifier.uploads) != 1 {
		t.Errorf("upload notifications = %d", len(f.notifier.uploads))
	}
	if result.URL != "https://img.test/i/"+result.Image.Filename {
		t.Errorf("URL = %s", result.URL)
	}
}

func TestUploadSkipsTaskWhenModerationOff(t *testing.T) {
	f := newUploadFixture(false)

	if _, err := f.svc.Upload(context.Background(), UploadInput{Data: jpegBytes}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(f.tasks.created) != 0 {
		t.Error("task created with moderation off")
	}
	if len(f.enqueuer.ids) != 0 {
		t.Error("wake-up enqueued with moderation off")
	}
}

func TestUploadRejectsEmptyAndOversized(t *testing.T) {
	f := newUploadFixture(false)

	if _, err := f.svc.Upload(context.Background(), UploadInput{}); err == nil {
		t.Error("empty payload accepted")
	}

	big := append(append([]byte{}, pngBytes...), bytes.Repeat([]byte{0}, 1<<20)...)
	if _, err := f.svc.Upload(context.Background(), UploadInput{Data: big}); err == nil {
		t.Error("oversized payload accepted")
	}
	if len(f.images.created) != 0 {
		t.Error("rejected upload created a row")
	}
}

func TestUploadRejectsUnknownFormat(t *testing.T) {
	f := newUploadFixture(false)
	if _, err := f.svc.Upload(context.Background(), UploadInput{Data: []byte("not an image")}); err == nil {
		t.Fatal("unknown bytes accepted")
	}
	if len(f.files.saved) != 0 {
		t.Error("rejected upload saved an object")
	}
}

func TestUploadRejectsDeclaredMismatch(t *testing.T) {
	f := newUploadFixture(false)
	_, err := f.svc.Upload(context.Background(), UploadInput{
		Data:         pngBytes,
		DeclaredMIME: "image/jpeg",
	})
	if err == nil {
		t.Fatal("mismatched declared type accepted")
	}
}

func TestUploadSucceedsWhenEnqueueFails(t *testing.T) {
	f := newUploadFixture(true)
	f.enqueuer.err = errors.New("redis down")

	if _, err := f.svc.Upload(context.Background(), UploadInput{Data: pngBytes}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(f.tasks.created) != 1 {
		t.Error("task should exist even when the wake-up fails")
	}
}

func TestUploadDuplicateTaskNotEnqueued(t *testing.T) {
	f := newUploadFixture(true)
	f.tasks.duplicate = true

	if _, err := f.svc.Upload(context.Background(), UploadInput{Data: pngBytes}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(f.enqueuer.ids) != 0 {
		t.Error("duplicate task must not be enqueued")
	}
}
