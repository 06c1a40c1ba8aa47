package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/gopinboard/internal/domain/model"
	"github.com/bigkaa/gopinboard/internal/metadata"
	"github.com/bigkaa/gopinboard/internal/store"
)

// memStore — хранилище контента в памяти для тестов сервисов.
type memStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	object  []byte
	version int

	uploads    []string // имена в порядке загрузки
	failPut    bool     // PutObject всегда падает
	failUpload bool     // Upload всегда падает
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) List(context.Context) ([]model.ImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]model.ImageRecord, 0, len(m.blobs))
	for name := range m.blobs {
		records = append(records, model.ImageRecord{ID: name, Name: name})
	}
	return records, nil
}

func (m *memStore) Upload(_ context.Context, filename string, data []byte, _ string) (*model.ImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failUpload {
		return nil, &store.RemoteError{StatusCode: 502, Body: "недоступно"}
	}
	m.blobs[filename] = data
	m.uploads = append(m.uploads, filename)
	return &model.ImageRecord{ID: filename, Name: filename}, nil
}

func (m *memStore) Delete(_ context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[id]; !ok {
		return store.ErrObjectNotFound
	}
	delete(m.blobs, id)
	return nil
}

func (m *memStore) GetObject(_ context.Context, _ string) (*store.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.object == nil {
		return nil, store.ErrObjectNotFound
	}
	content := make([]byte, len(m.object))
	copy(content, m.object)
	return &store.Object{Content: content, VersionToken: "v"}, nil
}

func (m *memStore) PutObject(_ context.Context, _ string, content []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failPut {
		return "", &store.RemoteError{StatusCode: 502, Body: "недоступно"}
	}
	m.object = content
	m.version++
	return "v", nil
}

func (m *memStore) metadataDoc(t *testing.T) metadata.Document {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.object == nil {
		return metadata.Document{}
	}
	var doc metadata.Document
	if err := json.Unmarshal(m.object, &doc); err != nil {
		t.Fatalf("metadata.json повреждён: %v", err)
	}
	return doc
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestUpload создаёт конвейер загрузки поверх memStore.
func newTestUpload(ms *memStore, queueSize int) *UploadService {
	meta := metadata.NewSynchronizerWithBackoff(ms, 2, nil,
		func(context.Context, time.Duration) error { return nil }, testLogger())
	return NewUploadService(ms, meta, 1024, queueSize, time.Millisecond, testLogger())
}

// pngParams возвращает валидные параметры загрузки.
func pngParams(filename string) UploadParams {
	return UploadParams{
		Filename:    filename,
		MimeType:    "image/png",
		Data:        []byte{0x89, 'P', 'N', 'G'},
		Description: "тестовая картинка",
		UploadedBy:  "alice@example.com",
	}
}

// TestUpload_Success проверяет успешную загрузку с записью метаданных.
func TestUpload_Success(t *testing.T) {
	ms := newMemStore()
	svc := newTestUpload(ms, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	record, err := svc.Enqueue(ctx, pngParams("cat.png"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if record == nil || record.ID == "" {
		t.Fatal("ожидалась запись с идентификатором")
	}
	if record.UploadedBy != "alice@example.com" {
		t.Errorf("ожидался uploadedBy=alice@example.com, получено %q", record.UploadedBy)
	}

	doc := ms.metadataDoc(t)
	entry, ok := doc[record.ID]
	if !ok {
		t.Fatal("метаданные не записаны")
	}
	if entry.Description != "тестовая картинка" {
		t.Errorf("неожиданное описание: %q", entry.Description)
	}
}

// TestUpload_MetadataFailureStillSuccess проверяет, что отказ записи
// метаданных не отменяет загрузку.
func TestUpload_MetadataFailureStillSuccess(t *testing.T) {
	ms := newMemStore()
	ms.failPut = true
	svc := newTestUpload(ms, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	record, err := svc.Enqueue(ctx, pngParams("cat.png"))
	if err != nil {
		t.Fatalf("загрузка должна считаться успешной при отказе метаданных: %v", err)
	}
	if record == nil {
		t.Fatal("ожидалась запись")
	}
	if record.UploadedBy != "" {
		t.Error("при отказе метаданных поля метаданных должны оставаться пустыми")
	}

	ms.mu.Lock()
	blobCount := len(ms.blobs)
	ms.mu.Unlock()
	if blobCount != 1 {
		t.Errorf("блоб должен быть загружен, блобов: %d", blobCount)
	}
}

// TestUpload_RemoteErrorDetails проверяет, что отказ внешнего хранилища
// сохраняет статус в сообщении и исходную причину в цепочке ошибок.
func TestUpload_RemoteErrorDetails(t *testing.T) {
	ms := newMemStore()
	ms.failUpload = true
	svc := newTestUpload(ms, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	_, err := svc.Enqueue(ctx, pngParams("cat.png"))
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("ожидался UploadError, получено %v", err)
	}
	if uploadErr.Code != "REMOTE_ERROR" {
		t.Errorf("ожидался код REMOTE_ERROR, получен %s", uploadErr.Code)
	}
	if !strings.Contains(uploadErr.Message, "502") {
		t.Errorf("сообщение должно содержать статус внешнего API: %q", uploadErr.Message)
	}

	var remoteErr *store.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Error("исходная ошибка хранилища должна сохраняться в цепочке")
	} else if remoteErr.StatusCode != 502 {
		t.Errorf("ожидался статус 502, получен %d", remoteErr.StatusCode)
	}
}

// TestUpload_RejectNonImage проверяет отказ для неграфического MIME-типа.
func TestUpload_RejectNonImage(t *testing.T) {
	svc := newTestUpload(newMemStore(), 4)

	params := pngParams("doc.pdf")
	params.MimeType = "application/pdf"

	_, err := svc.Enqueue(context.Background(), params)
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("ожидался UploadError, получено %v", err)
	}
	if uploadErr.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("ожидался статус 415, получен %d", uploadErr.StatusCode)
	}
}

// TestUpload_RejectTooLarge проверяет отказ для слишком большого файла.
func TestUpload_RejectTooLarge(t *testing.T) {
	svc := newTestUpload(newMemStore(), 4)

	params := pngParams("big.png")
	params.Data = make([]byte, 2048) // предел в тестах — 1024

	_, err := svc.Enqueue(context.Background(), params)
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("ожидался UploadError, получено %v", err)
	}
	if uploadErr.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("ожидался статус 413, получен %d", uploadErr.StatusCode)
	}
}

// TestUpload_RejectEmpty проверяет отказ для пустого файла.
func TestUpload_RejectEmpty(t *testing.T) {
	svc := newTestUpload(newMemStore(), 4)

	params := pngParams("empty.png")
	params.Data = nil

	_, err := svc.Enqueue(context.Background(), params)
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("ожидался UploadError, получено %v", err)
	}
	if uploadErr.StatusCode != http.StatusBadRequest {
		t.Errorf("ожидался статус 400, получен %d", uploadErr.StatusCode)
	}
}

// TestUpload_QueueFull проверяет отказ при переполненной очереди.
func TestUpload_QueueFull(t *testing.T) {
	svc := newTestUpload(newMemStore(), 1)
	// Воркер не запущен: первое задание займёт единственный слот очереди

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Enqueue(ctx, pngParams("first.png"))
	}()

	// Ждём, пока первое задание встанет в очередь
	deadline := time.After(time.Second)
	for len(svc.queue) == 0 {
		select {
		case <-deadline:
			t.Fatal("первое задание не встало в очередь")
		case <-time.After(time.Millisecond):
		}
	}

	_, err := svc.Enqueue(context.Background(), pngParams("second.png"))
	var uploadErr *UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("ожидался UploadError, получено %v", err)
	}
	if uploadErr.Code != "QUEUE_FULL" {
		t.Errorf("ожидался код QUEUE_FULL, получен %s", uploadErr.Code)
	}

	cancel()
	<-done
}

// TestUpload_UniqueNames проверяет уникальность имён при загрузках
// в одну миллисекунду.
func TestUpload_UniqueNames(t *testing.T) {
	svc := newTestUpload(newMemStore(), 4)

	fixed := time.UnixMilli(1700000000000)
	svc.now = func() time.Time { return fixed }

	first := svc.uniqueName("cat.png")
	second := svc.uniqueName("cat.png")
	third := svc.uniqueName("cat.png")

	if first == second || second == third || first == third {
		t.Errorf("имена должны быть уникальны: %s, %s, %s", first, second, third)
	}
}

// TestUpload_SanitizeName проверяет вычистку небезопасных символов.
func TestUpload_SanitizeName(t *testing.T) {
	svc := newTestUpload(newMemStore(), 4)
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }

	name := svc.uniqueName("мой кот/../x.png")
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
		default:
			t.Errorf("в имени %q остался небезопасный символ %q", name, r)
		}
	}
	if !strings.HasSuffix(name, ".png") {
		t.Errorf("расширение должно сохраняться: %q", name)
	}
}

// TestUpload_SequentialOrder проверяет последовательную обработку очереди.
func TestUpload_SequentialOrder(t *testing.T) {
	ms := newMemStore()
	svc := newTestUpload(ms, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	names := []string{"a.png", "b.png", "c.png"}
	for _, n := range names {
		if _, err := svc.Enqueue(ctx, pngParams(n)); err != nil {
			t.Fatalf("Enqueue %s: %v", n, err)
		}
	}

	ms.mu.Lock()
	uploads := append([]string(nil), ms.uploads...)
	ms.mu.Unlock()

	if len(uploads) != 3 {
		t.Fatalf("ожидались 3 загрузки, выполнено %d", len(uploads))
	}
	for i, n := range names {
		prefix := n[:1]
		if uploads[i][:1] != prefix {
			t.Errorf("нарушен порядок загрузок: %v", uploads)
			break
		}
	}
}
