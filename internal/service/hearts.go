// hearts.go — счётчики «сердечек» картинок.
// Состояние живёт в памяти процесса и не переживает перезапуск:
// для сердечек это приемлемо, долговременного хранилища у них нет.
package service

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gopinboard/internal/domain/model"
)

var heartToggles = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pinboard_heart_toggles_total",
	Help: "Общее количество переключений сердечек",
})

// HeartService хранит, кто из пользователей отметил какую картинку.
type HeartService struct {
	mu     sync.Mutex
	hearts map[string]map[string]struct{} // imageID -> множество userID
	logger *slog.Logger
}

// NewHeartService создаёт пустой счётчик сердечек.
func NewHeartService(logger *slog.Logger) *HeartService {
	return &HeartService{
		hearts: make(map[string]map[string]struct{}),
		logger: logger.With(slog.String("component", "heart_service")),
	}
}

// Get возвращает количество сердечек картинки и отметку пользователя.
func (s *HeartService) Get(imageID, userID string) model.HeartState {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.hearts[imageID]
	_, hearted := users[userID]

	return model.HeartState{
		Count:      len(users),
		HasHearted: hearted,
	}
}

// Toggle переключает отметку пользователя и возвращает новое состояние.
func (s *HeartService) Toggle(imageID, userID string) model.HeartState {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.hearts[imageID]
	if users == nil {
		users = make(map[string]struct{})
		s.hearts[imageID] = users
	}

	if _, ok := users[userID]; ok {
		delete(users, userID)
	} else {
		users[userID] = struct{}{}
	}

	heartToggles.Inc()

	_, hearted := users[userID]
	return model.HeartState{
		Count:      len(users),
		HasHearted: hearted,
	}
}

// Forget убирает все сердечки картинки (вызывается при её удалении).
func (s *HeartService) Forget(imageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hearts, imageID)
}
