package guardian

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/vrlink/pkg/protocol"
)

// Размер зоны по умолчанию для GenerateStandingChaperone, метры
const (
	DefaultPlayAreaWidth = 2.0
	DefaultPlayAreaDepth = 1.5
)

// MemoryStore хранилище границы в памяти
type MemoryStore struct {
	mu sync.Mutex

	timestamp     uint64
	totalPoints   int
	segmentCount  int
	points        []protocol.Vector3
	received      []bool
	receivedCount int

	position protocol.Vector3
	rotation protocol.Quat
	playArea protocol.Vector2
	standing bool

	committed bool
	last      *Boundary

	commit Committer
	log    *logrus.Entry
}

// NewMemoryStore создает хранилище. commit может быть nil.
func NewMemoryStore(commit Committer, log *logrus.Entry) *MemoryStore {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MemoryStore{
		commit: commit,
		log:    log.WithField("component", "guardian_store"),
	}
}

// SegmentCountFor возвращает количество сегментов для totalPointCount точек
func SegmentCountFor(totalPointCount int) int {
	if totalPointCount <= 0 {
		return 0
	}
	return (totalPointCount + protocol.GuardianSegmentSize - 1) / protocol.GuardianSegmentSize
}

func (s *MemoryStore) DataTimestamp() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timestamp
}

func (s *MemoryStore) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segmentCount
}

func (s *MemoryStore) ResetData(timestamp uint64, totalPointCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totalPointCount = max(0, min(totalPointCount, MaxGuardianPoints))
	s.timestamp = timestamp
	s.totalPoints = totalPointCount
	s.segmentCount = SegmentCountFor(totalPointCount)
	s.points = make([]protocol.Vector3, totalPointCount)
	s.received = make([]bool, s.segmentCount)
	s.receivedCount = 0
	s.standing = false
	s.committed = false
}

func (s *MemoryStore) SetTransform(position protocol.Vector3, rotation protocol.Quat, playArea protocol.Vector2) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.position = position
	s.rotation = rotation
	s.playArea = playArea
}

// SetSegment сохраняет точки сегмента. Последний сегмент может быть
// неполным: лишние точки отбрасываются.
func (s *MemoryStore) SetSegment(index int, points []protocol.Vector3) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= s.segmentCount {
		return
	}

	start := index * protocol.GuardianSegmentSize
	copy(s.points[start:], points)

	if !s.received[index] {
		s.received[index] = true
		s.receivedCount++
	}
}

// GenerateStandingChaperone строит прямоугольник размера зоны с центром
// в позиции стоя. Нулевой размер заменяется размером по умолчанию.
func (s *MemoryStore) GenerateStandingChaperone() {
	s.mu.Lock()
	defer s.mu.Unlock()

	width, depth := s.playArea.X, s.playArea.Y
	if width <= 0 || depth <= 0 {
		width, depth = DefaultPlayAreaWidth, DefaultPlayAreaDepth
		s.playArea = protocol.Vector2{X: width, Y: depth}
	}

	cx, cz := s.position.X, s.position.Z
	hw, hd := width/2, depth/2
	s.points = []protocol.Vector3{
		{X: cx - hw, Y: 0, Z: cz - hd},
		{X: cx + hw, Y: 0, Z: cz - hd},
		{X: cx + hw, Y: 0, Z: cz + hd},
		{X: cx - hw, Y: 0, Z: cz + hd},
	}
	s.totalPoints = len(s.points)
	s.segmentCount = 0
	s.received = nil
	s.receivedCount = 0
	s.standing = true
}

// MaybeCommitData применяет границу один раз после получения всех сегментов
func (s *MemoryStore) MaybeCommitData() bool {
	s.mu.Lock()
	if s.committed || s.timestamp == 0 || s.receivedCount < s.segmentCount {
		s.mu.Unlock()
		return false
	}
	if !s.standing && s.segmentCount == 0 {
		s.mu.Unlock()
		return false
	}

	boundary := Boundary{
		Timestamp: s.timestamp,
		Position:  s.position,
		Rotation:  s.rotation,
		PlayArea:  s.playArea,
		Points:    append([]protocol.Vector3(nil), s.points...),
		Standing:  s.standing,
	}
	s.committed = true
	s.last = &boundary
	commit := s.commit
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"timestamp": boundary.Timestamp,
		"points":    len(boundary.Points),
		"standing":  boundary.Standing,
	}).Info("граница игровой зоны применена")

	if commit != nil {
		if err := commit(boundary); err != nil {
			s.log.WithError(err).Warn("ошибка применения границы")
		}
	}
	return true
}

// Committed возвращает последнюю примененную границу
func (s *MemoryStore) Committed() (Boundary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Boundary{}, false
	}
	return *s.last, true
}
