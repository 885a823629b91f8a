// Package guardian принимает от шлема границу игровой зоны (guardian).
//
// Клиент передает границу как GuardianSyncStart с параметрами зоны и
// серию GuardianSegmentData по GuardianSegmentSize точек. Каждое сообщение
// подтверждается; сессия передачи идентифицируется временной меткой, и
// сообщения с устаревшей меткой отбрасываются.
package guardian

import "github.com/arzzra/vrlink/pkg/protocol"

// Store хранилище границы игровой зоны
type Store interface {
	// DataTimestamp метка активной сессии передачи (0 - не было)
	DataTimestamp() uint64
	// SegmentCount ожидаемое количество сегментов активной сессии
	SegmentCount() int
	// ResetData начинает новую сессию
	ResetData(timestamp uint64, totalPointCount int)
	// SetTransform задает положение зоны
	SetTransform(position protocol.Vector3, rotation protocol.Quat, playArea protocol.Vector2)
	// SetSegment сохраняет точки сегмента
	SetSegment(index int, points []protocol.Vector3)
	// GenerateStandingChaperone строит прямоугольную границу для
	// режима без заданной зоны
	GenerateStandingChaperone()
	// MaybeCommitData применяет границу, если она полностью получена.
	// Возвращает true, если граница применена этим вызовом.
	MaybeCommitData() bool
}

// Boundary полностью полученная граница
type Boundary struct {
	Timestamp uint64
	Position  protocol.Vector3
	Rotation  protocol.Quat
	PlayArea  protocol.Vector2
	Points    []protocol.Vector3
	Standing  bool // Граница построена GenerateStandingChaperone
}

// Committer применяет полученную границу
type Committer func(Boundary) error
