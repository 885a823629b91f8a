package protocol

import "encoding/binary"

// Message закрытый набор сообщений протокола.
// Реализации существуют только внутри пакета.
type Message interface {
	// Type возвращает дискриминатор сообщения
	Type() Type
	// Len возвращает длину закодированного сообщения
	Len() int

	encode(w *writer)
}

// TrackingInfo отчет о позе шлема (клиент -> сервер)
type TrackingInfo struct {
	Flags                uint32
	FrameIndex           uint64
	PredictedDisplayTime uint64
	HeadOrientation      Quat
	HeadPosition         Vector3
	IPD                  float32
	Battery              uint8
	Plugged              uint8
}

// TimeSync замер времени и статистика клиента (в обе стороны)
type TimeSync struct {
	Mode       uint32
	Sequence   uint64
	ServerTime uint64
	ClientTime uint64

	// Заполняются клиентом только в режиме TimeSyncModeRequest
	PacketsLostTotal    uint64
	PacketsLostInSecond uint64

	AverageTotalLatency uint32
	MaxTotalLatency     uint32
	MinTotalLatency     uint32

	AverageTransportLatency uint32
	MaxTransportLatency     uint32
	MinTransportLatency     uint32

	AverageDecodeLatency uint32
	MaxDecodeLatency     uint32
	MinDecodeLatency     uint32

	FecFailure         uint32
	FecFailureInSecond uint64
	FecFailureTotal    uint64

	FPS uint32

	TrackingRecvFrameIndex uint64
}

// PacketErrorReport сообщение клиента о потерянном диапазоне пакетов
type PacketErrorReport struct {
	LostFrameType     uint32
	FromPacketCounter uint64
	ToPacketCounter   uint64
}

// MicAudioFrame фрагмент звука с микрофона шлема
type MicAudioFrame struct {
	PacketIndex             int32
	CompleteSize            uint64
	OutputBufferNumElements uint64
	MicBuffer               [MicBufferSamples]int16
}

// Samples возвращает заполненную часть буфера.
// Заявленное количество элементов ограничивается емкостью буфера.
func (m *MicAudioFrame) Samples() []int16 {
	n := m.OutputBufferNumElements
	if n > MicBufferSamples {
		n = MicBufferSamples
	}
	return m.MicBuffer[:n]
}

// PCM возвращает сэмплы как little-endian 16-bit PCM
func (m *MicAudioFrame) PCM() []byte {
	samples := m.Samples()
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// GuardianSyncStart начало передачи границы игровой зоны
type GuardianSyncStart struct {
	Timestamp        uint64
	StandingRotation Quat
	StandingPosition Vector3
	PlayAreaSize     Vector2
	TotalPointCount  int32
}

// GuardianSyncAck подтверждение GuardianSyncStart
type GuardianSyncAck struct {
	Timestamp uint64
}

// GuardianSegmentData сегмент точек границы
type GuardianSegmentData struct {
	Timestamp    uint64
	SegmentIndex int32
	Points       [GuardianSegmentSize]Vector3
}

// GuardianSegmentAck подтверждение сегмента
type GuardianSegmentAck struct {
	Timestamp    uint64
	SegmentIndex int32
}

// VideoFrame shard-пакет видео кадра (сервер -> клиент).
// Payload при декодировании ссылается на исходный буфер датаграммы.
type VideoFrame struct {
	PacketCounter      uint32
	TrackingFrameIndex uint64
	VideoFrameIndex    uint64
	SentTime           uint64
	FrameByteSize      uint32
	FecIndex           uint32
	FecPercentage      uint16
	Payload            []byte
}

// AudioFrameStart первый фрагмент аудио кадра
type AudioFrameStart struct {
	PacketCounter    uint32
	PresentationTime uint64
	FrameByteSize    uint32
	Payload          []byte
}

// AudioFrame последующий фрагмент аудио кадра
type AudioFrame struct {
	PacketCounter uint32
	Payload       []byte
}

// HapticsFeedback команда вибрации контроллера
type HapticsFeedback struct {
	StartTime uint64
	Amplitude float32
	Duration  float32
	Frequency float32
	Hand      uint8
}

func (*TrackingInfo) Type() Type        { return TypeTrackingInfo }
func (*TimeSync) Type() Type            { return TypeTimeSync }
func (*PacketErrorReport) Type() Type   { return TypePacketErrorReport }
func (*MicAudioFrame) Type() Type       { return TypeMicAudio }
func (*GuardianSyncStart) Type() Type   { return TypeGuardianSyncStart }
func (*GuardianSyncAck) Type() Type     { return TypeGuardianSyncAck }
func (*GuardianSegmentData) Type() Type { return TypeGuardianSegmentData }
func (*GuardianSegmentAck) Type() Type  { return TypeGuardianSegmentAck }
func (*VideoFrame) Type() Type          { return TypeVideoFrame }
func (*AudioFrameStart) Type() Type     { return TypeAudioFrameStart }
func (*AudioFrame) Type() Type          { return TypeAudioFrame }
func (*HapticsFeedback) Type() Type     { return TypeHapticsFeedback }

func (*TrackingInfo) Len() int        { return TrackingInfoSize }
func (*TimeSync) Len() int            { return TimeSyncSize }
func (*PacketErrorReport) Len() int   { return PacketErrorReportSize }
func (*MicAudioFrame) Len() int       { return MicAudioFrameSize }
func (*GuardianSyncStart) Len() int   { return GuardianSyncStartSize }
func (*GuardianSyncAck) Len() int     { return GuardianSyncAckSize }
func (*GuardianSegmentData) Len() int { return GuardianSegmentDataSize }
func (*GuardianSegmentAck) Len() int  { return GuardianSegmentAckSize }
func (m *VideoFrame) Len() int        { return VideoFrameHeaderSize + len(m.Payload) }
func (m *AudioFrameStart) Len() int   { return AudioFrameStartSize + len(m.Payload) }
func (m *AudioFrame) Len() int        { return AudioFrameSize + len(m.Payload) }
func (*HapticsFeedback) Len() int     { return HapticsFeedbackSize }
