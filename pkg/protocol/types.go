// Package protocol описывает бинарный формат датаграмм между сервером и шлемом.
//
// Каждое сообщение - упакованная запись фиксированного размера, начинающаяся
// с 4-байтового дискриминатора типа. Все поля кодируются в little-endian,
// выравнивание отсутствует. Обе стороны обязаны использовать один и тот же
// порядок байт.
//
// Декодирование всегда проверяет длину датаграммы до чтения полей, поэтому
// усеченные или чужие пакеты никогда не интерпретируются частично.
package protocol

import "fmt"

// Type дискриминатор типа сообщения (первые 4 байта датаграммы)
type Type uint32

const (
	TypeTrackingInfo        Type = 6
	TypeTimeSync            Type = 7
	TypeVideoFrame          Type = 9
	TypeAudioFrameStart     Type = 10
	TypeAudioFrame          Type = 11
	TypePacketErrorReport   Type = 12
	TypeHapticsFeedback     Type = 13
	TypeMicAudio            Type = 14
	TypeGuardianSyncStart   Type = 15
	TypeGuardianSyncAck     Type = 16
	TypeGuardianSegmentData Type = 17
	TypeGuardianSegmentAck  Type = 18
)

// AllTypes перечисляет все известные типы сообщений
var AllTypes = []Type{
	TypeTrackingInfo,
	TypeTimeSync,
	TypeVideoFrame,
	TypeAudioFrameStart,
	TypeAudioFrame,
	TypePacketErrorReport,
	TypeHapticsFeedback,
	TypeMicAudio,
	TypeGuardianSyncStart,
	TypeGuardianSyncAck,
	TypeGuardianSegmentData,
	TypeGuardianSegmentAck,
}

func (t Type) String() string {
	switch t {
	case TypeTrackingInfo:
		return "TrackingInfo"
	case TypeTimeSync:
		return "TimeSync"
	case TypeVideoFrame:
		return "VideoFrame"
	case TypeAudioFrameStart:
		return "AudioFrameStart"
	case TypeAudioFrame:
		return "AudioFrame"
	case TypePacketErrorReport:
		return "PacketErrorReport"
	case TypeHapticsFeedback:
		return "HapticsFeedback"
	case TypeMicAudio:
		return "MicAudioFrame"
	case TypeGuardianSyncStart:
		return "GuardianSyncStart"
	case TypeGuardianSyncAck:
		return "GuardianSyncAck"
	case TypeGuardianSegmentData:
		return "GuardianSegmentData"
	case TypeGuardianSegmentAck:
		return "GuardianSegmentAck"
	default:
		return fmt.Sprintf("Type(%d)", uint32(t))
	}
}

// Размеры фиксированной части каждого сообщения в байтах
const (
	TypeSize = 4

	TrackingInfoSize        = 58
	TimeSyncSize            = 116
	VideoFrameHeaderSize    = 42
	AudioFrameStartSize     = 20
	AudioFrameSize          = 8
	PacketErrorReportSize   = 24
	HapticsFeedbackSize     = 25
	MicAudioFrameSize       = 224
	GuardianSyncStartSize   = 52
	GuardianSyncAckSize     = 12
	GuardianSegmentDataSize = 1216
	GuardianSegmentAckSize  = 16
)

// Ограничения размеров датаграмм
const (
	// MaxVideoPacketSize максимальный размер видео датаграммы вместе с заголовком
	MaxVideoPacketSize = 1400
	// MaxVideoPayloadSize полезная нагрузка одного shard-пакета
	MaxVideoPayloadSize = MaxVideoPacketSize - VideoFrameHeaderSize
	// MaxAudioPacketSize максимальный размер аудио датаграммы вместе с заголовком
	MaxAudioPacketSize = 1400
	// MaxDatagramSize размер буфера приема одной датаграммы
	MaxDatagramSize = 2000

	// GuardianSegmentSize количество точек границы в одном сегменте
	GuardianSegmentSize = 100
	// MicBufferSamples количество 16-битных сэмплов в MicAudioFrame
	MicBufferSamples = 100
)

// MinSize возвращает минимальную длину датаграммы для типа.
// Для неизвестного типа возвращает 0 и false.
func MinSize(t Type) (int, bool) {
	switch t {
	case TypeTrackingInfo:
		return TrackingInfoSize, true
	case TypeTimeSync:
		return TimeSyncSize, true
	case TypeVideoFrame:
		return VideoFrameHeaderSize, true
	case TypeAudioFrameStart:
		return AudioFrameStartSize, true
	case TypeAudioFrame:
		return AudioFrameSize, true
	case TypePacketErrorReport:
		return PacketErrorReportSize, true
	case TypeHapticsFeedback:
		return HapticsFeedbackSize, true
	case TypeMicAudio:
		return MicAudioFrameSize, true
	case TypeGuardianSyncStart:
		return GuardianSyncStartSize, true
	case TypeGuardianSyncAck:
		return GuardianSyncAckSize, true
	case TypeGuardianSegmentData:
		return GuardianSegmentDataSize, true
	case TypeGuardianSegmentAck:
		return GuardianSegmentAckSize, true
	default:
		return 0, false
	}
}

// Режимы TimeSync
const (
	TimeSyncModeRequest   uint32 = 0 // клиент -> сервер, со статистикой клиента
	TimeSyncModeReply     uint32 = 1 // сервер -> клиент, эхо с временем сервера
	TimeSyncModeRoundTrip uint32 = 2 // клиент -> сервер, завершение замера RTT
)

// Категории потерь в PacketErrorReport
const (
	LostFrameTypeVideo uint32 = 0
	LostFrameTypeAudio uint32 = 1
)

// Vector2 двумерный вектор
type Vector2 struct {
	X, Y float32
}

// Vector3 трехмерный вектор
type Vector3 struct {
	X, Y, Z float32
}

// Quat кватернион ориентации
type Quat struct {
	X, Y, Z, W float32
}
