package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrShortDatagram датаграмма короче минимального размера своего типа
	ErrShortDatagram = errors.New("protocol: datagram too short")
	// ErrUnknownType неизвестный дискриминатор типа
	ErrUnknownType = errors.New("protocol: unknown message type")
	// ErrBufferTooSmall буфер назначения меньше закодированного сообщения
	ErrBufferTooSmall = errors.New("protocol: destination buffer too small")
)

// PeekType читает дискриминатор без декодирования тела
func PeekType(b []byte) (Type, error) {
	if len(b) < TypeSize {
		return 0, fmt.Errorf("%w: %d байт", ErrShortDatagram, len(b))
	}
	return Type(binary.LittleEndian.Uint32(b)), nil
}

// Marshal кодирует сообщение в новый буфер
func Marshal(m Message) []byte {
	b := make([]byte, m.Len())
	w := &writer{b: b}
	w.u32(uint32(m.Type()))
	m.encode(w)
	return b
}

// MarshalTo кодирует сообщение в переданный буфер и возвращает длину.
// Используется на горячем пути отправки для переиспользования буфера.
func MarshalTo(b []byte, m Message) (int, error) {
	n := m.Len()
	if len(b) < n {
		return 0, fmt.Errorf("%w: нужно %d, доступно %d", ErrBufferTooSmall, n, len(b))
	}
	w := &writer{b: b[:n]}
	w.u32(uint32(m.Type()))
	m.encode(w)
	return n, nil
}

// Decode разбирает датаграмму в типизированное сообщение.
// Длина проверяется до чтения любых полей. Поля Payload ссылаются на b.
func Decode(b []byte) (Message, error) {
	t, err := PeekType(b)
	if err != nil {
		return nil, err
	}

	need, ok := MinSize(t)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint32(t))
	}
	if len(b) < need {
		return nil, fmt.Errorf("%w: %s требует %d байт, получено %d", ErrShortDatagram, t, need, len(b))
	}

	r := &reader{b: b, off: TypeSize}

	switch t {
	case TypeTrackingInfo:
		m := &TrackingInfo{}
		m.decode(r)
		return m, nil
	case TypeTimeSync:
		m := &TimeSync{}
		m.decode(r)
		return m, nil
	case TypePacketErrorReport:
		m := &PacketErrorReport{}
		m.decode(r)
		return m, nil
	case TypeMicAudio:
		m := &MicAudioFrame{}
		m.decode(r)
		return m, nil
	case TypeGuardianSyncStart:
		m := &GuardianSyncStart{}
		m.decode(r)
		return m, nil
	case TypeGuardianSyncAck:
		m := &GuardianSyncAck{}
		m.decode(r)
		return m, nil
	case TypeGuardianSegmentData:
		m := &GuardianSegmentData{}
		m.decode(r)
		return m, nil
	case TypeGuardianSegmentAck:
		m := &GuardianSegmentAck{}
		m.decode(r)
		return m, nil
	case TypeVideoFrame:
		m := &VideoFrame{}
		m.decode(r)
		return m, nil
	case TypeAudioFrameStart:
		m := &AudioFrameStart{}
		m.decode(r)
		return m, nil
	case TypeAudioFrame:
		m := &AudioFrame{}
		m.decode(r)
		return m, nil
	case TypeHapticsFeedback:
		m := &HapticsFeedback{}
		m.decode(r)
		return m, nil
	}

	return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint32(t))
}

// writer последовательная запись little-endian полей.
// Размер буфера проверяется вызывающей стороной.
type writer struct {
	b   []byte
	off int
}

func (w *writer) u8(v uint8) {
	w.b[w.off] = v
	w.off++
}

func (w *writer) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.b[w.off:], v)
	w.off += 2
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.b[w.off:], v)
	w.off += 4
}

func (w *writer) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.b[w.off:], v)
	w.off += 8
}

func (w *writer) i16(v int16)   { w.u16(uint16(v)) }
func (w *writer) i32(v int32)   { w.u32(uint32(v)) }
func (w *writer) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *writer) vec2(v Vector2) {
	w.f32(v.X)
	w.f32(v.Y)
}

func (w *writer) vec3(v Vector3) {
	w.f32(v.X)
	w.f32(v.Y)
	w.f32(v.Z)
}

func (w *writer) quat(q Quat) {
	w.f32(q.X)
	w.f32(q.Y)
	w.f32(q.Z)
	w.f32(q.W)
}

func (w *writer) bytes(p []byte) {
	w.off += copy(w.b[w.off:], p)
}

// reader последовательное чтение little-endian полей.
// Длина проверяется в Decode до создания reader.
type reader struct {
	b   []byte
	off int
}

func (r *reader) u8() uint8 {
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *reader) i16() int16   { return int16(r.u16()) }
func (r *reader) i32() int32   { return int32(r.u32()) }
func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) vec2() Vector2 {
	return Vector2{X: r.f32(), Y: r.f32()}
}

func (r *reader) vec3() Vector3 {
	return Vector3{X: r.f32(), Y: r.f32(), Z: r.f32()}
}

func (r *reader) quat() Quat {
	return Quat{X: r.f32(), Y: r.f32(), Z: r.f32(), W: r.f32()}
}

func (r *reader) rest() []byte {
	return r.b[r.off:]
}

func (m *TrackingInfo) encode(w *writer) {
	w.u32(m.Flags)
	w.u64(m.FrameIndex)
	w.u64(m.PredictedDisplayTime)
	w.quat(m.HeadOrientation)
	w.vec3(m.HeadPosition)
	w.f32(m.IPD)
	w.u8(m.Battery)
	w.u8(m.Plugged)
}

func (m *TrackingInfo) decode(r *reader) {
	m.Flags = r.u32()
	m.FrameIndex = r.u64()
	m.PredictedDisplayTime = r.u64()
	m.HeadOrientation = r.quat()
	m.HeadPosition = r.vec3()
	m.IPD = r.f32()
	m.Battery = r.u8()
	m.Plugged = r.u8()
}

func (m *TimeSync) encode(w *writer) {
	w.u32(m.Mode)
	w.u64(m.Sequence)
	w.u64(m.ServerTime)
	w.u64(m.ClientTime)
	w.u64(m.PacketsLostTotal)
	w.u64(m.PacketsLostInSecond)
	w.u32(m.AverageTotalLatency)
	w.u32(m.MaxTotalLatency)
	w.u32(m.MinTotalLatency)
	w.u32(m.AverageTransportLatency)
	w.u32(m.MaxTransportLatency)
	w.u32(m.MinTransportLatency)
	w.u32(m.AverageDecodeLatency)
	w.u32(m.MaxDecodeLatency)
	w.u32(m.MinDecodeLatency)
	w.u32(m.FecFailure)
	w.u64(m.FecFailureInSecond)
	w.u64(m.FecFailureTotal)
	w.u32(m.FPS)
	w.u64(m.TrackingRecvFrameIndex)
}

func (m *TimeSync) decode(r *reader) {
	m.Mode = r.u32()
	m.Sequence = r.u64()
	m.ServerTime = r.u64()
	m.ClientTime = r.u64()
	m.PacketsLostTotal = r.u64()
	m.PacketsLostInSecond = r.u64()
	m.AverageTotalLatency = r.u32()
	m.MaxTotalLatency = r.u32()
	m.MinTotalLatency = r.u32()
	m.AverageTransportLatency = r.u32()
	m.MaxTransportLatency = r.u32()
	m.MinTransportLatency = r.u32()
	m.AverageDecodeLatency = r.u32()
	m.MaxDecodeLatency = r.u32()
	m.MinDecodeLatency = r.u32()
	m.FecFailure = r.u32()
	m.FecFailureInSecond = r.u64()
	m.FecFailureTotal = r.u64()
	m.FPS = r.u32()
	m.TrackingRecvFrameIndex = r.u64()
}

func (m *PacketErrorReport) encode(w *writer) {
	w.u32(m.LostFrameType)
	w.u64(m.FromPacketCounter)
	w.u64(m.ToPacketCounter)
}

func (m *PacketErrorReport) decode(r *reader) {
	m.LostFrameType = r.u32()
	m.FromPacketCounter = r.u64()
	m.ToPacketCounter = r.u64()
}

func (m *MicAudioFrame) encode(w *writer) {
	w.i32(m.PacketIndex)
	w.u64(m.CompleteSize)
	w.u64(m.OutputBufferNumElements)
	for _, s := range m.MicBuffer {
		w.i16(s)
	}
}

func (m *MicAudioFrame) decode(r *reader) {
	m.PacketIndex = r.i32()
	m.CompleteSize = r.u64()
	m.OutputBufferNumElements = r.u64()
	for i := range m.MicBuffer {
		m.MicBuffer[i] = r.i16()
	}
}

func (m *GuardianSyncStart) encode(w *writer) {
	w.u64(m.Timestamp)
	w.quat(m.StandingRotation)
	w.vec3(m.StandingPosition)
	w.vec2(m.PlayAreaSize)
	w.i32(m.TotalPointCount)
}

func (m *GuardianSyncStart) decode(r *reader) {
	m.Timestamp = r.u64()
	m.StandingRotation = r.quat()
	m.StandingPosition = r.vec3()
	m.PlayAreaSize = r.vec2()
	m.TotalPointCount = r.i32()
}

func (m *GuardianSyncAck) encode(w *writer) {
	w.u64(m.Timestamp)
}

func (m *GuardianSyncAck) decode(r *reader) {
	m.Timestamp = r.u64()
}

func (m *GuardianSegmentData) encode(w *writer) {
	w.u64(m.Timestamp)
	w.i32(m.SegmentIndex)
	for _, p := range m.Points {
		w.vec3(p)
	}
}

func (m *GuardianSegmentData) decode(r *reader) {
	m.Timestamp = r.u64()
	m.SegmentIndex = r.i32()
	for i := range m.Points {
		m.Points[i] = r.vec3()
	}
}

func (m *GuardianSegmentAck) encode(w *writer) {
	w.u64(m.Timestamp)
	w.i32(m.SegmentIndex)
}

func (m *GuardianSegmentAck) decode(r *reader) {
	m.Timestamp = r.u64()
	m.SegmentIndex = r.i32()
}

func (m *VideoFrame) encode(w *writer) {
	w.u32(m.PacketCounter)
	w.u64(m.TrackingFrameIndex)
	w.u64(m.VideoFrameIndex)
	w.u64(m.SentTime)
	w.u32(m.FrameByteSize)
	w.u32(m.FecIndex)
	w.u16(m.FecPercentage)
	w.bytes(m.Payload)
}

func (m *VideoFrame) decode(r *reader) {
	m.PacketCounter = r.u32()
	m.TrackingFrameIndex = r.u64()
	m.VideoFrameIndex = r.u64()
	m.SentTime = r.u64()
	m.FrameByteSize = r.u32()
	m.FecIndex = r.u32()
	m.FecPercentage = r.u16()
	m.Payload = r.rest()
}

func (m *AudioFrameStart) encode(w *writer) {
	w.u32(m.PacketCounter)
	w.u64(m.PresentationTime)
	w.u32(m.FrameByteSize)
	w.bytes(m.Payload)
}

func (m *AudioFrameStart) decode(r *reader) {
	m.PacketCounter = r.u32()
	m.PresentationTime = r.u64()
	m.FrameByteSize = r.u32()
	m.Payload = r.rest()
}

func (m *AudioFrame) encode(w *writer) {
	w.u32(m.PacketCounter)
	w.bytes(m.Payload)
}

func (m *AudioFrame) decode(r *reader) {
	m.PacketCounter = r.u32()
	m.Payload = r.rest()
}

func (m *HapticsFeedback) encode(w *writer) {
	w.u64(m.StartTime)
	w.f32(m.Amplitude)
	w.f32(m.Duration)
	w.f32(m.Frequency)
	w.u8(m.Hand)
}

func (m *HapticsFeedback) decode(r *reader) {
	m.StartTime = r.u64()
	m.Amplitude = r.f32()
	m.Duration = r.f32()
	m.Frequency = r.f32()
	m.Hand = r.u8()
}
