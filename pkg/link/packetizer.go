package link

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/vrlink/pkg/fec"
	"github.com/arzzra/vrlink/pkg/protocol"
)

// datagramPool буферы исходящих датаграмм
var datagramPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, protocol.MaxDatagramSize)
		return &b
	},
}

// SendVideo кодирует кадр с FEC и отправляет shard-пакеты.
// frameIndex - индекс кадра позы, по которой кадр отрисован.
func (c *Connection) SendVideo(buf []byte, frameIndex uint64) error {
	percentage := c.controller.Percentage()

	if err := c.codec.CheckShardBudget(len(buf), percentage); err != nil {
		if errors.Is(err, fec.ErrEmptyBuffer) {
			return ErrEmptyFrame
		}
		return fmt.Errorf("%w: %d байт при %d%%", ErrShardBudget, len(buf), percentage)
	}

	set, err := c.codec.Encode(buf, percentage)
	if err != nil {
		return fmt.Errorf("ошибка FEC кодирования: %w", err)
	}
	defer set.Release()

	videoFrameIndex := c.videoFrameIndex.Add(1) - 1
	return c.EmitVideo(set, frameIndex, videoFrameIndex, percentage)
}

// EmitVideo отправляет shard'ы кадра: сначала data, затем parity.
// fecIndex нумерует shard-пакеты подряд, parity начинается с
// DataShards*ShardPackets. Data shard-пакеты несут только байты кадра,
// пакеты целиком в нулевом дополнении отправляются без нагрузки.
func (c *Connection) EmitVideo(set *fec.ShardSet, frameIndex, videoFrameIndex uint64, percentage int) error {
	bp := datagramPool.Get().(*[]byte)
	defer datagramPool.Put(bp)
	datagram := *bp

	packetSize := c.codec.Config().PacketSize
	header := protocol.VideoFrame{
		TrackingFrameIndex: frameIndex,
		VideoFrameIndex:    videoFrameIndex,
		FrameByteSize:      uint32(set.Length),
		FecPercentage:      uint16(percentage),
	}

	var fecIndex uint32
	for shardIndex, shard := range set.Shards {
		isData := shardIndex < set.DataShards
		for p := 0; p < set.ShardPackets; p++ {
			start := p * packetSize
			end := start + packetSize

			if isData {
				// Граница исходных данных внутри shard'а
				remaining := set.Length - shardIndex*set.BlockSize
				if end > remaining {
					end = remaining
				}
				if start > end {
					start = end
				}
			}

			header.PacketCounter = c.videoPacketCounter.Add(1) - 1
			header.SentTime = c.now()
			header.FecIndex = fecIndex
			header.Payload = shard[start:end]
			fecIndex++

			n, err := protocol.MarshalTo(datagram, &header)
			if err != nil {
				return err
			}
			if err := c.transport.Send(datagram[:n]); err != nil {
				return fmt.Errorf("ошибка отправки видео (кадр %d, fecIndex %d): %w",
					videoFrameIndex, header.FecIndex, err)
			}
		}
	}

	c.log.WithFields(logrus.Fields{
		"frame":   videoFrameIndex,
		"bytes":   set.Length,
		"data":    set.DataShards,
		"parity":  set.ParityShards,
		"packets": fecIndex,
	}).Trace("видео кадр отправлен")

	return nil
}

// SendAudio отправляет аудио кадр фрагментами не больше
// MaxAudioPacketSize. Первый фрагмент несет AudioFrameStart.
func (c *Connection) SendAudio(buf []byte, presentationTime uint64) error {
	if len(buf) == 0 {
		return nil
	}

	bp := datagramPool.Get().(*[]byte)
	defer datagramPool.Put(bp)
	datagram := *bp

	for offset := 0; offset < len(buf); {
		var msg protocol.Message
		if offset == 0 {
			end := min(len(buf), protocol.MaxAudioPacketSize-protocol.AudioFrameStartSize)
			msg = &protocol.AudioFrameStart{
				PacketCounter:    c.audioPacketCounter.Add(1) - 1,
				PresentationTime: presentationTime,
				FrameByteSize:    uint32(len(buf)),
				Payload:          buf[:end],
			}
			offset = end
		} else {
			end := min(len(buf), offset+protocol.MaxAudioPacketSize-protocol.AudioFrameSize)
			msg = &protocol.AudioFrame{
				PacketCounter: c.audioPacketCounter.Add(1) - 1,
				Payload:       buf[offset:end],
			}
			offset = end
		}

		n, err := protocol.MarshalTo(datagram, msg)
		if err != nil {
			return err
		}
		if err := c.transport.Send(datagram[:n]); err != nil {
			return fmt.Errorf("ошибка отправки звука: %w", err)
		}
	}
	return nil
}

// SendHapticsFeedback отправляет одну команду вибрации без повтора
func (c *Connection) SendHapticsFeedback(startTime uint64, amplitude, duration, frequency float32, hand uint8) error {
	return c.send(&protocol.HapticsFeedback{
		StartTime: startTime,
		Amplitude: amplitude,
		Duration:  duration,
		Frequency: frequency,
		Hand:      hand,
	})
}
