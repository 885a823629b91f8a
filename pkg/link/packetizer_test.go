package link

import (
	"bytes"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/vrlink/pkg/fec"
	"github.com/arzzra/vrlink/pkg/protocol"
)

func videoPackets(t *testing.T, ft *fakeTransport) []*protocol.VideoFrame {
	t.Helper()
	var out []*protocol.VideoFrame
	for _, m := range ft.SentMessages(t) {
		vf, ok := m.(*protocol.VideoFrame)
		require.True(t, ok, "ожидался VideoFrame, получен %s", m.Type())
		require.LessOrEqual(t, vf.Len(), protocol.MaxVideoPacketSize)
		out = append(out, vf)
	}
	return out
}

func TestSendVideoLosslessPacketization(t *testing.T) {
	f := newFixture(t, nil)
	codec, err := fec.NewCodec(fec.DefaultConfig())
	require.NoError(t, err)

	lengths := []int{1, protocol.MaxVideoPayloadSize, protocol.MaxVideoPayloadSize + 1, 50_000, 400_000, 1_000_000}
	var counter uint32

	for frame, length := range lengths {
		f.transport.Reset()
		buf := make([]byte, length)
		rand.New(rand.NewSource(int64(length))).Read(buf)

		require.NoError(t, f.conn.SendVideo(buf, uint64(100+frame)))

		layout := codec.Plan(length, fec.InitialPercentage)
		packets := videoPackets(t, f.transport)
		require.Len(t, packets, layout.TotalShards()*layout.ShardPackets, "length=%d", length)

		sort.Slice(packets, func(i, j int) bool { return packets[i].FecIndex < packets[j].FecIndex })

		var joined []byte
		for i, p := range packets {
			assert.Equal(t, uint32(i), p.FecIndex, "fecIndex без пропусков")
			assert.Equal(t, counter, p.PacketCounter)
			counter++

			assert.Equal(t, uint32(length), p.FrameByteSize)
			assert.Equal(t, uint64(frame), p.VideoFrameIndex)
			assert.Equal(t, uint64(100+frame), p.TrackingFrameIndex)
			assert.Equal(t, uint16(fec.InitialPercentage), p.FecPercentage)

			if i < layout.DataShards*layout.ShardPackets {
				joined = append(joined, p.Payload...)
			} else {
				assert.Len(t, p.Payload, protocol.MaxVideoPayloadSize)
			}
		}
		assert.True(t, bytes.Equal(buf, joined), "length=%d", length)
	}
}

func TestSendVideoHeaderOnlyPaddingPackets(t *testing.T) {
	f := newFixture(t, nil)

	// 400000 байт при 5%: 2 пакета на shard, в последнем shard'е 748 байт
	const length = 400_000
	require.NoError(t, f.conn.SendVideo(make([]byte, length), 1))

	packets := videoPackets(t, f.transport)
	var empty int
	for _, p := range packets {
		if len(p.Payload) == 0 {
			empty++
		}
	}
	assert.Equal(t, 1, empty)
}

func TestSendVideoTimestampsPerDatagram(t *testing.T) {
	var ticks uint64
	f := newFixture(t, func(_ *Config, o *Options) {
		o.Clock = func() uint64 {
			ticks++
			return ticks
		}
	})

	require.NoError(t, f.conn.SendVideo(make([]byte, 10*protocol.MaxVideoPayloadSize), 1))

	packets := videoPackets(t, f.transport)
	require.Greater(t, len(packets), 1)
	for i := 1; i < len(packets); i++ {
		assert.Greater(t, packets[i].SentTime, packets[i-1].SentTime)
	}
}

func TestSendVideoErrors(t *testing.T) {
	f := newFixture(t, func(c *Config, _ *Options) {
		c.FEC.ShardPackets = func(length, percentage int) int { return 1 }
	})

	assert.ErrorIs(t, f.conn.SendVideo(nil, 1), ErrEmptyFrame)

	err := f.conn.SendVideo(make([]byte, 300*protocol.MaxVideoPayloadSize), 1)
	assert.ErrorIs(t, err, ErrShardBudget)
	assert.Empty(t, f.transport.Sent())

	// Индекс кадра не расходуется на отклоненные кадры
	require.NoError(t, f.conn.SendVideo([]byte{1}, 1))
	packets := videoPackets(t, f.transport)
	require.NotEmpty(t, packets)
	assert.Equal(t, uint64(0), packets[0].VideoFrameIndex)

	sendErr := errors.New("network down")
	f.transport.sendErr = sendErr
	assert.ErrorIs(t, f.conn.SendVideo([]byte{1, 2, 3}, 2), sendErr)
}

func TestSendAudioFragmentation(t *testing.T) {
	firstPayload := protocol.MaxAudioPacketSize - protocol.AudioFrameStartSize
	nextPayload := protocol.MaxAudioPacketSize - protocol.AudioFrameSize

	tests := []struct {
		length    int
		fragments int
	}{
		{length: 0, fragments: 0},
		{length: 1, fragments: 1},
		{length: firstPayload, fragments: 1},
		{length: firstPayload + 1, fragments: 2},
		{length: firstPayload + nextPayload, fragments: 2},
		{length: firstPayload + nextPayload + 1, fragments: 3},
		{length: 5000, fragments: 4},
	}

	f := newFixture(t, nil)
	var counter uint32

	for _, tt := range tests {
		f.transport.Reset()
		buf := make([]byte, tt.length)
		rand.New(rand.NewSource(int64(tt.length))).Read(buf)

		require.NoError(t, f.conn.SendAudio(buf, 777))

		msgs := f.transport.SentMessages(t)
		require.Len(t, msgs, tt.fragments, "length=%d", tt.length)
		if tt.fragments == 0 {
			continue
		}

		start, ok := msgs[0].(*protocol.AudioFrameStart)
		require.True(t, ok)
		assert.Equal(t, uint64(777), start.PresentationTime)
		assert.Equal(t, uint32(tt.length), start.FrameByteSize)
		assert.Equal(t, counter, start.PacketCounter)
		counter++

		joined := append([]byte(nil), start.Payload...)
		for _, m := range msgs[1:] {
			frag, ok := m.(*protocol.AudioFrame)
			require.True(t, ok)
			assert.Equal(t, counter, frag.PacketCounter)
			counter++
			assert.LessOrEqual(t, frag.Len(), protocol.MaxAudioPacketSize)
			joined = append(joined, frag.Payload...)
		}
		assert.True(t, bytes.Equal(buf, joined))
	}
}

func TestSendHapticsFeedback(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.conn.SendHapticsFeedback(42, 0.5, 0.1, 160, 1))

	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	assert.Len(t, sent[0], protocol.HapticsFeedbackSize)

	msg, err := protocol.Decode(sent[0])
	require.NoError(t, err)
	assert.Equal(t, &protocol.HapticsFeedback{StartTime: 42, Amplitude: 0.5, Duration: 0.1, Frequency: 160, Hand: 1}, msg)
}

func TestConcurrentSendsUseUniqueCounters(t *testing.T) {
	f := newFixture(t, nil)

	const workers, frames = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < frames; i++ {
				assert.NoError(t, f.conn.SendAudio(make([]byte, 2000), 0))
				assert.NoError(t, f.conn.SendVideo(make([]byte, 3000), 0))
			}
		}()
	}
	wg.Wait()

	audio := map[uint32]bool{}
	video := map[uint32]bool{}
	frameIndexes := map[uint64]bool{}
	for _, m := range f.transport.SentMessages(t) {
		switch v := m.(type) {
		case *protocol.AudioFrameStart:
			audio[v.PacketCounter] = true
		case *protocol.AudioFrame:
			audio[v.PacketCounter] = true
		case *protocol.VideoFrame:
			video[v.PacketCounter] = true
			frameIndexes[v.VideoFrameIndex] = true
		}
	}

	assert.Len(t, audio, workers*frames*2)
	assert.Len(t, frameIndexes, workers*frames)
	for i := uint32(0); i < uint32(len(video)); i++ {
		require.True(t, video[i], "пропущен счетчик %d", i)
	}
}
