package fec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/klauspost/reedsolomon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/vrlink/pkg/protocol"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec(DefaultConfig())
	require.NoError(t, err)
	return codec
}

func randomFrame(t *testing.T, size int) []byte {
	t.Helper()
	buf := make([]byte, size)
	rng := rand.New(rand.NewSource(int64(size)))
	_, err := rng.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestCalculateParityShards(t *testing.T) {
	assert.Equal(t, 0, CalculateParityShards(10, 0))
	assert.Equal(t, 1, CalculateParityShards(1, 5))
	assert.Equal(t, 1, CalculateParityShards(20, 5))
	assert.Equal(t, 2, CalculateParityShards(21, 5))
	assert.Equal(t, 13, CalculateParityShards(241, 5))
}

func TestCalculateShardPackets(t *testing.T) {
	// Малые кадры: один пакет на shard
	assert.Equal(t, 1, CalculateShardPackets(100, 5))
	assert.Equal(t, 1, CalculateShardPackets(241*protocol.MaxVideoPayloadSize, 5))
	// Больше 241 пакета при 5% - shard'ы укрупняются
	assert.Equal(t, 2, CalculateShardPackets(241*protocol.MaxVideoPayloadSize+1, 5))
	assert.Equal(t, CalculateShardPackets(50_000, 5), ShardPacketsFor(50_000, 5, protocol.MaxVideoPayloadSize, MaxTotalShards))
}

func TestPlanFollowsConfiguredLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PacketSize = 500
	cfg.MaxTotalShards = 64
	codec, err := NewCodec(cfg)
	require.NoError(t, err)

	for _, pct := range []int{0, InitialPercentage, 50} {
		for _, length := range []int{1, 500, 501, 30_000, 1_000_000} {
			layout := codec.Plan(length, pct)
			assert.LessOrEqual(t, layout.TotalShards(), 64, "length=%d pct=%d", length, pct)
			assert.Equal(t, layout.ShardPackets*500, layout.BlockSize)
			assert.NoError(t, codec.CheckShardBudget(length, pct))
		}
	}

	// Расчет идет от PacketSize и MaxTotalShards конфигурации
	assert.Equal(t, 34, codec.Plan(1_000_000, 5).ShardPackets)
	assert.Equal(t, 4, CalculateShardPackets(1_000_000, 5))
}

func TestEncodeShardBudgetAndReassembly(t *testing.T) {
	codec := newTestCodec(t)

	lengths := []int{1, 100, protocol.MaxVideoPayloadSize, protocol.MaxVideoPayloadSize + 1,
		50_000, 327_000, 1_000_000, 2_500_000}

	for _, pct := range []int{0, InitialPercentage, MaxPercentage, 50} {
		for _, length := range lengths {
			buf := randomFrame(t, length)
			original := append([]byte(nil), buf...)

			set, err := codec.Encode(buf, pct)
			require.NoError(t, err)

			assert.LessOrEqual(t, set.TotalShards(), MaxTotalShards, "length=%d pct=%d", length, pct)
			assert.Equal(t, CalculateParityShards(set.DataShards, pct), set.ParityShards)

			var joined []byte
			for _, shard := range set.Data() {
				assert.Len(t, shard, set.BlockSize)
				joined = append(joined, shard...)
			}
			assert.Equal(t, set.Padding(), len(joined)-length)
			assert.True(t, bytes.Equal(original, joined[:length]), "length=%d pct=%d", length, pct)

			// Дополнение нулями
			for _, b := range joined[length:] {
				require.Zero(t, b)
			}

			// Исходный буфер не изменен кодированием
			assert.Equal(t, original, buf)
			set.Release()
		}
	}
}

func TestEncodeParityRecoversLostShards(t *testing.T) {
	codec := newTestCodec(t)
	buf := randomFrame(t, 200_000)

	set, err := codec.Encode(buf, MaxPercentage)
	require.NoError(t, err)
	defer set.Release()
	require.Greater(t, set.ParityShards, 0)

	enc, err := reedsolomon.New(set.DataShards, set.ParityShards)
	require.NoError(t, err)

	ok, err := enc.Verify(set.Shards)
	require.NoError(t, err)
	assert.True(t, ok)

	// Теряем столько data shard'ов, сколько есть parity
	received := make([][]byte, len(set.Shards))
	for i, shard := range set.Shards {
		received[i] = append([]byte(nil), shard...)
	}
	for i := 0; i < set.ParityShards; i++ {
		received[i*2] = nil
	}

	require.NoError(t, enc.ReconstructData(received))

	var joined []byte
	for _, shard := range received[:set.DataShards] {
		joined = append(joined, shard...)
	}
	assert.Equal(t, buf, joined[:len(buf)])
}

func TestEncodeEmptyBuffer(t *testing.T) {
	codec := newTestCodec(t)

	_, err := codec.Encode(nil, InitialPercentage)
	assert.ErrorIs(t, err, ErrEmptyBuffer)
	assert.ErrorIs(t, codec.CheckShardBudget(0, InitialPercentage), ErrEmptyBuffer)
}

func TestEncodePanicsWhenBudgetExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShardPackets = func(length, percentage int) int { return 1 }

	codec, err := NewCodec(cfg)
	require.NoError(t, err)

	length := 300 * protocol.MaxVideoPayloadSize
	assert.ErrorIs(t, codec.CheckShardBudget(length, InitialPercentage), ErrShardBudget)
	assert.Panics(t, func() {
		_, _ = codec.Encode(make([]byte, length), InitialPercentage)
	})

	assert.NoError(t, codec.CheckShardBudget(protocol.MaxVideoPayloadSize, InitialPercentage))
}

func TestShardSetReleaseIsIdempotent(t *testing.T) {
	codec := newTestCodec(t)

	set, err := codec.Encode(randomFrame(t, 5000), InitialPercentage)
	require.NoError(t, err)
	assert.NotEmpty(t, set.owned)

	set.Release()
	set.Release()
	assert.Nil(t, set.Shards)

	var nilSet *ShardSet
	assert.NotPanics(t, nilSet.Release)
}

func TestPooledBuffersAreZeroPadded(t *testing.T) {
	codec := newTestCodec(t)

	// Загрязняем пул буфером с ненулевыми байтами
	dirty := bytes.Repeat([]byte{0xff}, 3*protocol.MaxVideoPayloadSize)
	set, err := codec.Encode(dirty[:protocol.MaxVideoPayloadSize+10], InitialPercentage)
	require.NoError(t, err)
	set.Release()

	set, err = codec.Encode(bytes.Repeat([]byte{1}, protocol.MaxVideoPayloadSize+3), InitialPercentage)
	require.NoError(t, err)
	defer set.Release()

	last := set.Data()[set.DataShards-1]
	assert.Equal(t, []byte{1, 1, 1}, last[:3])
	for _, b := range last[3:] {
		require.Zero(t, b)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "zero packet size", mutate: func(c *Config) { c.PacketSize = 0 }, wantErr: true},
		{name: "too many shards", mutate: func(c *Config) { c.MaxTotalShards = 300 }, wantErr: true},
		{name: "too few shards", mutate: func(c *Config) { c.MaxTotalShards = 2 }, wantErr: true},
		{name: "packet fills datagram", mutate: func(c *Config) { c.PacketSize = protocol.MaxDatagramSize - protocol.VideoFrameHeaderSize }},
		{name: "packet exceeds datagram", mutate: func(c *Config) { c.PacketSize = protocol.MaxDatagramSize - protocol.VideoFrameHeaderSize + 1 }, wantErr: true},
		{name: "default shard packets", mutate: func(c *Config) { c.ShardPackets = nil }},
		{name: "nil calculator", mutate: func(c *Config) { c.ParityShards = nil }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
