// Package fec реализует прямую коррекцию ошибок для видео кадров.
//
// Кадр делится на data shard'ы фиксированного размера, к которым
// добавляются parity shard'ы Reed-Solomon. Каждый shard затем режется на
// shard-пакеты размером не больше полезной нагрузки одной датаграммы.
// Клиент восстанавливает кадр, получив любые dataShards из dataShards+parityShards.
//
// Пакет содержит только кодирование (сторона сервера) и адаптивный
// контроллер процента избыточности.
package fec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/reedsolomon"

	"github.com/arzzra/vrlink/pkg/protocol"
)

// MaxTotalShards предел data+parity shard'ов на один кадр
const MaxTotalShards = 255

var (
	// ErrEmptyBuffer кадр нулевой длины не кодируется
	ErrEmptyBuffer = errors.New("fec: empty buffer")
	// ErrShardBudget комбинация длины и процента превышает MaxTotalShards
	ErrShardBudget = errors.New("fec: shard budget exceeded")
)

// ShardPacketsFunc вычисляет количество shard-пакетов в одном shard'е
type ShardPacketsFunc func(length, percentage int) int

// ParityShardsFunc вычисляет количество parity shard'ов
type ParityShardsFunc func(dataShards, percentage int) int

// Config параметры кодека
type Config struct {
	PacketSize     int // Полезная нагрузка одного shard-пакета
	MaxTotalShards int // Предел data+parity shard'ов
	// ShardPackets nil - расчет через ShardPacketsFor по PacketSize и MaxTotalShards
	ShardPackets ShardPacketsFunc
	ParityShards ParityShardsFunc
}

// DefaultConfig возвращает конфигурацию, совместимую с клиентским декодером
func DefaultConfig() Config {
	return Config{
		PacketSize:     protocol.MaxVideoPayloadSize,
		MaxTotalShards: MaxTotalShards,
		ParityShards:   CalculateParityShards,
	}
}

// Validate проверяет конфигурацию кодека
func (c Config) Validate() error {
	if c.PacketSize <= 0 {
		return fmt.Errorf("PacketSize должен быть больше 0")
	}
	if c.PacketSize+protocol.VideoFrameHeaderSize > protocol.MaxDatagramSize {
		return fmt.Errorf("PacketSize %d с заголовком %d не помещается в датаграмму %d",
			c.PacketSize, protocol.VideoFrameHeaderSize, protocol.MaxDatagramSize)
	}
	// Минимум один data и два parity shard'а
	if c.MaxTotalShards < 3 || c.MaxTotalShards > 256 {
		return fmt.Errorf("MaxTotalShards должен быть в диапазоне 3-256")
	}
	if c.ParityShards == nil {
		return fmt.Errorf("функция расчета parity shard'ов обязательна")
	}
	return nil
}

// CalculateParityShards округляет долю parity shard'ов вверх
func CalculateParityShards(dataShards, percentage int) int {
	return (dataShards*percentage + 99) / 100
}

// ShardPacketsFor подбирает количество пакетов в shard'е так,
// чтобы data и parity shard'ы уместились в maxTotalShards.
// Обычно один пакет равен одному shard'у; для больших кадров несколько
// пакетов объединяются в один shard.
func ShardPacketsFor(length, percentage, packetSize, maxTotalShards int) int {
	maxDataShards := ((maxTotalShards-2)*100 + 99 + percentage) / (100 + percentage)
	minBlockSize := (length + maxDataShards - 1) / maxDataShards
	return (minBlockSize + packetSize - 1) / packetSize
}

// CalculateShardPackets ShardPacketsFor для DefaultConfig:
// MaxVideoPayloadSize и MaxTotalShards.
func CalculateShardPackets(length, percentage int) int {
	return ShardPacketsFor(length, percentage, protocol.MaxVideoPayloadSize, MaxTotalShards)
}

// Layout раскладка кадра на shard'ы
type Layout struct {
	ShardPackets int // Пакетов в одном shard'е
	BlockSize    int // Размер shard'а в байтах
	DataShards   int
	ParityShards int
}

// TotalShards возвращает сумму data и parity shard'ов
func (l Layout) TotalShards() int {
	return l.DataShards + l.ParityShards
}

// Codec кодирует кадры в ShardSet.
// Безопасен для конкурентного использования.
type Codec struct {
	cfg Config

	mu       sync.Mutex
	encoders map[[2]int]reedsolomon.Encoder

	buffers sync.Pool
}

// NewCodec создает кодек
func NewCodec(cfg Config) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация FEC: %w", err)
	}

	return &Codec{
		cfg:      cfg,
		encoders: make(map[[2]int]reedsolomon.Encoder),
		buffers: sync.Pool{
			New: func() interface{} {
				b := make([]byte, 0, cfg.PacketSize)
				return &b
			},
		},
	}, nil
}

// Config возвращает конфигурацию кодека
func (c *Codec) Config() Config {
	return c.cfg
}

// Plan рассчитывает раскладку без кодирования
func (c *Codec) Plan(length, percentage int) Layout {
	var shardPackets int
	if c.cfg.ShardPackets != nil {
		shardPackets = c.cfg.ShardPackets(length, percentage)
	} else {
		shardPackets = ShardPacketsFor(length, percentage, c.cfg.PacketSize, c.cfg.MaxTotalShards)
	}
	if shardPackets < 1 {
		shardPackets = 1
	}
	blockSize := shardPackets * c.cfg.PacketSize
	dataShards := (length + blockSize - 1) / blockSize

	return Layout{
		ShardPackets: shardPackets,
		BlockSize:    blockSize,
		DataShards:   dataShards,
		ParityShards: c.cfg.ParityShards(dataShards, percentage),
	}
}

// CheckShardBudget проверяет предусловие Encode.
// Вызывающая сторона обязана проверить комбинацию до вызова Encode.
func (c *Codec) CheckShardBudget(length, percentage int) error {
	if length <= 0 {
		return ErrEmptyBuffer
	}
	layout := c.Plan(length, percentage)
	if layout.TotalShards() > c.cfg.MaxTotalShards {
		return fmt.Errorf("%w: %d data + %d parity > %d",
			ErrShardBudget, layout.DataShards, layout.ParityShards, c.cfg.MaxTotalShards)
	}
	return nil
}

// Encode делит buf на shard'ы и вычисляет parity.
// Превышение MaxTotalShards - нарушение контракта и приводит к панике.
// Возвращенный ShardSet нужно освободить через Release; при ошибке
// все буферы уже освобождены.
func (c *Codec) Encode(buf []byte, percentage int) (*ShardSet, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyBuffer
	}

	layout := c.Plan(len(buf), percentage)
	if layout.TotalShards() > c.cfg.MaxTotalShards {
		panic(fmt.Sprintf("fec: %d shards exceed limit %d (length=%d percentage=%d)",
			layout.TotalShards(), c.cfg.MaxTotalShards, len(buf), percentage))
	}

	set := &ShardSet{
		Layout: layout,
		Length: len(buf),
		Shards: make([][]byte, layout.TotalShards()),
		codec:  c,
	}

	bs := layout.BlockSize
	for i := 0; i < layout.DataShards; i++ {
		start := i * bs
		end := start + bs
		if end <= len(buf) {
			// Полные shard'ы ссылаются на исходный буфер без копирования
			set.Shards[i] = buf[start:end]
			continue
		}
		padded := set.acquire(bs)
		n := copy(padded, buf[start:])
		clear(padded[n:])
		set.Shards[i] = padded
	}

	if layout.ParityShards == 0 {
		return set, nil
	}

	for i := 0; i < layout.ParityShards; i++ {
		parity := set.acquire(bs)
		clear(parity)
		set.Shards[layout.DataShards+i] = parity
	}

	enc, err := c.encoder(layout.DataShards, layout.ParityShards)
	if err != nil {
		set.Release()
		return nil, err
	}
	if err := enc.Encode(set.Shards); err != nil {
		set.Release()
		return nil, fmt.Errorf("ошибка Reed-Solomon кодирования: %w", err)
	}

	return set, nil
}

// encoder возвращает закешированный кодер для пары (data, parity)
func (c *Codec) encoder(dataShards, parityShards int) (reedsolomon.Encoder, error) {
	key := [2]int{dataShards, parityShards}

	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[key]; ok {
		return enc, nil
	}

	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания кодера %d+%d: %w", dataShards, parityShards, err)
	}
	c.encoders[key] = enc
	return enc, nil
}

func (c *Codec) getBuffer(size int) *[]byte {
	bp := c.buffers.Get().(*[]byte)
	if cap(*bp) < size {
		b := make([]byte, size)
		return &b
	}
	*bp = (*bp)[:size]
	return bp
}

func (c *Codec) putBuffer(bp *[]byte) {
	c.buffers.Put(bp)
}
