package fec

// ShardSet результат кодирования одного кадра.
// Data shard'ы, кроме дополненного последнего, ссылаются на исходный
// буфер и действительны только пока он не изменен.
type ShardSet struct {
	Layout

	// Length исходная длина кадра в байтах
	Length int
	// Shards сначала data, затем parity shard'ы, все длиной BlockSize
	Shards [][]byte

	codec    *Codec
	owned    []*[]byte
	released bool
}

// Data возвращает data shard'ы
func (s *ShardSet) Data() [][]byte {
	return s.Shards[:s.DataShards]
}

// Parity возвращает parity shard'ы
func (s *ShardSet) Parity() [][]byte {
	return s.Shards[s.DataShards:]
}

// Padding количество нулевых байт в конце последнего data shard'а
func (s *ShardSet) Padding() int {
	return s.DataShards*s.BlockSize - s.Length
}

// Release возвращает собственные буферы в пул.
// После Release shard'ы использовать нельзя. Повторный вызов безопасен.
func (s *ShardSet) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true

	for _, bp := range s.owned {
		s.codec.putBuffer(bp)
	}
	s.owned = nil
	s.Shards = nil
}

func (s *ShardSet) acquire(size int) []byte {
	bp := s.codec.getBuffer(size)
	s.owned = append(s.owned, bp)
	return *bp
}
