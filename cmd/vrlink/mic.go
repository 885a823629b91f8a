package main

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// micSink учитывает звук микрофона шлема. В CLI нет аудио устройства,
// поэтому PCM только считается и пишется в журнал на уровне trace.
type micSink struct {
	log    *logrus.Entry
	frames atomic.Uint64
	bytes  atomic.Uint64
}

func newMicSink(log *logrus.Entry) *micSink {
	return &micSink{log: log}
}

func (s *micSink) PlayMicAudio(pcm []byte) error {
	frames := s.frames.Add(1)
	s.bytes.Add(uint64(len(pcm)))
	s.log.WithFields(logrus.Fields{
		"frame":   frames,
		"samples": len(pcm) / 2,
	}).Trace("звук микрофона")
	return nil
}

func (s *micSink) Totals() (frames, bytes uint64) {
	return s.frames.Load(), s.bytes.Load()
}
