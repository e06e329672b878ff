package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDebugIsGatedOnDevelopment(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core), false)
	t.Cleanup(func() { Use(zap.NewNop(), false) })

	Debug("hidden %d", 1)
	Info("room %s created", "r1")
	Warn("listener on %s failed", "r1")
	assert.Equal(t, 2, logs.Len())
	assert.Equal(t, "room r1 created", logs.All()[0].Message)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)

	Use(zap.New(core), true)
	Debug("shown %d", 2)
	assert.Equal(t, 1, logs.FilterMessage("shown 2").Len())
}

func TestDebugIsSafeAlongsideReconfiguration(t *testing.T) {
	t.Cleanup(func() { Use(zap.NewNop(), false) })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Use(zap.NewNop(), true)
		}()
		go func() {
			defer wg.Done()
			Debug("tick")
		}()
	}
	wg.Wait()
}
