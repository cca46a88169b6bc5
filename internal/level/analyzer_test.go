package level

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sinePCM(sr int, hz, amp float64, n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(amp * 32767 * math.Sin(2*math.Pi*hz*float64(i)/float64(sr)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestLevel_AveragesVoiceBins(t *testing.T) {
	freq := make([]uint8, BinCount)
	assert.Equal(t, 0.0, Level(freq))

	for i := VoiceLowBin; i < VoiceHighBin; i++ {
		freq[i] = 64
	}
	assert.InDelta(t, 0.5, Level(freq), 1e-9)

	for i := range freq {
		freq[i] = 255
	}
	assert.Equal(t, 1.0, Level(freq), "level is clamped")

	// bins outside the voice range are ignored
	outside := make([]uint8, BinCount)
	outside[0], outside[1], outside[100] = 255, 255, 255
	assert.Equal(t, 0.0, Level(outside))
}

func TestAnalyzer_SineProducesBoundedLevel(t *testing.T) {
	a := NewAnalyzer()
	tap := NewTap(FFTSize)
	a.Attach(tap)

	tap.WritePCM16(sinePCM(16000, 440, 0.6, FFTSize))
	var lvl float64
	for i := 0; i < 10; i++ {
		lvl = a.Tick()
		require.GreaterOrEqual(t, lvl, 0.0)
		require.LessOrEqual(t, lvl, 1.0)
	}
	assert.Greater(t, lvl, 0.0)
}

func TestAnalyzer_SilenceIsZero(t *testing.T) {
	a := NewAnalyzer()
	tap := NewTap(FFTSize)
	a.Attach(tap)
	tap.WritePCM16(make([]byte, FFTSize*2))
	assert.Equal(t, 0.0, a.Tick())
}

func TestAnalyzer_InactiveTapDropsToZeroOnNextTick(t *testing.T) {
	a := NewAnalyzer()
	tap := NewTap(FFTSize)
	a.Attach(tap)
	tap.WritePCM16(sinePCM(16000, 300, 0.8, FFTSize))
	require.Greater(t, a.Tick(), 0.0)

	tap.SetActive(false)
	assert.Equal(t, 0.0, a.Tick())
	assert.Equal(t, 0.0, a.Level())

	tap.SetActive(true)
	tap.Close()
	assert.False(t, tap.Active(), "closed taps cannot be resumed")
	assert.Equal(t, 0.0, a.Tick())
}

func TestAnalyzer_AttachSameTapKeepsState(t *testing.T) {
	a := NewAnalyzer()
	tap := NewTap(FFTSize)
	a.Attach(tap)
	tap.WritePCM16(sinePCM(16000, 300, 0.8, FFTSize))
	first := a.Tick()
	require.Greater(t, first, 0.0)

	a.Attach(tap)
	assert.Equal(t, first, a.Level(), "re-attaching the same tap must not rebuild the graph")

	other := NewTap(FFTSize)
	a.Attach(other)
	assert.Equal(t, 0.0, a.Level())
	assert.Same(t, other, a.Attached())

	a.Detach()
	assert.Nil(t, a.Attached())
	assert.Equal(t, 0.0, a.Tick())
}

func TestTap_WindowOrdersOldestFirst(t *testing.T) {
	tap := NewTap(4)
	tap.WriteSamples([]float64{0.1, 0.2, 0.3, 0.4, 0.5})
	dst := make([]float64, 4)
	require.True(t, tap.Window(dst))
	assert.Equal(t, []float64{0.2, 0.3, 0.4, 0.5}, dst)

	wide := make([]float64, 6)
	require.True(t, tap.Window(wide))
	assert.Equal(t, []float64{0, 0, 0.2, 0.3, 0.4, 0.5}, wide)
}

func TestLoop_StopIsIdempotent(t *testing.T) {
	var ticks int32
	l := StartLoop(time.Millisecond, func(time.Time) { atomic.AddInt32(&ticks, 1) })
	time.Sleep(20 * time.Millisecond)
	l.Stop()
	l.Stop()
	n := atomic.LoadInt32(&ticks)
	assert.Greater(t, n, int32(0))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&ticks), "no ticks after Stop")

	var nilLoop *Loop
	nilLoop.Stop()
}
