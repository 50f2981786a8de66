package clock

import (
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// EpochBase is subtracted from wall time to form STATION.STATUS ids,
// matching the JS8Call API convention.
const EpochBase int64 = 1499299200000

// NowMs returns the current wall time in milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// StatusID derives the STATION.STATUS _ID from a millisecond timestamp.
func StatusID(nowMs int64) int64 {
	return nowMs - EpochBase
}

// StatusIDString returns the STATION.STATUS _ID in its wire form.
func StatusIDString(nowMs int64) string {
	return strconv.FormatInt(StatusID(nowMs), 10)
}

// Noise produces the randomized signal readings attached to emulated
// receive frames. It is safe for concurrent use.
type Noise struct {
	mutex sync.Mutex
	rng   *rand.Rand
}

// NewNoise creates a noise source with the given seed.
func NewNoise(seed int64) *Noise {
	return &Noise{rng: rand.New(rand.NewSource(seed))}
}

// NewClockNoise creates a noise source seeded from the clock.
func NewClockNoise() *Noise {
	return NewNoise(time.Now().UnixNano())
}

// SNR returns a signal-to-noise reading in dB, uniform over [-20, 20].
func (n *Noise) SNR() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.rng.Intn(41) - 20
}

// TDrift returns a timing drift reading, uniform over [-2.0, 2.0].
func (n *Noise) TDrift() float64 {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.rng.Float64()*4.0 - 2.0
}
