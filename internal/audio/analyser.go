package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"

	"emocall/internal/domain"
)

const analysisBlock = 1024

// bandCenters are the Goertzel probe frequencies in Hz.
var bandCenters = []float64{125, 250, 500, 1000, 2000, 4000, 7000}

// Analyser computes level and band energy from mono s16le PCM.
type Analyser struct {
	sampleRate float64
	freqs      []float64

	mu    sync.RWMutex
	level domain.AudioLevel
}

func NewAnalyser(sampleRate int) *Analyser {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	nyquist := float64(sampleRate) / 2
	freqs := make([]float64, 0, len(bandCenters))
	for _, f := range bandCenters {
		if f < nyquist {
			freqs = append(freqs, f)
		}
	}
	return &Analyser{sampleRate: float64(sampleRate), freqs: freqs}
}

// Level returns the latest sample.
func (a *Analyser) Level() domain.AudioLevel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	level := a.level
	level.Bands = append([]float64(nil), a.level.Bands...)
	return level
}

// Process analyses one block of PCM bytes. A trailing odd byte is ignored.
func (a *Analyser) Process(pcm []byte) {
	n := len(pcm) / 2
	if n == 0 {
		return
	}

	samples := make([]float64, n)
	var sumSquares, peak float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
		samples[i] = v
		sumSquares += v * v
		if abs := math.Abs(v); abs > peak {
			peak = abs
		}
	}

	bands := make([]float64, len(a.freqs))
	for i, f := range a.freqs {
		bands[i] = math.Min(1, goertzel(samples, f, a.sampleRate))
	}

	a.mu.Lock()
	a.level = domain.AudioLevel{RMS: math.Sqrt(sumSquares / float64(n)), Peak: peak, Bands: bands}
	a.mu.Unlock()
}

// Run consumes r until EOF, updating the level for every read.
func (a *Analyser) Run(r io.Reader) error {
	buf := make([]byte, analysisBlock*2)
	pending := 0
	for {
		n, err := r.Read(buf[pending:])
		pending += n
		if whole := pending &^ 1; whole > 0 {
			a.Process(buf[:whole])
			pending = copy(buf, buf[whole:pending])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// goertzel returns the amplitude of freq in samples, normalized so a full
// scale sine at freq reads 1.
func goertzel(samples []float64, freq, rate float64) float64 {
	coeff := 2 * math.Cos(2*math.Pi*freq/rate)
	var s1, s2 float64
	for _, x := range samples {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) / (float64(len(samples)) / 2)
}
