// SPDX-License-Identifier: MIT
package speech

const bandAlpha = 0.3

// FrequencyBand defines the name and frequency range for an energy band.
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
	Ratio  float64 // smoothed share of the energy of all bands
	energy float64
}

// NumBands is the number of speech bands.
const NumBands = 4

// Band indices.
const (
	BandVoice     = iota // 80-300 Hz, fundamental
	BandVowel            // 300-1000 Hz, first formant
	BandPresence         // 1000-4000 Hz, second formant and consonants
	BandSibilance        // 4000-8000 Hz
)

func defaultBands() [NumBands]FrequencyBand {
	return [NumBands]FrequencyBand{
		{Name: "voice", LowHz: 80, HighHz: 300},
		{Name: "vowel", LowHz: 300, HighHz: 1000},
		{Name: "presence", LowHz: 1000, HighHz: 4000},
		{Name: "sibilance", LowHz: 4000, HighHz: 8000},
	}
}

// BandRatios tracks how the energy between 80 Hz and 8 kHz is split across
// the speech bands.
type BandRatios struct {
	bands  [NumBands]FrequencyBand
	primed bool
}

// NewBandRatios returns a tracker over the default speech bands.
func NewBandRatios() *BandRatios {
	return &BandRatios{bands: defaultBands()}
}

// Reset forgets the smoothed ratios.
func (b *BandRatios) Reset() {
	b.bands = defaultBands()
	b.primed = false
}

// Bands returns the current band state.
func (b *BandRatios) Bands() []FrequencyBand { return b.bands[:] }

// Process sums the power of mags into the bands, using freqs for the centre
// frequency of each bin, and returns the smoothed ratios. Frames without
// energy in any band leave the ratios unchanged.
func (b *BandRatios) Process(mags, freqs []float64) [NumBands]float64 {
	for i := range b.bands {
		b.bands[i].energy = 0
	}
	var total float64
	for i, m := range mags {
		if i >= len(freqs) {
			break
		}
		f := freqs[i]
		for j := range b.bands {
			band := &b.bands[j]
			if f >= band.LowHz && f < band.HighHz {
				band.energy += m * m
				total += m * m
				break
			}
		}
	}

	var out [NumBands]float64
	for i := range b.bands {
		band := &b.bands[i]
		if total > 0 {
			r := band.energy / total
			if b.primed {
				band.Ratio += bandAlpha * (r - band.Ratio)
			} else {
				band.Ratio = r
			}
		}
		out[i] = band.Ratio
	}
	if total > 0 {
		b.primed = true
	}
	return out
}
