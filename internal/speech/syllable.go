// SPDX-License-Identifier: MIT
package speech

import "math"

const (
	syllableProminenceDb = 4.0
	syllableCooldownSec  = 0.08
	syllableFloorDb      = -50.0
	emphasisDb           = 3.0
	emphasisAlpha        = 0.2
	energySmoothing      = 0.5
)

// SyllableDetector finds syllable nuclei as prominent voiced peaks of the
// smoothed hop energy. A peak is reported once the energy has fallen
// syllableProminenceDb below it, so events lag the nucleus by a few hops.
type SyllableDetector struct {
	cooldownHops int

	primed     bool
	smooth     float64
	valley     float64
	peak       float64
	peakVoiced bool
	rising     bool
	sinceLast  int

	peakMean float64
	peaks    int
}

// NewSyllableDetector returns a detector for hops of hopSec seconds.
func NewSyllableDetector(hopSec float64) *SyllableDetector {
	d := &SyllableDetector{cooldownHops: max(1, int(math.Ceil(syllableCooldownSec/hopSec)))}
	d.Reset()
	return d
}

// Reset clears the envelope state and the emphasis reference.
func (d *SyllableDetector) Reset() {
	*d = SyllableDetector{cooldownHops: d.cooldownHops, sinceLast: d.cooldownHops}
}

// Process consumes one hop of energy and reports whether a syllable nucleus
// ended here, and whether it stood out from the recent syllables.
func (d *SyllableDetector) Process(energyDb float64, voiced bool) (syllable, emphasis bool) {
	d.sinceLast++
	if !d.primed {
		d.smooth, d.valley, d.peak = energyDb, energyDb, energyDb
		d.primed = true
		return false, false
	}
	d.smooth += energySmoothing * (energyDb - d.smooth)

	if !d.rising {
		d.valley = math.Min(d.valley, d.smooth)
		if d.smooth-d.valley >= syllableProminenceDb {
			d.rising = true
			d.peak = d.smooth
			d.peakVoiced = voiced
		}
		return false, false
	}

	if d.smooth > d.peak {
		d.peak = d.smooth
	}
	d.peakVoiced = d.peakVoiced || voiced
	if d.peak-d.smooth < syllableProminenceDb {
		return false, false
	}

	d.rising = false
	d.valley = d.smooth
	if !d.peakVoiced || d.peak < syllableFloorDb || d.sinceLast < d.cooldownHops {
		return false, false
	}
	d.sinceLast = 0

	emphasis = d.peaks >= 2 && d.peak >= d.peakMean+emphasisDb
	if d.peaks == 0 {
		d.peakMean = d.peak
	} else {
		d.peakMean += emphasisAlpha * (d.peak - d.peakMean)
	}
	d.peaks++
	return true, emphasis
}
