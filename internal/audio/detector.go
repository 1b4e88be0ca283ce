package audio

import (
	"math"
	"time"
)

// DetectorConfig tunes the energy-based utterance boundary detector.
type DetectorConfig struct {
	// SpeechThresholdDB is the RMS energy above which a chunk counts as
	// speech.
	SpeechThresholdDB float64
	// SilenceTimeout is how much trailing silence ends an utterance.
	SilenceTimeout time.Duration
	// MinSpeechDuration discards blips shorter than this.
	MinSpeechDuration time.Duration
	// PreSpeechBuffer is how much leading audio is kept from before the
	// detected speech onset, so the first syllable is not clipped.
	PreSpeechBuffer time.Duration
	// SampleRate of the samples fed to the detector.
	SampleRate int
}

// DefaultDetectorConfig returns defaults tuned for conversational speech
// at 16 kHz.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SpeechThresholdDB: -30,
		SilenceTimeout:    900 * time.Millisecond,
		MinSpeechDuration: 400 * time.Millisecond,
		PreSpeechBuffer:   300 * time.Millisecond,
		SampleRate:        16000,
	}
}

// Detector accumulates audio and reports when an utterance has completed.
// Durations are measured in samples, so detection is deterministic with
// respect to the audio itself rather than arrival timing.
type Detector struct {
	cfg DetectorConfig

	inSpeech       bool
	speechSamples  int
	silenceSamples int
	utterance      []float32
	lead           []float32
	leadCap        int
}

// NewDetector creates a detector with the given config.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Detector{
		cfg:     cfg,
		leadCap: durationSamples(cfg.PreSpeechBuffer, cfg.SampleRate),
	}
}

// Segment is the result of feeding one chunk.
type Segment struct {
	// Complete is true when an utterance boundary was detected; Samples
	// then holds the full utterance audio.
	Complete bool
	Samples  []float32
}

// Feed processes one chunk of samples.
func (d *Detector) Feed(samples []float32) Segment {
	if energyDB(samples) >= d.cfg.SpeechThresholdDB {
		d.onSpeech(samples)
		return Segment{}
	}
	return d.onSilence(samples)
}

func (d *Detector) onSpeech(samples []float32) {
	if !d.inSpeech {
		d.inSpeech = true
		d.speechSamples = 0
		d.utterance = append(d.utterance, d.lead...)
		d.lead = d.lead[:0]
	}
	d.silenceSamples = 0
	d.speechSamples += len(samples)
	d.utterance = append(d.utterance, samples...)
}

func (d *Detector) onSilence(samples []float32) Segment {
	d.pushLead(samples)
	if !d.inSpeech {
		return Segment{}
	}

	d.utterance = append(d.utterance, samples...)
	d.silenceSamples += len(samples)
	if d.silenceSamples < durationSamples(d.cfg.SilenceTimeout, d.cfg.SampleRate) {
		return Segment{}
	}

	d.inSpeech = false
	utterance := d.utterance
	d.utterance = nil

	if d.speechSamples < durationSamples(d.cfg.MinSpeechDuration, d.cfg.SampleRate) {
		return Segment{}
	}
	return Segment{Complete: true, Samples: utterance}
}

func (d *Detector) pushLead(samples []float32) {
	d.lead = append(d.lead, samples...)
	if len(d.lead) > d.leadCap {
		d.lead = d.lead[len(d.lead)-d.leadCap:]
	}
}

// Flush returns any buffered utterance audio and resets the detector. Used
// when a session closes mid-utterance.
func (d *Detector) Flush() []float32 {
	utterance := d.utterance
	d.utterance = nil
	d.inSpeech = false
	return utterance
}

func durationSamples(dur time.Duration, rate int) int {
	return int(dur.Seconds() * float64(rate))
}

func energyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
