package models

// Track is one audio track in a studio project.
type Track struct {
	Name     string  `json:"name"`
	AudioRef string  `json:"audioRef"` // Reference to the uploaded audio, opaque to this service
	Waveform string  `json:"waveform"` // Precomputed waveform summary
	Order    float64 `json:"order"`    // Fractional ordering key
}

// MixerChannel holds the per-track mixer settings.
type MixerChannel struct {
	Volume float64 `json:"volume"`
	Pan    float64 `json:"pan"`
	Muted  bool    `json:"muted"`
	Soloed bool    `json:"soloed"`
}

// MasterSettings holds the project-wide master bus settings.
type MasterSettings struct {
	BPM        float64    `json:"bpm"`
	EQ         EQ         `json:"eq"`
	Compressor Compressor `json:"compressor"`
	LUFSTarget float64    `json:"lufsTarget"`
	Preset     string     `json:"masteringPreset"`
}

// EQ is a three-band equalizer setting.
type EQ struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// Compressor holds master compressor parameters.
type Compressor struct {
	Threshold float64 `json:"threshold"`
	Ratio     float64 `json:"ratio"`
	Attack    float64 `json:"attack"`
	Release   float64 `json:"release"`
}
