package voice

// Audio is the capture/playback device. StartCapture delivers little-endian
// int16 PCM frames on a goroutine owned by the implementation.
type Audio interface {
	StartCapture(onFrame func(frame []byte)) error
	StopCapture()
	PlayFrame(fromUserID string, frame []byte)
	SetOutputVolume(level float64)
}

// NopAudio discards everything. Used when the client runs headless.
type NopAudio struct{}

func (NopAudio) StartCapture(func([]byte)) error { return nil }
func (NopAudio) StopCapture()                    {}
func (NopAudio) PlayFrame(string, []byte)        {}
func (NopAudio) SetOutputVolume(float64)         {}
