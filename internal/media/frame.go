package media

import "errors"

// FrameDecoder extracts a still image from a video container. The resolver
// uses it as a last resort for tokens whose only media is a video.
type FrameDecoder interface {
	// DecodeFirstFrame returns the first decodable frame of the video,
	// encoded as a still image (PNG).
	DecodeFirstFrame(video []byte) ([]byte, error)
}

// UnsupportedFrameDecoder declines every stream. It is the default decoder,
// so the video fallback path degrades to a miss unless a real decoder is
// plugged in.
type UnsupportedFrameDecoder struct{}

func (UnsupportedFrameDecoder) DecodeFirstFrame([]byte) ([]byte, error) {
	return nil, errors.New("video frame extraction is not supported in this build")
}
