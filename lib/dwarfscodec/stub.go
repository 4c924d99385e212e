package dwarfscodec

import "github.com/CrazyForks/dwarfs/lib/dwarfsfmt"

// stubCodec satisfies the Codec interface for algorithms named by
// spec.md Section 6 that this build does not implement (lzma, brotli,
// flac, ricepp — see DESIGN.md: spec.md Section 1 treats concrete
// codecs as "named codecs over a uniform interface" and excludes their
// implementation from this specification's core). Compress and
// NewDecoder both fail with ErrCodecUnavailable so a writer configured
// with one of these names gets a clear error rather than a silent
// behavior change, and Available() lets callers probe before use.
type stubCodec struct {
	t    dwarfsfmt.CompressionType
	name string
}

func newStubCodec(t dwarfsfmt.CompressionType, name string) Codec {
	return stubCodec{t: t, name: name}
}

func (s stubCodec) Type() dwarfsfmt.CompressionType { return s.t }

func (stubCodec) Available() bool { return false }

func (s stubCodec) Compress([]byte, string) ([]byte, error) {
	return nil, errUnavailable(s.name)
}

func (s stubCodec) NewDecoder([]byte, int, string) (FrameDecoder, error) {
	return nil, errUnavailable(s.name)
}

func errUnavailable(name string) error {
	return &unavailableError{name: name}
}

type unavailableError struct{ name string }

func (e *unavailableError) Error() string {
	return "codec " + e.name + ": " + ErrCodecUnavailable.Error()
}

func (e *unavailableError) Unwrap() error { return ErrCodecUnavailable }
