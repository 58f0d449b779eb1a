package archive

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/star/radarsim/internal/sim"
)

// Recorder appends messages to a zstd-compressed stream of msgpack
// values.
type Recorder struct {
	zw  *zstd.Encoder
	enc *msgpack.Encoder
	n   int
}

// NewRecorder starts a recording on w. Close must be called to flush the
// final zstd frame; it does not close w.
func NewRecorder(w io.Writer) (*Recorder, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	return &Recorder{zw: zw, enc: msgpack.NewEncoder(zw)}, nil
}

// Record appends one message.
func (r *Recorder) Record(m sim.Message) error {
	if err := r.enc.Encode(m); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	r.n++
	return nil
}

// Count returns the number of messages recorded.
func (r *Recorder) Count() int { return r.n }

// Close flushes and ends the zstd stream.
func (r *Recorder) Close() error {
	return r.zw.Close()
}

// Player reads back a recording made by Recorder.
type Player struct {
	zr  *zstd.Decoder
	dec *msgpack.Decoder
}

// NewPlayer opens a recording for reading.
func NewPlayer(rd io.Reader) (*Player, error) {
	zr, err := zstd.NewReader(rd)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return &Player{zr: zr, dec: msgpack.NewDecoder(zr)}, nil
}

// Next returns the next message, or io.EOF at the end of the recording.
func (p *Player) Next() (sim.Message, error) {
	var m sim.Message
	if err := p.dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return m, io.EOF
		}
		return m, fmt.Errorf("replay: %w", err)
	}
	return m, nil
}

// Close releases the decoder.
func (p *Player) Close() {
	p.zr.Close()
}
