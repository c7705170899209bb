// Package feed decodes detector output for the headless frame loop.
//
// The detector process writes one JSON object per frame and line:
//
//	{"width":1280,"height":720,"detections":[{"class_name":"car","confidence":0.9,"bbox":[x1,y1,x2,y2]}]}
//
// Blank lines are skipped. A malformed line is reported as a [*LineError] and
// does not end the stream; callers log it and keep reading.
package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/navassist/pkg/types"
)

// maxLineSize bounds a single frame line. Crowded scenes with a few hundred
// detections stay well below it.
const maxLineSize = 1 << 20

// ErrInvalidFrame is wrapped by errors for frames that decode but cannot be
// processed.
var ErrInvalidFrame = errors.New("feed: invalid frame")

// Frame is one decoded detector frame.
type Frame struct {
	// Seq is the 1-based line number the frame was read from.
	Seq int

	Width      float64
	Height     float64
	Detections []types.Detection
}

// LineError reports a line that could not be turned into a [Frame].
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("feed: line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

type wireFrame struct {
	Width      float64         `json:"width"`
	Height     float64         `json:"height"`
	Detections []wireDetection `json:"detections"`
}

type wireDetection struct {
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

// Reader reads frames from a JSON-lines stream. Next is not safe for
// concurrent use.
type Reader struct {
	sc     *bufio.Scanner
	closer io.Closer
	line   int
}

// NewReader returns a Reader consuming r. When r is also an [io.Closer],
// [Reader.Close] closes it.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	rd := &Reader{sc: sc}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd
}

// Close closes the underlying source, which unblocks a pending Next on
// pipes and other pollable inputs. It may be called from any goroutine.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Next returns the next frame. It returns io.EOF once the stream is
// exhausted and a [*LineError] for a line that does not hold a valid frame;
// reading may continue after a LineError.
func (r *Reader) Next() (Frame, error) {
	for r.sc.Scan() {
		r.line++
		raw := r.sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		f, err := decode(raw)
		if err != nil {
			return Frame{}, &LineError{Line: r.line, Err: err}
		}
		f.Seq = r.line
		return f, nil
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, fmt.Errorf("feed: read: %w", err)
	}
	return Frame{}, io.EOF
}

func decode(raw []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return Frame{}, err
	}
	if w.Width <= 0 {
		return Frame{}, fmt.Errorf("%w: width must be positive, got %g", ErrInvalidFrame, w.Width)
	}
	f := Frame{
		Width:      w.Width,
		Height:     w.Height,
		Detections: make([]types.Detection, 0, len(w.Detections)),
	}
	for i, d := range w.Detections {
		if len(d.BBox) != 4 {
			return Frame{}, fmt.Errorf("%w: detection %d: bbox needs 4 values, got %d", ErrInvalidFrame, i, len(d.BBox))
		}
		f.Detections = append(f.Detections, types.Detection{
			ClassName:  d.ClassName,
			Confidence: d.Confidence,
			Box:        types.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]},
		})
	}
	return f, nil
}
