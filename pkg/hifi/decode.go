// Package hifi decodes anomaly detection results uploaded by the camera's
// vision application: a JSON envelope carrying a base64 FlatBuffers
// HifiResults table.
package hifi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	flatbuffers "github.com/google/flatbuffers/go"
)

// ResultType names a result payload layout.
type ResultType string

// AnomalyHifi is the only supported payload layout.
const AnomalyHifi ResultType = "anomaly_hifi"

var (
	// ErrMalformedResult is returned for truncated or corrupt FlatBuffers data.
	ErrMalformedResult = errors.New("malformed hifi result buffer")
	// ErrGridShape is returned when the heatmap length is not Width*Height.
	ErrGridShape = errors.New("heatmap length does not match width x height")
	// ErrUnknownResultType is returned for result types other than AnomalyHifi.
	ErrUnknownResultType = errors.New("unknown result type")
)

// MissingInferenceDataError is returned when an envelope has no inference
// payload to decode.
type MissingInferenceDataError struct {
	Reason string
}

func (e *MissingInferenceDataError) Error() string {
	return "envelope does not contain inference data: " + e.Reason
}

// ParseResultType validates a user supplied result type.
func ParseResultType(s string) (ResultType, error) {
	switch t := ResultType(strings.TrimSpace(s)); t {
	case AnomalyHifi:
		return t, nil
	default:
		return "", fmt.Errorf("%w %q (supported: %s)", ErrUnknownResultType, s, AnomalyHifi)
	}
}

type inference struct {
	O *string `json:"O"`
}

type envelope struct {
	Inferences []inference `json:"Inferences"`
}

// Extract returns the decoded payload of the first inference in envelope.
// The envelope is either a single result object or the list of result
// objects returned by the console, in which case the first one is used.
func Extract(data []byte) ([]byte, error) {
	raw := []byte(strings.TrimSpace(string(data)))
	if len(raw) == 0 {
		return nil, &MissingInferenceDataError{Reason: "empty document"}
	}

	var env envelope
	if raw[0] == '[' {
		var list []envelope
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("parse result list: %w", err)
		}
		if len(list) == 0 {
			return nil, &MissingInferenceDataError{Reason: "result list is empty"}
		}
		env = list[0]
	} else if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse result envelope: %w", err)
	}

	if len(env.Inferences) == 0 {
		return nil, &MissingInferenceDataError{Reason: "no Inferences entries"}
	}
	payload := env.Inferences[0].O
	if payload == nil {
		return nil, &MissingInferenceDataError{Reason: `first inference has no "O" field`}
	}

	buf, err := base64.StdEncoding.DecodeString(*payload)
	if err != nil {
		return nil, fmt.Errorf("decode inference payload: %w", err)
	}
	return buf, nil
}

// Presence records which fields were written into the buffer. Absent
// fields decode to their zero default.
type Presence struct {
	Width        bool `json:"width" yaml:"width"`
	Height       bool `json:"height" yaml:"height"`
	AnomalyScore bool `json:"anomaly_score" yaml:"anomaly_score"`
	Heatmap      bool `json:"heatmap" yaml:"heatmap"`
}

// Result is a decoded HifiResults table.
type Result struct {
	Width        uint32    `json:"width" yaml:"width"`
	Height       uint32    `json:"height" yaml:"height"`
	AnomalyScore float32   `json:"anomaly_score" yaml:"anomaly_score"`
	Heatmap      []float32 `json:"heatmap" yaml:"heatmap"`
	Present      Presence  `json:"present" yaml:"present"`
}

// Decode parses buf as a HifiResults table. Corrupt input yields
// ErrMalformedResult.
func Decode(buf []byte) (res *Result, err error) {
	if len(buf) < 2*flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedResult, len(buf))
	}

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", ErrMalformedResult, r)
		}
	}()

	root := uint64(flatbuffers.GetUOffsetT(buf))
	if root+flatbuffers.SizeUOffsetT > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: root offset %d out of range", ErrMalformedResult, root)
	}

	t := GetRootAsHifiResults(buf, 0)
	res = &Result{
		Width:        t.Width(),
		Height:       t.Height(),
		AnomalyScore: t.AnomalyScore(),
		Present: Presence{
			Width:        t.has(slotWidth),
			Height:       t.has(slotHeight),
			AnomalyScore: t.has(slotAnomalyScore),
			Heatmap:      t.has(slotHeatmap),
		},
	}

	if res.Present.Heatmap {
		if err := checkHeatmap(t); err != nil {
			return nil, err
		}
		n := t.HeatmapLength()
		res.Heatmap = make([]float32, n)
		for i := range n {
			res.Heatmap[i] = t.Heatmap(i)
		}
	}
	return res, nil
}

// checkHeatmap makes sure the vector lies inside the buffer before anything
// is allocated for it.
func checkHeatmap(t *HifiResults) error {
	tab := t.Table()
	size := uint64(len(tab.Bytes))

	field := uint64(tab.Pos) + uint64(tab.Offset(slotHeatmap))
	if field+flatbuffers.SizeUOffsetT > size {
		return fmt.Errorf("%w: heatmap field out of range", ErrMalformedResult)
	}
	vec := field + uint64(flatbuffers.GetUOffsetT(tab.Bytes[field:]))
	if vec+flatbuffers.SizeUOffsetT > size {
		return fmt.Errorf("%w: heatmap vector out of range", ErrMalformedResult)
	}
	n := uint64(flatbuffers.GetUOffsetT(tab.Bytes[vec:]))
	if vec+flatbuffers.SizeUOffsetT+n*flatbuffers.SizeFloat32 > size {
		return fmt.Errorf("%w: heatmap claims %d values", ErrMalformedResult, n)
	}
	return nil
}

// Grid reshapes the heatmap into Width rows of Height values.
func (r *Result) Grid() ([][]float32, error) {
	rows, cols := uint64(r.Width), uint64(r.Height)
	if rows*cols != uint64(len(r.Heatmap)) {
		return nil, fmt.Errorf("%w: %d values for %dx%d", ErrGridShape, len(r.Heatmap), rows, cols)
	}
	grid := make([][]float32, rows)
	for i := range grid {
		grid[i] = r.Heatmap[uint64(i)*cols : uint64(i+1)*cols]
	}
	return grid, nil
}

// Encode serializes r as a HifiResults buffer. Zero-valued scalars are
// omitted, as flatc-generated builders do.
func Encode(r *Result) []byte {
	b := flatbuffers.NewBuilder(64 + 4*len(r.Heatmap))

	var heatmap flatbuffers.UOffsetT
	if r.Heatmap != nil {
		HifiResultsStartHeatmapVector(b, len(r.Heatmap))
		for i := len(r.Heatmap) - 1; i >= 0; i-- {
			b.PrependFloat32(r.Heatmap[i])
		}
		heatmap = b.EndVector(len(r.Heatmap))
	}

	HifiResultsStart(b)
	HifiResultsAddWidth(b, r.Width)
	HifiResultsAddHeight(b, r.Height)
	HifiResultsAddAnomalyScore(b, r.AnomalyScore)
	if r.Heatmap != nil {
		HifiResultsAddHeatmap(b, heatmap)
	}
	b.Finish(HifiResultsEnd(b))
	return b.FinishedBytes()
}
