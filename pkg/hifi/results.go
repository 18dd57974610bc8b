package hifi

import flatbuffers "github.com/google/flatbuffers/go"

// HifiResults is the accessor for the NeuralaRecognizer.HifiResults table:
//
//	table HifiResults {
//	  Width: uint;
//	  Height: uint;
//	  AnomalyScore: float;
//	  Heatmap: [float];
//	}
//
// Field accessors return the schema default when a field is absent.
type HifiResults struct {
	_tab flatbuffers.Table
}

// vtable slots
const (
	slotWidth        flatbuffers.VOffsetT = 4
	slotHeight       flatbuffers.VOffsetT = 6
	slotAnomalyScore flatbuffers.VOffsetT = 8
	slotHeatmap      flatbuffers.VOffsetT = 10
)

func GetRootAsHifiResults(buf []byte, offset flatbuffers.UOffsetT) *HifiResults {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &HifiResults{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *HifiResults) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *HifiResults) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *HifiResults) Width() uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(slotWidth))
	if o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *HifiResults) Height() uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(slotHeight))
	if o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *HifiResults) AnomalyScore() float32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(slotAnomalyScore))
	if o != 0 {
		return rcv._tab.GetFloat32(o + rcv._tab.Pos)
	}
	return 0.0
}

func (rcv *HifiResults) Heatmap(j int) float32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(slotHeatmap))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.GetFloat32(a + flatbuffers.UOffsetT(j*4))
	}
	return 0
}

func (rcv *HifiResults) HeatmapLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(slotHeatmap))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

// has reports whether slot is present in the vtable.
func (rcv *HifiResults) has(slot flatbuffers.VOffsetT) bool {
	return rcv._tab.Offset(slot) != 0
}

func HifiResultsStart(builder *flatbuffers.Builder) {
	builder.StartObject(4)
}

func HifiResultsAddWidth(builder *flatbuffers.Builder, width uint32) {
	builder.PrependUint32Slot(0, width, 0)
}

func HifiResultsAddHeight(builder *flatbuffers.Builder, height uint32) {
	builder.PrependUint32Slot(1, height, 0)
}

func HifiResultsAddAnomalyScore(builder *flatbuffers.Builder, anomalyScore float32) {
	builder.PrependFloat32Slot(2, anomalyScore, 0.0)
}

func HifiResultsAddHeatmap(builder *flatbuffers.Builder, heatmap flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(3, heatmap, 0)
}

func HifiResultsStartHeatmapVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(4, numElems, 4)
}

func HifiResultsEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
