package player

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/asticode/go-astits"
)

const (
	testAudioPID  = 256
	testFreqIndex = 3 // 48000 Hz
)

// makeADTSFrame builds one ADTS frame carrying payloadLen dummy bytes.
func makeADTSFrame(payloadLen int) []byte {
	frameLen := 7 + payloadLen
	frame := make([]byte, frameLen)
	frame[0] = 0xFF
	frame[1] = 0xF1 // MPEG-4, no CRC
	frame[2] = 0x40 | testFreqIndex<<2
	frame[3] = 0x80 | byte(frameLen>>11) // stereo
	frame[4] = byte(frameLen >> 3)
	frame[5] = byte(frameLen&0x07)<<5 | 0x1F
	frame[6] = 0xFC
	for i := 7; i < frameLen; i++ {
		frame[i] = byte(i)
	}
	return frame
}

// muxAudioChunk wraps ADTS frames into a transport-stream segment with a
// PAT, a PMT and one AAC PES carrying the given PTS.
func muxAudioChunk(t *testing.T, pts int64, frames int) []byte {
	t.Helper()
	var payload []byte
	for i := 0; i < frames; i++ {
		payload = append(payload, makeADTSFrame(64+i)...)
	}

	buf := &bytes.Buffer{}
	mux := astits.NewMuxer(context.Background(), buf)
	if err := mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: testAudioPID,
		StreamType:    astits.StreamTypeAACAudio,
	}); err != nil {
		t.Fatalf("add elementary stream: %v", err)
	}
	mux.SetPCRPID(testAudioPID)

	if _, err := mux.WriteData(&astits.MuxerData{
		PID:             testAudioPID,
		AdaptationField: &astits.PacketAdaptationField{RandomAccessIndicator: true},
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: pts},
				},
				StreamID: 0xC0,
			},
			Data: payload,
		},
	}); err != nil {
		t.Fatalf("write mux data: %v", err)
	}
	return buf.Bytes()
}

func boxType(data []byte) string {
	if len(data) < 8 {
		return ""
	}
	return string(data[4:8])
}

func readOutput(t *testing.T, d *Demuxer) DemuxOutput {
	t.Helper()
	select {
	case out, ok := <-d.Output():
		if !ok {
			t.Fatalf("demuxer died: %v", d.Err())
		}
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("no demuxer output")
	}
	return DemuxOutput{}
}

func TestDemuxerOutputPairing(t *testing.T) {
	d := NewDemuxer()
	defer d.Close()

	inputs := []DemuxInput{
		{Buffer: muxAudioChunk(t, 0, 2), Duration: 2.0},
		{Buffer: muxAudioChunk(t, 90000, 2), Duration: 1.5},
		{Buffer: muxAudioChunk(t, 180000, 2), Duration: 2.5},
	}
	ctx := context.Background()
	for i, in := range inputs {
		if err := d.Push(ctx, in); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		out := readOutput(t, d)
		if out.Duration != in.Duration {
			t.Errorf("output %d duration = %v, want %v", i, out.Duration, in.Duration)
		}
		if i == 0 {
			if got := boxType(out.Buffer); got != "ftyp" {
				t.Errorf("first output starts with %q box, want ftyp (init segment prefix)", got)
			}
		} else {
			if got := boxType(out.Buffer); got != "moof" {
				t.Errorf("output %d starts with %q box, want moof (data only)", i, got)
			}
		}
	}
}

func TestDemuxerDiesOnGarbage(t *testing.T) {
	d := NewDemuxer()
	defer d.Close()
	ctx := context.Background()

	if err := d.Push(ctx, DemuxInput{Buffer: bytes.Repeat([]byte{0x00}, 512), Duration: 2}); err != nil {
		t.Fatal(err)
	}
	select {
	case _, ok := <-d.Output():
		if ok {
			t.Fatal("garbage input produced an output")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("demuxer did not die on garbage input")
	}
	if d.Err() == nil {
		t.Error("no error recorded after fatal input")
	}
}

func TestSplitADTS(t *testing.T) {
	one := makeADTSFrame(32)
	two := append(append([]byte{}, one...), makeADTSFrame(48)...)

	frames, rate, err := splitADTS(two)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if len(frames[0]) != 32 || len(frames[1]) != 48 {
		t.Errorf("frame sizes = %d/%d, want 32/48", len(frames[0]), len(frames[1]))
	}
	if rate != 48000 {
		t.Errorf("sample rate = %d, want 48000", rate)
	}

	if _, _, err := splitADTS([]byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE}); err == nil {
		t.Error("lost sync not detected")
	}

	// A frame cut short by the PES boundary is deferred, not an error.
	frames, _, err = splitADTS(two[:len(two)-10])
	if err != nil || len(frames) != 1 {
		t.Errorf("partial tail: frames=%d err=%v, want 1/nil", len(frames), err)
	}
}
