package player

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/asticode/go-astits"

	"liverec/internal/metrics"
)

// DemuxInput is one transport-stream chunk tagged with its play duration.
type DemuxInput struct {
	Buffer   []byte
	Duration float64
}

// DemuxOutput carries fragmented-MP4 bytes for one input chunk. The first
// output of a Demuxer has the init segment prefixed; later outputs are
// media-data only.
type DemuxOutput struct {
	Buffer   []byte
	Duration float64
}

// Demuxer converts transport-stream chunks into appendable fMP4
// fragments. One remux state persists across chunks so decode times stay
// continuous; processing is strictly one input in flight, enforced by the
// unbuffered input and output channels. A Demuxer is single-use: a seek
// closes it and starts a fresh instance, so timing state never leaks
// across timelines. A processing error kills the instance: the output
// channel closes and Err reports the cause.
type Demuxer struct {
	in   chan DemuxInput
	out  chan DemuxOutput
	quit chan struct{}

	mu       sync.Mutex
	err      error
	quitOnce sync.Once
}

func NewDemuxer() *Demuxer {
	d := &Demuxer{
		in:   make(chan DemuxInput),
		out:  make(chan DemuxOutput),
		quit: make(chan struct{}),
	}
	go d.loop()
	return d
}

var errDemuxerClosed = errors.New("demuxer closed")

// Push hands one chunk to the pipeline, blocking while a previous chunk
// is still being processed or its output has not been consumed.
func (d *Demuxer) Push(ctx context.Context, in DemuxInput) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.quit:
		return d.closeErr()
	case d.in <- in:
		return nil
	}
}

// Output yields one fragment per pushed chunk. Closed when the Demuxer
// dies or is closed.
func (d *Demuxer) Output() <-chan DemuxOutput { return d.out }

// Err returns the fatal processing error, or nil after a plain Close.
func (d *Demuxer) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Demuxer) closeErr() error {
	if err := d.Err(); err != nil {
		return err
	}
	return errDemuxerClosed
}

func (d *Demuxer) Close() {
	d.quitOnce.Do(func() { close(d.quit) })
}

func (d *Demuxer) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	metrics.DemuxFailuresTotal.Inc()
	d.Close()
}

func (d *Demuxer) loop() {
	defer close(d.out)
	state := newRemuxState()
	for {
		select {
		case <-d.quit:
			return
		case in := <-d.in:
			data, err := state.process(in.Buffer)
			if err != nil {
				d.fail(err)
				return
			}
			metrics.DemuxSegmentsTotal.Inc()
			select {
			case <-d.quit:
				return
			case d.out <- DemuxOutput{Buffer: data, Duration: in.Duration}:
			}
		}
	}
}

const videoTimescale = 90000

// remuxState is the stateful transcoder: track layout, parameter sets and
// decode-time continuity survive across chunks of one generation.
type remuxState struct {
	init        *mp4.InitSegment
	initWritten bool
	seqNr       uint32

	videoPID, audioPID         uint16
	videoTrackID, audioTrackID uint32

	spsNALUs, ppsNALUs [][]byte
	sampleRate         int

	videoBaseSet bool
	videoBase    int64 // first observed video DTS, 90kHz
	audioBaseSet bool
	audioBase    int64 // first observed audio PTS, sample-rate ticks
	nextAudioDTS uint64
	lastVideoDur uint32
}

func newRemuxState() *remuxState {
	return &remuxState{lastVideoDur: 3600}
}

type accessUnit struct {
	data []byte
	pts  int64
	dts  int64
}

func (s *remuxState) process(tsBytes []byte) ([]byte, error) {
	videoAUs, audioPES, err := s.parseTS(tsBytes)
	if err != nil {
		return nil, err
	}

	videoSamples, err := s.videoSamples(videoAUs)
	if err != nil {
		return nil, err
	}
	audioSamples, err := s.audioSamples(audioPES)
	if err != nil {
		return nil, err
	}
	if len(videoSamples) == 0 && len(audioSamples) == 0 {
		return nil, errors.New("chunk contains no media samples")
	}

	if err := s.ensureInit(len(videoSamples) > 0, len(audioSamples) > 0); err != nil {
		return nil, err
	}

	var trackIDs []uint32
	if s.videoTrackID != 0 {
		trackIDs = append(trackIDs, s.videoTrackID)
	}
	if s.audioTrackID != 0 {
		trackIDs = append(trackIDs, s.audioTrackID)
	}
	s.seqNr++
	frag, err := mp4.CreateMultiTrackFragment(s.seqNr, trackIDs)
	if err != nil {
		return nil, fmt.Errorf("create fragment: %w", err)
	}
	for _, sample := range videoSamples {
		if err := frag.AddFullSampleToTrack(sample, s.videoTrackID); err != nil {
			return nil, fmt.Errorf("add video sample: %w", err)
		}
	}
	for _, sample := range audioSamples {
		if err := frag.AddFullSampleToTrack(sample, s.audioTrackID); err != nil {
			return nil, fmt.Errorf("add audio sample: %w", err)
		}
	}

	var buf bytes.Buffer
	if !s.initWritten {
		if err := s.init.Encode(&buf); err != nil {
			return nil, fmt.Errorf("encode init segment: %w", err)
		}
		s.initWritten = true
	}
	if err := frag.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode fragment: %w", err)
	}
	return buf.Bytes(), nil
}

// parseTS walks the transport stream, learning the elementary PIDs from
// the PMT and collecting complete PES payloads per track.
func (s *remuxState) parseTS(tsBytes []byte) (videoAUs, audioPES []accessUnit, err error) {
	dmx := astits.NewDemuxer(context.Background(), bytes.NewReader(tsBytes))
	for {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			return nil, nil, fmt.Errorf("parse transport stream: %w", err)
		}
		switch {
		case data.PMT != nil:
			for _, es := range data.PMT.ElementaryStreams {
				switch es.StreamType {
				case astits.StreamTypeH264Video:
					s.videoPID = es.ElementaryPID
				case astits.StreamTypeAACAudio:
					s.audioPID = es.ElementaryPID
				}
			}
		case data.PES != nil:
			au := accessUnit{data: data.PES.Data}
			if h := data.PES.Header; h != nil && h.OptionalHeader != nil {
				if h.OptionalHeader.PTS != nil {
					au.pts = h.OptionalHeader.PTS.Base
				}
				au.dts = au.pts
				if h.OptionalHeader.DTS != nil {
					au.dts = h.OptionalHeader.DTS.Base
				}
			}
			switch data.PID {
			case s.videoPID:
				videoAUs = append(videoAUs, au)
			case s.audioPID:
				audioPES = append(audioPES, au)
			}
		}
	}
	return videoAUs, audioPES, nil
}

// videoSamples converts Annex-B access units into length-prefixed AVC
// samples, harvesting parameter sets for the init segment on the way.
func (s *remuxState) videoSamples(aus []accessUnit) ([]mp4.FullSample, error) {
	samples := make([]mp4.FullSample, 0, len(aus))
	for i, au := range aus {
		nalus := avc.ExtractNalusFromByteStream(au.data)
		var payload []byte
		sync := false
		for _, nalu := range nalus {
			if len(nalu) == 0 {
				continue
			}
			switch avc.GetNaluType(nalu[0]) {
			case avc.NALU_SPS:
				s.spsNALUs = upsertNALU(s.spsNALUs, nalu)
				continue
			case avc.NALU_PPS:
				s.ppsNALUs = upsertNALU(s.ppsNALUs, nalu)
				continue
			case avc.NALU_AUD:
				continue
			case avc.NALU_IDR:
				sync = true
			}
			var length [4]byte
			binary.BigEndian.PutUint32(length[:], uint32(len(nalu)))
			payload = append(payload, length[:]...)
			payload = append(payload, nalu...)
		}
		if len(payload) == 0 {
			continue
		}
		if !s.videoBaseSet {
			s.videoBase = au.dts
			s.videoBaseSet = true
		}

		dur := s.lastVideoDur
		if i+1 < len(aus) {
			if diff := aus[i+1].dts - au.dts; diff > 0 {
				dur = uint32(diff)
				s.lastVideoDur = dur
			}
		}
		flags := mp4.NonSyncSampleFlags
		if sync {
			flags = mp4.SyncSampleFlags
		}
		samples = append(samples, mp4.FullSample{
			Sample: mp4.Sample{
				Flags:                 flags,
				Dur:                   dur,
				Size:                  uint32(len(payload)),
				CompositionTimeOffset: int32(au.pts - au.dts),
			},
			DecodeTime: uint64(au.dts - s.videoBase),
			Data:       payload,
		})
	}
	return samples, nil
}

const aacSamplesPerFrame = 1024

// audioSamples splits ADTS payloads into raw AAC frames. Decode times run
// in sample-rate ticks and accumulate frame by frame, anchored once at
// the first observed PES timestamp.
func (s *remuxState) audioSamples(pes []accessUnit) ([]mp4.FullSample, error) {
	var samples []mp4.FullSample
	for _, au := range pes {
		frames, sampleRate, err := splitADTS(au.data)
		if err != nil {
			return nil, err
		}
		if len(frames) == 0 {
			continue
		}
		if s.sampleRate == 0 {
			s.sampleRate = sampleRate
		}
		if !s.audioBaseSet {
			s.audioBase = au.pts * int64(s.sampleRate) / videoTimescale
			s.audioBaseSet = true
			s.nextAudioDTS = 0
		}
		for _, frame := range frames {
			samples = append(samples, mp4.FullSample{
				Sample: mp4.Sample{
					Flags: mp4.SyncSampleFlags,
					Dur:   aacSamplesPerFrame,
					Size:  uint32(len(frame)),
				},
				DecodeTime: s.nextAudioDTS,
				Data:       frame,
			})
			s.nextAudioDTS += aacSamplesPerFrame
		}
	}
	return samples, nil
}

func (s *remuxState) ensureInit(haveVideo, haveAudio bool) error {
	if s.init != nil {
		return nil
	}
	init := mp4.CreateEmptyInit()
	if haveVideo {
		if len(s.spsNALUs) == 0 || len(s.ppsNALUs) == 0 {
			return errors.New("video stream carries no parameter sets")
		}
		init.AddEmptyTrack(videoTimescale, "video", "und")
		trak := init.Moov.Traks[len(init.Moov.Traks)-1]
		if err := trak.SetAVCDescriptor("avc1", s.spsNALUs, s.ppsNALUs, true); err != nil {
			return fmt.Errorf("avc descriptor: %w", err)
		}
		s.videoTrackID = trak.Tkhd.TrackID
	}
	if haveAudio {
		init.AddEmptyTrack(uint32(s.sampleRate), "audio", "und")
		trak := init.Moov.Traks[len(init.Moov.Traks)-1]
		if err := trak.SetAACDescriptor(aac.AAClc, s.sampleRate); err != nil {
			return fmt.Errorf("aac descriptor: %w", err)
		}
		s.audioTrackID = trak.Tkhd.TrackID
	}
	s.init = init
	return nil
}

// upsertNALU keeps one copy of each distinct parameter set.
func upsertNALU(set [][]byte, nalu []byte) [][]byte {
	for _, existing := range set {
		if bytes.Equal(existing, nalu) {
			return set
		}
	}
	return append(set, append([]byte(nil), nalu...))
}

var adtsSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000,
	22050, 16000, 12000, 11025, 8000, 7350,
}

// splitADTS cuts a PES payload into raw AAC frames, stripping each ADTS
// header.
func splitADTS(payload []byte) (frames [][]byte, sampleRate int, err error) {
	for len(payload) > 0 {
		if len(payload) < 7 {
			break // trailing partial header
		}
		if payload[0] != 0xFF || payload[1]&0xF0 != 0xF0 {
			return nil, 0, errors.New("lost ADTS sync")
		}
		protectionAbsent := payload[1]&0x01 != 0
		freqIdx := (payload[2] >> 2) & 0x0F
		if int(freqIdx) >= len(adtsSampleRates) {
			return nil, 0, fmt.Errorf("bad ADTS sampling frequency index %d", freqIdx)
		}
		frameLen := int(payload[3]&0x03)<<11 | int(payload[4])<<3 | int(payload[5])>>5
		if frameLen < 7 || frameLen > len(payload) {
			break // frame continues in the next PES
		}
		headerLen := 7
		if !protectionAbsent {
			headerLen = 9
		}
		if frameLen <= headerLen {
			return nil, 0, errors.New("empty ADTS frame")
		}
		frames = append(frames, payload[headerLen:frameLen])
		sampleRate = adtsSampleRates[freqIdx]
		payload = payload[frameLen:]
	}
	return frames, sampleRate, nil
}
