package recording

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"go.uber.org/zap"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

const defaultPacketBuffer = 1024

// MediaTaps is implemented by the peer session manager.
type MediaTaps interface {
	AddTap(streamID domain.StreamID, fn func(*rtp.Packet)) (remove func(), err error)
}

// RTPInput turns tapped VP8 RTP packets into an IVF byte stream that an
// Encoder can read. Packets are queued without blocking the media path;
// when the encoder falls behind they are dropped.
type RTPInput struct {
	streamID domain.StreamID
	logger   *zap.SugaredLogger

	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.RWMutex
	closed  bool
	packets chan *rtp.Packet
	remove  func()

	dropped atomic.Int64
	done    chan struct{}
}

func NewRTPInput(streamID domain.StreamID, buffer int, logger *zap.SugaredLogger) *RTPInput {
	if buffer <= 0 {
		buffer = defaultPacketBuffer
	}
	pr, pw := io.Pipe()
	in := &RTPInput{
		streamID: streamID,
		logger:   logger,
		pr:       pr,
		pw:       pw,
		packets:  make(chan *rtp.Packet, buffer),
		done:     make(chan struct{}),
	}
	go in.run()
	return in
}

// TapSession registers a new RTPInput on the stream's peer session. Closing
// the input removes the tap.
func TapSession(taps MediaTaps, streamID domain.StreamID, buffer int, logger *zap.SugaredLogger) (*RTPInput, error) {
	in := NewRTPInput(streamID, buffer, logger)
	remove, err := taps.AddTap(streamID, in.WritePacket)
	if err != nil {
		_ = in.Close()
		return nil, err
	}
	in.mu.Lock()
	in.remove = remove
	in.mu.Unlock()
	return in, nil
}

// WritePacket queues a copy of pkt. It never blocks.
func (in *RTPInput) WritePacket(pkt *rtp.Packet) {
	raw, err := pkt.Marshal()
	if err != nil {
		return
	}
	clone := &rtp.Packet{}
	if err := clone.Unmarshal(raw); err != nil {
		return
	}

	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.closed {
		return
	}
	select {
	case in.packets <- clone:
	default:
		in.dropped.Add(1)
	}
}

func (in *RTPInput) Read(p []byte) (int, error) {
	return in.pr.Read(p)
}

// Close removes the tap and ends the IVF stream once queued packets are
// written. The reader sees EOF afterwards.
func (in *RTPInput) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	remove := in.remove
	close(in.packets)
	in.mu.Unlock()

	if remove != nil {
		remove()
	}
	return nil
}

// Abort closes the input and discards anything the reader has not consumed.
func (in *RTPInput) Abort() {
	_ = in.Close()
	_ = in.pr.Close()
}

// Done is closed when the writer goroutine has exited.
func (in *RTPInput) Done() <-chan struct{} { return in.done }

func (in *RTPInput) Dropped() int64 { return in.dropped.Load() }

func (in *RTPInput) run() {
	defer close(in.done)

	var (
		writer *ivfwriter.IVFWriter
		failed bool
	)
	for pkt := range in.packets {
		if failed {
			continue
		}
		if writer == nil {
			w, err := ivfwriter.NewWith(in.pw)
			if err != nil {
				in.fail(err)
				failed = true
				continue
			}
			writer = w
		}
		if err := writer.WriteRTP(pkt); err != nil {
			in.fail(err)
			failed = true
		}
	}

	if writer != nil && !failed {
		if err := writer.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			in.logger.Debugw("failed to close ivf writer", "stream_id", in.streamID, "error", err)
		}
	}
	_ = in.pw.Close()

	if n := in.dropped.Load(); n > 0 {
		in.logger.Warnw("recording input dropped packets", "stream_id", in.streamID, "dropped", n)
	}
}

func (in *RTPInput) fail(err error) {
	if errors.Is(err, io.ErrClosedPipe) {
		in.logger.Infow("recording input reader closed", "stream_id", in.streamID)
	} else {
		in.logger.Warnw("recording input failed", "stream_id", in.streamID, "error", err)
	}
	_ = in.pw.CloseWithError(err)
}
