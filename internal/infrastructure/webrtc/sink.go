package webrtc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sfulink/internal/core/domain"
	"sfulink/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"go.uber.org/zap"
)

var (
	ErrNoMedia      = errors.New("no media for role")
	ErrNotAttached  = errors.New("stream not attached")
	errSourceClosed = errors.New("source closed")
)

// RecordingSink writes the received video of subscriber streams to IVF files
type RecordingSink struct {
	dir    string
	logger *zap.SugaredLogger

	mu         sync.Mutex
	recordings map[domain.StreamID]*recording
}

type recording struct {
	writer *ivfwriter.IVFWriter
	path   string
	stop   chan struct{}
	done   chan struct{}
}

func NewRecordingSink(dir string, logger *zap.SugaredLogger) (*RecordingSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	return &RecordingSink{
		dir:        dir,
		logger:     logger,
		recordings: make(map[domain.StreamID]*recording),
	}, nil
}

func (s *RecordingSink) Attach(streamID domain.StreamID, role domain.Role, m ports.Media) error {
	if m.Remote == nil {
		return ErrNoMedia
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recordings[streamID]; ok {
		return nil
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s-%d.ivf", sanitize(string(streamID)), time.Now().UnixNano()))
	writer, err := ivfwriter.New(path)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	rec := &recording{
		writer: writer,
		path:   path,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.recordings[streamID] = rec
	go s.record(streamID, m.Remote, rec)

	s.logger.Infow("recording started", "stream_id", streamID, "path", path)
	return nil
}

func (s *RecordingSink) Detach(streamID domain.StreamID) error {
	s.mu.Lock()
	rec, ok := s.recordings[streamID]
	delete(s.recordings, streamID)
	s.mu.Unlock()

	if !ok {
		return ErrNotAttached
	}
	close(rec.stop)
	<-rec.done

	s.logger.Infow("recording stopped", "stream_id", streamID, "path", rec.path)
	return nil
}

// Path returns the file of an active recording
func (s *RecordingSink) Path(streamID domain.StreamID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[streamID]
	if !ok {
		return "", false
	}
	return rec.path, true
}

func (s *RecordingSink) record(streamID domain.StreamID, track ports.RemoteTrack, rec *recording) {
	defer close(rec.done)
	defer func() {
		if err := rec.writer.Close(); err != nil {
			s.logger.Warnw("failed to close recording", "stream_id", streamID, "error", err)
		}
	}()

	packets := make(chan *rtp.Packet, 64)
	go func() {
		defer close(packets)
		for {
			pkt, err := track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.logger.Debugw("remote track ended", "stream_id", streamID, "error", err)
				}
				return
			}
			select {
			case packets <- pkt:
			case <-rec.stop:
				return
			}
		}
	}()

	write := func(pkt *rtp.Packet) {
		if err := rec.writer.WriteRTP(pkt); err != nil {
			s.logger.Debugw("dropping packet", "stream_id", streamID, "error", err)
		}
	}

	for {
		select {
		case <-rec.stop:
			for {
				select {
				case pkt, ok := <-packets:
					if !ok {
						return
					}
					write(pkt)
				default:
					return
				}
			}
		case pkt, ok := <-packets:
			if !ok {
				<-rec.stop
				return
			}
			write(pkt)
		}
	}
}

// FileSource feeds an IVF file into publisher tracks, looping at end of file
type FileSource struct {
	path   string
	logger *zap.SugaredLogger

	mu      sync.Mutex
	sources map[domain.StreamID]chan struct{}
	wg      sync.WaitGroup
}

// ProfiledTrack is a local track that exposes its current encoding constraint
type ProfiledTrack interface {
	Profile() domain.Profile
}

func NewFileSource(path string, logger *zap.SugaredLogger) *FileSource {
	return &FileSource{
		path:    path,
		logger:  logger,
		sources: make(map[domain.StreamID]chan struct{}),
	}
}

func (s *FileSource) Attach(streamID domain.StreamID, role domain.Role, m ports.Media) error {
	if m.Local == nil {
		return ErrNoMedia
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[streamID]; ok {
		return nil
	}

	stop := make(chan struct{})
	s.sources[streamID] = stop
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.play(streamID, m.Local, stop)
	}()
	return nil
}

func (s *FileSource) Detach(streamID domain.StreamID) error {
	s.mu.Lock()
	stop, ok := s.sources[streamID]
	delete(s.sources, streamID)
	s.mu.Unlock()

	if !ok {
		return ErrNotAttached
	}
	close(stop)
	return nil
}

// Wait blocks until every playback goroutine returned
func (s *FileSource) Wait() {
	s.wg.Wait()
}

func (s *FileSource) play(streamID domain.StreamID, track ports.LocalTrack, stop <-chan struct{}) {
	for {
		err := s.playOnce(track, stop)
		if errors.Is(err, errSourceClosed) {
			return
		}
		if err != nil {
			s.logger.Warnw("file source stopped", "stream_id", streamID, "path", s.path, "error", err)
			return
		}
	}
}

// playOnce writes every frame of the file and returns nil at end of file.
func (s *FileSource) playOnce(track ports.LocalTrack, stop <-chan struct{}) error {
	file, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		return err
	}

	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	thin := frameThinner{fileFPS: int(time.Second / frameDuration)}

	for {
		select {
		case <-stop:
			return errSourceClosed
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if thin.skip(track) {
			continue
		}
		if err := track.WriteSample(frame, frameDuration); err != nil {
			return err
		}
	}
}

// frameThinner drops frames when the track's profile asks for a lower frame
// rate than the file carries.
type frameThinner struct {
	fileFPS int
	budget  int
}

func (f *frameThinner) skip(track ports.LocalTrack) bool {
	pt, ok := track.(ProfiledTrack)
	if !ok {
		return false
	}
	fps := pt.Profile().FrameRate
	if fps <= 0 || f.fileFPS <= fps {
		return false
	}
	f.budget += fps
	if f.budget >= f.fileFPS {
		f.budget -= f.fileFPS
		return false
	}
	return true
}

// RoleSink routes publisher media to one sink and subscriber media to another
type RoleSink struct {
	Publisher  ports.Sink
	Subscriber ports.Sink

	mu    sync.Mutex
	roles map[domain.StreamID]domain.Role
}

func (r *RoleSink) Attach(streamID domain.StreamID, role domain.Role, m ports.Media) error {
	target := r.target(role)
	if target == nil {
		return ErrNoMedia
	}
	if err := target.Attach(streamID, role, m); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roles == nil {
		r.roles = make(map[domain.StreamID]domain.Role)
	}
	r.roles[streamID] = role
	return nil
}

func (r *RoleSink) Detach(streamID domain.StreamID) error {
	r.mu.Lock()
	role, ok := r.roles[streamID]
	delete(r.roles, streamID)
	r.mu.Unlock()

	if !ok {
		return ErrNotAttached
	}
	return r.target(role).Detach(streamID)
}

func (r *RoleSink) target(role domain.Role) ports.Sink {
	if role == domain.RolePublisher {
		return r.Publisher
	}
	return r.Subscriber
}

func sanitize(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
