package queue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridgeerr"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

// Spool is a segmented, append-only on-disk log used when the
// in-memory queue crosses its high watermark (spec.md §4.4). Each frame
// is [len:u32][crc32:u32][payload], payload being the same
// record.Codec encoding used on the ingest wire, so a spooled record is
// byte-identical to what would have been sent to ingest.
//
// A single process holds an exclusive lock file for the spool
// directory's lifetime; a second process attempting to open the same
// path gets bridgeerr.SpoolLocked rather than silently corrupting the
// log.
type Spool struct {
	dir          string
	segmentBytes int64
	maxBytes     int64
	codec        record.Codec
	lockFile     *os.File

	mu          sync.Mutex
	segments    []int // ordered segment numbers still on disk
	headSegment int
	headOffset  int64 // write position within current tail segment
	headFile    *os.File
	totalBytes  int64

	// read cursor into the oldest segment, advanced by Drain.
	readSegIdx int // index into segments[] of the segment currently being read
	readFile   *os.File
	readOffset int64

	corruptFrames int64 // frames discarded for a CRC or decode failure
}

type recoveryState struct {
	CommittedSegments []int `json:"committed_segments"`
	HeadSegment       int   `json:"head_segment"`
	HeadOffset        int64 `json:"head_offset"`
	ReadSegment       int   `json:"read_segment"`
	ReadOffset        int64 `json:"read_offset"`
}

// OpenSpool opens (or creates) the spool directory at dir, acquiring
// its exclusive lock and replaying recovery.json to resume exactly
// where a prior process left off.
func OpenSpool(dir string, segmentBytes, maxBytes int64, codec record.Codec) (*Spool, error) {
	if err := os.MkdirAll(filepath.Join(dir, "segments"), 0o755); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.SpoolCorrupt, "create spool directory", err)
	}

	lockPath := filepath.Join(dir, "lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, bridgeerr.Wrap(bridgeerr.SpoolLocked, "spool directory already locked: "+dir, err)
		}
		return nil, bridgeerr.Wrap(bridgeerr.SpoolCorrupt, "create spool lock", err)
	}

	s := &Spool{dir: dir, segmentBytes: segmentBytes, maxBytes: maxBytes, codec: codec, lockFile: lockFile}

	if err := s.recover(); err != nil {
		lockFile.Close()
		os.Remove(lockPath)
		return nil, err
	}

	return s, nil
}

func (s *Spool) recoveryPath() string { return filepath.Join(s.dir, "recovery.json") }
func (s *Spool) segmentPath(n int) string {
	return filepath.Join(s.dir, "segments", fmt.Sprintf("seg-%08d.log", n))
}

func (s *Spool) recover() error {
	data, err := os.ReadFile(s.recoveryPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return bridgeerr.Wrap(bridgeerr.SpoolCorrupt, "read recovery state", err)
		}
		// Fresh spool: start at segment 0.
		s.segments = []int{0}
		s.headSegment = 0
		return s.openHeadForAppend()
	}

	var rs recoveryState
	if err := json.Unmarshal(data, &rs); err != nil {
		return bridgeerr.Wrap(bridgeerr.SpoolCorrupt, "parse recovery state", err)
	}
	s.segments = rs.CommittedSegments
	if len(s.segments) == 0 {
		s.segments = []int{0}
	}
	s.headSegment = rs.HeadSegment
	s.headOffset = rs.HeadOffset
	s.readSegIdx = rs.ReadSegment
	s.readOffset = rs.ReadOffset

	for _, n := range s.segments {
		info, err := os.Stat(s.segmentPath(n))
		if err == nil {
			s.totalBytes += info.Size()
		}
	}

	return s.openHeadForAppend()
}

func (s *Spool) openHeadForAppend() error {
	f, err := os.OpenFile(s.segmentPath(s.headSegment), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.SpoolCorrupt, "open head segment", err)
	}
	if _, err := f.Seek(s.headOffset, io.SeekStart); err != nil {
		f.Close()
		return bridgeerr.Wrap(bridgeerr.SpoolCorrupt, "seek head segment", err)
	}
	s.headFile = f
	return nil
}

// Append writes rec as a new frame to the tail segment, rolling to a
// new segment if the current one would exceed segmentBytes.
func (s *Spool) Append(rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBytes > 0 && s.totalBytes >= s.maxBytes {
		return bridgeerr.New(bridgeerr.SpoolFull, "disk spool at capacity")
	}

	payload, err := s.codec.Encode(rec)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, "encode spool frame", err)
	}

	frame := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[8:], payload)

	if s.headOffset+int64(len(frame)) > s.segmentBytes && s.headOffset > 0 {
		if err := s.rollSegmentLocked(); err != nil {
			return err
		}
	}

	n, err := s.headFile.Write(frame)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.SpoolCorrupt, "write spool frame", err)
	}
	s.headOffset += int64(n)
	s.totalBytes += int64(n)

	return s.saveRecoveryLocked()
}

func (s *Spool) rollSegmentLocked() error {
	if err := s.headFile.Sync(); err != nil {
		return bridgeerr.Wrap(bridgeerr.SpoolCorrupt, "sync segment before roll", err)
	}
	s.headFile.Close()

	s.headSegment++
	s.segments = append(s.segments, s.headSegment)
	s.headOffset = 0
	return s.openHeadForAppend()
}

func (s *Spool) saveRecoveryLocked() error {
	rs := recoveryState{
		CommittedSegments: s.segments,
		HeadSegment:       s.headSegment,
		HeadOffset:        s.headOffset,
		ReadSegment:       s.readSegIdx,
		ReadOffset:        s.readOffset,
	}
	data, err := json.Marshal(rs)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.Internal, "marshal recovery state", err)
	}
	tmp := s.recoveryPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return bridgeerr.Wrap(bridgeerr.SpoolCorrupt, "write recovery state", err)
	}
	return os.Rename(tmp, s.recoveryPath())
}

// Drain reads up to maxBatch records (bounded by maxBytes of decoded
// payload) from the oldest unread segment forward. Frames failing CRC
// verification are discarded and counted rather than aborting the
// drain, matching spec.md §4.4's corruption-tolerance requirement.
func (s *Spool) Drain(maxBatch, maxBytes int) ([]*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*record.Record
	usedBytes := 0

	for len(out) < maxBatch && usedBytes < maxBytes {
		if s.readSegIdx >= len(s.segments) {
			break
		}
		segNum := s.segments[s.readSegIdx]

		if s.readFile == nil {
			f, err := os.Open(s.segmentPath(segNum))
			if err != nil {
				return out, bridgeerr.Wrap(bridgeerr.SpoolCorrupt, "open read segment", err)
			}
			if _, err := f.Seek(s.readOffset, io.SeekStart); err != nil {
				f.Close()
				return out, bridgeerr.Wrap(bridgeerr.SpoolCorrupt, "seek read segment", err)
			}
			s.readFile = f
		}

		rec, advanced, atEOF, err := s.readOneFrame(s.readFile)
		if err != nil {
			return out, err
		}
		if atEOF {
			s.readFile.Close()
			s.readFile = nil
			s.readSegIdx++
			s.readOffset = 0
			s.maybeReclaimLocked(segNum)
			continue
		}
		s.readOffset += advanced
		if rec != nil {
			out = append(out, rec)
			usedBytes += rec.EstimateBytes()
		}
	}

	if len(out) > 0 {
		_ = s.saveRecoveryLocked()
	}
	return out, nil
}

// readOneFrame reads and validates a single frame. A CRC mismatch is
// not fatal: it is reported via corruptFrames-style discard (the frame
// is skipped, rec is nil, advanced reflects bytes consumed) so the
// drain continues past a damaged record.
func (s *Spool) readOneFrame(f *os.File) (rec *record.Record, advanced int64, atEOF bool, err error) {
	header := make([]byte, 8)
	n, readErr := io.ReadFull(f, header)
	if readErr == io.EOF || (readErr == io.ErrUnexpectedEOF && n == 0) {
		return nil, 0, true, nil
	}
	if readErr != nil {
		return nil, 0, true, nil // truncated header at segment tail; treat as EOF
	}

	length := binary.BigEndian.Uint32(header[0:4])
	wantCRC := binary.BigEndian.Uint32(header[4:8])

	payload := make([]byte, length)
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, 0, true, nil // truncated payload at segment tail; treat as EOF
	}

	advanced = int64(8 + len(payload))

	if crc32.ChecksumIEEE(payload) != wantCRC {
		// Corrupt frame: skip it but keep draining (spec.md §4.4, "frames
		// failing CRC are discarded and counted").
		s.corruptFrames++
		return nil, advanced, false, nil
	}

	decoded, decodeErr := s.codec.Decode(payload)
	if decodeErr != nil {
		s.corruptFrames++
		return nil, advanced, false, nil
	}
	return decoded, advanced, false, nil
}

// CorruptFrames reports the number of spool frames discarded for failing
// CRC verification or decoding since this Spool was opened (spec.md §7,
// "spool_corrupt ... loud metric").
func (s *Spool) CorruptFrames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corruptFrames
}

// maybeReclaimLocked deletes a fully-read, non-head segment to bound
// disk usage once every frame in it has been drained.
func (s *Spool) maybeReclaimLocked(segNum int) {
	if segNum == s.headSegment {
		return
	}
	path := s.segmentPath(segNum)
	if info, err := os.Stat(path); err == nil {
		s.totalBytes -= info.Size()
	}
	os.Remove(path)
	if len(s.segments) > 0 && s.segments[0] == segNum {
		s.segments = s.segments[1:]
		if s.readSegIdx > 0 {
			s.readSegIdx--
		}
	}
}

// Size reports current on-disk spool usage in bytes.
func (s *Spool) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

// Close releases the exclusive lock file and any open segment handles.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.headFile != nil {
		s.headFile.Close()
	}
	if s.readFile != nil {
		s.readFile.Close()
	}
	if s.lockFile != nil {
		s.lockFile.Close()
		os.Remove(filepath.Join(s.dir, "lock"))
	}
	return nil
}
