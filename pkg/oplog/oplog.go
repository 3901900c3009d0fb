// Package oplog implements the engine's operation log: an append-only,
// mmap-backed file of records that every other subsystem replays to recover
// or stay in sync, grounded on the teacher's WAL persister
// (pkg/wal/mmap.go / pkg/cache/wal/mmap.go: magic-tagged header,
// binary.LittleEndian record framing, unix.Mmap/Munmap/Msync, growth by
// doubling), generalized from a single fixed record type (SliceEntry) to an
// {EventType, Payload} envelope so every subsystem (block index, chunk
// index, bitmap allocator) can register its own consumer against the same
// log instead of each subsystem keeping a private WAL.
package oplog

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
)

const (
	magic       = "DDLG" // dedupv1 log
	version     = uint16(1)
	headerSize  = 64
	growthFactor = 2
)

// EventType identifies the kind of event a Record carries. Subsystems each
// own a disjoint range so a consumer can ignore events for other subsystems
// cheaply, without decoding the payload.
type EventType uint16

const (
	EventUnknown EventType = iota

	EventBlockMappingWritten
	EventBlockMappingWriteFailed

	EventContainerOpened
	EventContainerCommitted
	EventContainerCommitFailed
	EventContainerMerged
	EventContainerMoved
	EventContainerDeleted

	EventChunkIndexEntryCommitted
)

// ReplayMode tells a Consumer which of the three replay paths invoked it, so
// consumers whose side effects aren't naturally idempotent can branch (e.g.
// "skip if already applied" during Background replay but not during Direct).
type ReplayMode int

const (
	// ReplayDirect is a synchronous, producer-invoked replay: the event was
	// just appended and is handed to every consumer before Append returns.
	ReplayDirect ReplayMode = iota
	// ReplayDirtyStart runs exactly once at startup after an unclean
	// shutdown, replaying every record from the start of the log.
	ReplayDirtyStart
	// ReplayBackground runs periodically at a bounded rate to let consumers
	// that only need eventual consistency (the background importer) drain
	// the log without holding up foreground writers.
	ReplayBackground
)

// Record is a single decoded log entry.
type Record struct {
	LogID     uint64
	EventType EventType
	Payload   []byte
}

// LogReplayContext is passed to every Consumer.Replay call.
type LogReplayContext struct {
	ReplayMode ReplayMode
}

// Consumer receives replayed records for the event types it's interested
// in. Replay must tolerate seeing the same LogID more than once: the same
// event is delivered once via Direct replay (by the producer) and again via
// Background/DirtyStart replay if the consumer's own durable state hasn't
// caught up yet.
type Consumer interface {
	Replay(ctx LogReplayContext, rec Record) error
}

// Log is an append-only sequence of records in a single mmap'd file that
// grows by doubling when full; it is not split into segments and never
// wraps around to overwrite old records. A single append lock serializes writers; replay and readers
// do not block appends past the point they started from.
type Log struct {
	appendMu sync.Mutex

	consumersMu sync.RWMutex
	consumers   map[string]Consumer

	f    *os.File
	data []byte
	size uint64

	nextLogID    uint64
	nextOffset   uint64
	lastFlushed  uint64 // offset up to which DirtyStart replay has already run
}

// Open opens or creates the log file at path, sized to at least initialSize
// bytes.
func Open(path string, initialSize int64) (*Log, error) {
	if initialSize <= 0 {
		initialSize = 16 * 1024 * 1024
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}

	l := &Log{
		f:         f,
		consumers: make(map[string]Consumer),
	}

	if !exists {
		if err := f.Truncate(initialSize); err != nil {
			f.Close()
			return nil, err
		}
		if err := l.mapFile(uint64(initialSize)); err != nil {
			f.Close()
			return nil, err
		}
		l.nextOffset = headerSize
		l.nextLogID = 1
		l.writeHeader()
		if err := unix.Msync(l.data, unix.MS_SYNC); err != nil {
			return nil, err
		}
		return l, nil
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := l.mapFile(uint64(info.Size())); err != nil {
		f.Close()
		return nil, err
	}
	if err := l.readHeader(); err != nil {
		l.unmapAndClose()
		return nil, err
	}
	return l, nil
}

func (l *Log) mapFile(size uint64) error {
	data, err := unix.Mmap(int(l.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	l.data = data
	l.size = size
	return nil
}

func (l *Log) writeHeader() {
	copy(l.data[0:4], magic)
	binary.LittleEndian.PutUint16(l.data[4:6], version)
	binary.LittleEndian.PutUint64(l.data[6:14], l.nextLogID)
	binary.LittleEndian.PutUint64(l.data[14:22], l.nextOffset)
}

func (l *Log) readHeader() error {
	if string(l.data[0:4]) != magic {
		return engineerr.New(engineerr.KindCorruption, "oplog.Open", "", fmt.Errorf("bad magic"))
	}
	if binary.LittleEndian.Uint16(l.data[4:6]) != version {
		return engineerr.New(engineerr.KindCorruption, "oplog.Open", "", fmt.Errorf("version mismatch"))
	}
	l.nextLogID = binary.LittleEndian.Uint64(l.data[6:14])
	l.nextOffset = binary.LittleEndian.Uint64(l.data[14:22])
	return nil
}

// RegisterConsumer registers c under name, overwriting any prior
// registration with the same name. Consumers registered before DirtyStart
// replay runs will see every record written since the log began; the
// replay position is not persisted across restarts.
func (l *Log) RegisterConsumer(name string, c Consumer) {
	l.consumersMu.Lock()
	defer l.consumersMu.Unlock()
	l.consumers[name] = c
}

// recordSize returns the on-disk size of a record with the given payload
// length: logID(8) + eventType(2) + payloadLen(4) + payload + crc(4).
func recordSize(payloadLen int) uint64 {
	return 8 + 2 + 4 + uint64(payloadLen) + 4
}

// Append writes a new record and immediately replays it (ReplayDirect) to
// every registered consumer before returning, so a producer never observes
// its own write as "pending".
func (l *Log) Append(eventType EventType, payload []byte) (uint64, error) {
	l.appendMu.Lock()

	size := recordSize(len(payload))
	if err := l.ensureSpace(size); err != nil {
		l.appendMu.Unlock()
		return 0, err
	}

	logID := l.nextLogID
	offset := l.nextOffset

	binary.LittleEndian.PutUint64(l.data[offset:], logID)
	offset += 8
	binary.LittleEndian.PutUint16(l.data[offset:], uint16(eventType))
	offset += 2
	binary.LittleEndian.PutUint32(l.data[offset:], uint32(len(payload)))
	offset += 4
	copy(l.data[offset:], payload)
	offset += uint64(len(payload))

	crc := crc32Of(logID, eventType, payload)
	binary.LittleEndian.PutUint32(l.data[offset:], crc)
	offset += 4

	l.nextLogID++
	l.nextOffset = offset
	l.writeHeader()

	if err := unix.Msync(l.data, unix.MS_ASYNC); err != nil {
		l.appendMu.Unlock()
		return 0, err
	}

	l.appendMu.Unlock()

	rec := Record{LogID: logID, EventType: eventType, Payload: payload}
	if err := l.deliver(LogReplayContext{ReplayMode: ReplayDirect}, rec); err != nil {
		return logID, err
	}

	return logID, nil
}

func (l *Log) deliver(ctx LogReplayContext, rec Record) error {
	l.consumersMu.RLock()
	defer l.consumersMu.RUnlock()
	for _, c := range l.consumers {
		if err := c.Replay(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// ensureSpace grows the mmap'd file (doubling) until it can hold `needed`
// more bytes past nextOffset. Caller must hold appendMu.
func (l *Log) ensureSpace(needed uint64) error {
	if l.nextOffset+needed <= l.size {
		return nil
	}
	newSize := l.size
	for l.nextOffset+needed > newSize {
		newSize *= growthFactor
	}
	if err := unix.Munmap(l.data); err != nil {
		return err
	}
	if err := l.f.Truncate(int64(newSize)); err != nil {
		return err
	}
	return l.mapFile(newSize)
}

// ReplayDirtyStart replays every record from the beginning of the log to
// every registered consumer; no earlier replay point is remembered. Call this exactly once at startup after an unclean
// shutdown, before serving any new requests.
func (l *Log) ReplayDirtyStart() error {
	return l.replayFrom(headerSize, ReplayDirtyStart)
}

// ReplayBackground replays records from the last DirtyStart/Background
// replay point forward. Intended to be called periodically at a bounded
// rate from a background goroutine.
func (l *Log) ReplayBackground() error {
	return l.replayFrom(l.lastFlushed, ReplayBackground)
}

func (l *Log) replayFrom(start uint64, mode ReplayMode) error {
	offset := start
	if offset < headerSize {
		offset = headerSize
	}
	end := l.nextOffset

	for offset < end {
		rec, newOffset, err := l.readRecordAt(offset)
		if err != nil {
			return err
		}
		if err := l.deliver(LogReplayContext{ReplayMode: mode}, rec); err != nil {
			return err
		}
		offset = newOffset
	}
	l.lastFlushed = offset
	return nil
}

func (l *Log) readRecordAt(offset uint64) (Record, uint64, error) {
	if offset+14 > l.size {
		return Record{}, 0, engineerr.New(engineerr.KindCorruption, "oplog.readRecordAt", "", fmt.Errorf("truncated record header"))
	}
	logID := binary.LittleEndian.Uint64(l.data[offset:])
	offset += 8
	eventType := EventType(binary.LittleEndian.Uint16(l.data[offset:]))
	offset += 2
	payloadLen := binary.LittleEndian.Uint32(l.data[offset:])
	offset += 4

	if offset+uint64(payloadLen)+4 > l.size {
		return Record{}, 0, engineerr.New(engineerr.KindCorruption, "oplog.readRecordAt", "", fmt.Errorf("truncated payload"))
	}
	payload := append([]byte(nil), l.data[offset:offset+uint64(payloadLen)]...)
	offset += uint64(payloadLen)

	storedCRC := binary.LittleEndian.Uint32(l.data[offset:])
	offset += 4

	if crc32Of(logID, eventType, payload) != storedCRC {
		return Record{}, 0, engineerr.New(engineerr.KindCorruption, "oplog.readRecordAt", "", fmt.Errorf("crc mismatch at log id %d", logID))
	}

	return Record{LogID: logID, EventType: eventType, Payload: payload}, offset, nil
}

// Close unmaps and closes the log file.
func (l *Log) Close() error {
	return l.unmapAndClose()
}

func (l *Log) unmapAndClose() error {
	if l.data != nil {
		_ = unix.Msync(l.data, unix.MS_SYNC)
		if err := unix.Munmap(l.data); err != nil {
			return err
		}
		l.data = nil
	}
	if l.f != nil {
		if err := l.f.Close(); err != nil {
			return err
		}
		l.f = nil
	}
	return nil
}
