package oplog

import (
	"encoding/binary"
	"hash/crc32"
)

// crc32Of computes the checksum covering a record's logID, eventType and
// payload, matching the fields readRecordAt re-derives it from so a torn
// write (crash mid-append) is detected on the next replay.
func crc32Of(logID uint64, eventType EventType, payload []byte) uint32 {
	h := crc32.NewIEEE()
	var buf [10]byte
	binary.LittleEndian.PutUint64(buf[0:8], logID)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(eventType))
	h.Write(buf[:])
	h.Write(payload)
	return h.Sum32()
}
