package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the engine.
// Use these keys consistently so log lines stay greppable and aggregable.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // correlation id for a request spanning subsystems
	KeySpanID  = "span_id"  // id for a single step within a request

	// ========================================================================
	// Request / Operation
	// ========================================================================
	KeyOperation = "operation" // Write, Read, Delete, Commit, Replay, Import, ...
	KeyRequestID = "request_id"
	KeyStatus    = "status"
	KeyStatusMsg = "status_msg"

	// ========================================================================
	// Addressing
	// ========================================================================
	KeyVolumeID      = "volume_id"
	KeyBlockID       = "block_id"
	KeyBlockVersion  = "block_version"
	KeyChunkFP       = "chunk_fp"
	KeyContainerID   = "container_id"
	KeyContainerAddr = "container_addr"
	KeyOffset        = "offset"
	KeySize          = "size"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorKind  = "error_kind"
	KeySource     = "source"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"

	// ========================================================================
	// Key-Value Index
	// ========================================================================
	KeyIndexName  = "index_name"
	KeyIndexKind  = "index_kind" // memory, bolt, badger, diskhash
	KeyDirtyItems = "dirty_items"
	KeyPinned     = "pinned"

	// ========================================================================
	// Operation Log (WAL)
	// ========================================================================
	KeyLogEntrySeq = "log_entry_seq"
	KeyReplayMode  = "replay_mode" // direct, dirty-start, background

	// ========================================================================
	// Container Storage
	// ========================================================================
	KeyCacheHit      = "cache_hit"
	KeyWriteCacheLen = "write_cache_len"
	KeyReadCacheLen  = "read_cache_len"
	KeyItemCount     = "item_count"
	KeyActiveSize    = "active_size"

	// ========================================================================
	// Locking
	// ========================================================================
	KeyLockStripe = "lock_stripe"
	KeyLockWaited = "lock_waited"
)

// TraceID returns a slog.Attr for the request correlation id.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for a single step within a request.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// Operation returns a slog.Attr naming the engine operation in progress.
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

// RequestID returns a slog.Attr for a caller-supplied request identifier.
func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }

// Status returns a slog.Attr for an operation status code.
func Status(code int) slog.Attr { return slog.Int(KeyStatus, code) }

// StatusMsg returns a slog.Attr for a human-readable status message.
func StatusMsg(msg string) slog.Attr { return slog.String(KeyStatusMsg, msg) }

// VolumeID returns a slog.Attr for the logical volume a block belongs to.
func VolumeID(id string) slog.Attr { return slog.String(KeyVolumeID, id) }

// BlockID returns a slog.Attr for a block identifier.
func BlockID(id uint64) slog.Attr { return slog.Uint64(KeyBlockID, id) }

// BlockVersion returns a slog.Attr for a block mapping version counter.
func BlockVersion(v uint64) slog.Attr { return slog.Uint64(KeyBlockVersion, v) }

// ChunkFP returns a slog.Attr for a fingerprint rendered as hex.
func ChunkFP(hex string) slog.Attr { return slog.String(KeyChunkFP, hex) }

// ContainerID returns a slog.Attr for a container identifier.
func ContainerID(id uint64) slog.Attr { return slog.Uint64(KeyContainerID, id) }

// ContainerAddr returns a slog.Attr for a resolved container address.
func ContainerAddr(addr string) slog.Attr { return slog.String(KeyContainerAddr, addr) }

// Offset returns a slog.Attr for a byte offset.
func Offset(off uint64) slog.Attr { return slog.Uint64(KeyOffset, off) }

// Size returns a slog.Attr for a byte size.
func Size(n uint64) slog.Attr { return slog.Uint64(KeySize, n) }

// DurationMs returns a slog.Attr for an operation duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorKind returns a slog.Attr for an engine error kind.
func ErrorKind(kind string) slog.Attr { return slog.String(KeyErrorKind, kind) }

// Source returns a slog.Attr for the component emitting the log line.
func Source(src string) slog.Attr { return slog.String(KeySource, src) }

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// MaxRetries returns a slog.Attr for the retry ceiling.
func MaxRetries(n int) slog.Attr { return slog.Int(KeyMaxRetries, n) }

// IndexName returns a slog.Attr for a named key-value index instance.
func IndexName(name string) slog.Attr { return slog.String(KeyIndexName, name) }

// IndexKind returns a slog.Attr for the backend kind of a key-value index.
func IndexKind(kind string) slog.Attr { return slog.String(KeyIndexKind, kind) }

// DirtyItems returns a slog.Attr for the count of dirty write-back entries.
func DirtyItems(n int) slog.Attr { return slog.Int(KeyDirtyItems, n) }

// Pinned returns a slog.Attr for a pinning state.
func Pinned(p bool) slog.Attr { return slog.Bool(KeyPinned, p) }

// LogEntrySeq returns a slog.Attr for an operation log entry sequence number.
func LogEntrySeq(seq uint64) slog.Attr { return slog.Uint64(KeyLogEntrySeq, seq) }

// ReplayMode returns a slog.Attr for the operation log replay strategy used.
func ReplayMode(mode string) slog.Attr { return slog.String(KeyReplayMode, mode) }

// CacheHit returns a slog.Attr for a cache hit/miss indicator.
func CacheHit(hit bool) slog.Attr { return slog.Bool(KeyCacheHit, hit) }

// WriteCacheLen returns a slog.Attr for the write cache's current length.
func WriteCacheLen(n int) slog.Attr { return slog.Int(KeyWriteCacheLen, n) }

// ReadCacheLen returns a slog.Attr for the read cache's current length.
func ReadCacheLen(n int) slog.Attr { return slog.Int(KeyReadCacheLen, n) }

// ItemCount returns a slog.Attr for a container's item count.
func ItemCount(n int) slog.Attr { return slog.Int(KeyItemCount, n) }

// ActiveSize returns a slog.Attr for a container's active (non-deleted) data size.
func ActiveSize(n uint32) slog.Attr { return slog.Any(KeyActiveSize, n) }

// LockStripe returns a slog.Attr for the lock stripe index acquired.
func LockStripe(i int) slog.Attr { return slog.Int(KeyLockStripe, i) }

// LockWaited returns a slog.Attr recording whether a lock acquisition blocked.
func LockWaited(waited bool) slog.Attr { return slog.Bool(KeyLockWaited, waited) }
