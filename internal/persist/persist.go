// Package persist implements the persistent memory block carried across
// soft resets (fanpico.h's persistent_memory_block): a magic-tagged,
// CRC-32-protected record of wall-clock time, cumulative uptime and the
// warm-reset counter.
package persist

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"time"
)

// Magic is the persistent_memory_block.id tag (fanpico.c's
// PERSISTENT_MEMORY_ID).
const Magic uint32 = 0x42c0ffee

// Block mirrors persistent_memory_block. CRC is computed over every other
// field (PERSISTENT_MEMORY_CRC_LEN, "up to the crc32 field") using the
// IEEE polynomial with a zero seed.
type Block struct {
	ID       uint32
	Len      uint32
	SavedAt  time.Time
	Uptime   time.Duration
	PrevUptime  time.Duration
	TotalUptime time.Duration
	Warmstart   uint32
	Timezone    string

	// RebootedByWatchdog is set by MarkWatchdogReboot when the liveness
	// watchdog expires (§7: "on next boot the persistent block surfaces
	// 'rebooted by watchdog'"), and cleared by ClearRebootFlag. It is part
	// of the CRC-protected
	// record so it survives the soft reset it describes.
	RebootedByWatchdog bool

	CRC uint32
}

// length is the fixed record length this implementation persists (in
// place of sizeof(persistent_memory_block) in the original, which also
// acts as a version guard against stale layouts).
const length = 1

// New returns a freshly zeroed block, as init_persistent_memory does when
// no valid block is found.
func New() Block {
	b := Block{ID: Magic, Len: length}
	b.CRC = b.checksum()
	return b
}

// Load validates a block read back from backing storage. On a magic or
// length mismatch, or a CRC failure, it returns a fresh block and ok=false
// — matching init_persistent_memory's "corrupt persistent memory block"
// path, which reinitializes rather than erroring out.
func Load(b Block) (Block, bool) {
	if b.ID != Magic || b.Len != length {
		return New(), false
	}
	if b.checksum() != b.CRC {
		return New(), false
	}
	out := b
	if out.Uptime > 0 {
		out.PrevUptime = out.Uptime
		out.TotalUptime += out.Uptime
	}
	out.Warmstart++
	out.CRC = out.checksum()
	return out, true
}

// Touch refreshes SavedAt/Uptime and recomputes the CRC, matching
// update_persistent_memory's 1Hz supervisor-task refresh.
func (b *Block) Touch(uptime time.Duration) {
	b.SavedAt = time.Now()
	b.Uptime = uptime
	b.CRC = b.checksum()
}

// SetTimezone updates the stored timezone name, matching
// update_persistent_memory_tz.
func (b *Block) SetTimezone(tz string) {
	b.Timezone = tz
	b.CRC = b.checksum()
}

// MarkWatchdogReboot sets the watchdog marker ahead of a liveness-failure
// reset (§7), so the next Load sees RebootedByWatchdog=true.
func (b *Block) MarkWatchdogReboot() {
	b.RebootedByWatchdog = true
	b.CRC = b.checksum()
}

// ClearRebootFlag clears the watchdog marker once it has been surfaced to
// the caller, so a subsequent clean reboot doesn't keep reporting it.
func (b *Block) ClearRebootFlag() {
	b.RebootedByWatchdog = false
	b.CRC = b.checksum()
}

// checksum computes the CRC-32 (IEEE polynomial, zero seed) over every
// field except CRC itself.
func (b Block) checksum() uint32 {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, b.ID)
	binary.Write(&buf, binary.LittleEndian, b.Len)
	binary.Write(&buf, binary.LittleEndian, b.SavedAt.UnixNano())
	binary.Write(&buf, binary.LittleEndian, int64(b.Uptime))
	binary.Write(&buf, binary.LittleEndian, int64(b.PrevUptime))
	binary.Write(&buf, binary.LittleEndian, int64(b.TotalUptime))
	binary.Write(&buf, binary.LittleEndian, b.Warmstart)
	buf.WriteString(b.Timezone)
	binary.Write(&buf, binary.LittleEndian, b.RebootedByWatchdog)
	return crc32.ChecksumIEEE(buf.Bytes())
}

// Valid reports whether b's stored CRC matches its contents.
func (b Block) Valid() bool {
	return b.ID == Magic && b.Len == length && b.checksum() == b.CRC
}
