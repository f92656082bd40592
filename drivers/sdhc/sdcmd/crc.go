package sdcmd

import (
	"encoding/binary"

	"github.com/sigurn/crc8"
)

// CRC-7/MMC is a CRC-8 with polynomial 0x12, which yields the 7 bit CRC
// shifted left by one.
var crc7Table = crc8.MakeTable(crc8.Params{0x12, 0x00, false, false, 0x00, 0xEA, "CRC-7/MMC"})

// CRC7 returns the 7 bit CRC of data.
func CRC7(data []byte) uint8 {
	csum := crc8.Init(crc7Table)
	csum = crc8.Update(csum, data, crc7Table)
	csum = crc8.Complete(csum, crc7Table)
	return csum >> 1
}

// Frame is a 48 bit command or response token as sent on the CMD line,
// including start, transmission and end bits.
type Frame [6]byte

// CommandFrame returns the token the host sends for command idx.
func CommandFrame(idx Index, arg uint32) (f Frame) {
	f[0] = 0x40 | byte(idx)&0x3f
	binary.BigEndian.PutUint32(f[1:5], arg)
	f.seal()
	return
}

// ResponseFrame returns the token of a 48 bit response. R3 tokens carry all
// ones instead of index and CRC.
func ResponseFrame(idx Index, kind Response, payload uint32) (f Frame) {
	binary.BigEndian.PutUint32(f[1:5], payload)
	if kind == RespR3 {
		f[0], f[5] = 0x3f, 0xff
		return
	}
	f[0] = byte(idx) & 0x3f
	f.seal()
	return
}

func (f *Frame) seal() {
	f[5] = CRC7(f[:5])<<1 | 1
}

func (f Frame) Index() Index     { return Index(f[0] & 0x3f) }
func (f Frame) Payload() uint32  { return binary.BigEndian.Uint32(f[1:5]) }
func (f Frame) CRC() uint8       { return f[5] >> 1 }
func (f Frame) ValidCRC() bool   { return CRC7(f[:5]) == f.CRC() }
func (f Frame) Transmitter() int { return int(f[0]>>6) & 1 }
