package sdcmd

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Long is a 128 bit register (CID or CSD) as returned in an R2 response.
// Long[0] holds bits 127 to 96, the CRC occupies bits 7 to 1.
type Long [4]uint32

// Bits returns the register field from bit hi down to bit lo.
func (r Long) Bits(hi, lo int) uint32 {
	var v uint32
	for b := hi; b >= lo; b-- {
		v = v<<1 | r[3-b/32]>>(b%32)&1
	}
	return v
}

// SetBits stores v in the register field from bit hi down to bit lo.
func (r *Long) SetBits(hi, lo int, v uint32) {
	for b := lo; b <= hi; b, v = b+1, v>>1 {
		w, m := 3-b/32, uint32(1)<<(b%32)
		if v&1 != 0 {
			r[w] |= m
		} else {
			r[w] &^= m
		}
	}
}

// Bytes returns the register in transmission order.
func (r Long) Bytes() (b [16]byte) {
	for i, w := range r {
		binary.BigEndian.PutUint32(b[4*i:], w)
	}
	return
}

// Seal sets the CRC and end bit.
func (r *Long) Seal() {
	b := r.Bytes()
	r.SetBits(7, 0, uint32(CRC7(b[:15]))<<1|1)
}

// ValidCRC reports if the CRC matches the register contents.
func (r Long) ValidCRC() bool {
	b := r.Bytes()
	return uint32(CRC7(b[:15])) == r.Bits(7, 1)
}

// CSD is the card specific data register.
type CSD Long

func (c CSD) Structure() int { return int(Long(c).Bits(127, 126)) }

// SpecVersion returns the eMMC SPEC_VERS field.
func (c CSD) SpecVersion() int { return int(Long(c).Bits(125, 122)) }

func (c CSD) TranSpeed() uint8 { return uint8(Long(c).Bits(103, 96)) }
func (c CSD) ReadBlLen() int   { return int(Long(c).Bits(83, 80)) }

// Capacity returns the capacity in bytes described by a version 1.0 CSD,
// which is also the layout used by SD standard capacity cards and eMMC
// devices up to 2GB.
func (c CSD) Capacity() int64 {
	l := Long(c)
	csize := int64(l.Bits(73, 62))
	mult := l.Bits(49, 47)
	return (csize + 1) << (mult + 2) << c.ReadBlLen()
}

// CapacityV2 returns the capacity in bytes described by a version 2.0 CSD
// of SDHC and SDXC cards.
func (c CSD) CapacityV2() int64 {
	return (int64(Long(c).Bits(69, 48)) + 1) * 512 << 10
}

// CID is the decoded card identification register.
type CID struct {
	Manufacturer uint8
	OEM          string
	Product      string
	Revision     uint8 // BCD major.minor
	Serial       uint32
	Year, Month  int
}

func (c CID) String() string {
	return fmt.Sprintf("%02x %q %q rev %d.%d sn %08x %04d-%02d",
		c.Manufacturer, c.OEM, c.Product, c.Revision>>4, c.Revision&0xf,
		c.Serial, c.Year, c.Month)
}

// DecodeCID decodes the CID register of an SD card, or of an eMMC device if
// mmc is set.
func DecodeCID(r Long, mmc bool) (c CID) {
	b := r.Bytes()
	c.Manufacturer = b[0]
	if mmc {
		c.OEM = decodeName(b[2:3])
		c.Product = decodeName(b[3:9])
		c.Revision = b[9]
		c.Serial = binary.BigEndian.Uint32(b[10:14])
		c.Month = int(r.Bits(15, 12))
		c.Year = 1997 + int(r.Bits(11, 8))
	} else {
		c.OEM = decodeName(b[1:3])
		c.Product = decodeName(b[3:8])
		c.Revision = b[8]
		c.Serial = binary.BigEndian.Uint32(b[9:13])
		c.Year = 2000 + int(r.Bits(19, 12))
		c.Month = int(r.Bits(11, 8))
	}
	return
}

// Encode returns the CID register, sealed with its CRC.
func (c CID) Encode(mmc bool) (r Long) {
	var b [16]byte
	b[0] = c.Manufacturer
	if mmc {
		encodeName(b[2:3], c.OEM)
		encodeName(b[3:9], c.Product)
		b[9] = c.Revision
		binary.BigEndian.PutUint32(b[10:14], c.Serial)
		b[14] = byte(c.Month)<<4 | byte(c.Year-1997)&0xf
	} else {
		encodeName(b[1:3], c.OEM)
		encodeName(b[3:8], c.Product)
		b[8] = c.Revision
		binary.BigEndian.PutUint32(b[9:13], c.Serial)
		y := c.Year - 2000
		b[13] = byte(y >> 4 & 0xf)
		b[14] = byte(y)<<4 | byte(c.Month)&0xf
	}
	for i := range r {
		r[i] = binary.BigEndian.Uint32(b[4*i:])
	}
	r.Seal()
	return
}

func decodeName(b []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(s), " \x00")
}

func encodeName(dst []byte, s string) {
	b, _ := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	n := copy(dst, b)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}
