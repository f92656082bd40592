package sdhc

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
)

var ErrSeekOutOfRange = errors.New("sdhc: seek out of range")

const (
	sectorSize = sdcmd.BlockSize
	sectorMask = sectorSize - 1
)

// Device implements io.ReaderAt, io.WriterAt and io.ReadWriteSeeker on top
// of an initialized card. Accesses that don't cover whole sectors read the
// affected sectors first.
//
// Device is safe for concurrent use, as long as the controller isn't used
// directly at the same time.
type Device struct {
	c      *Controller
	size   int64
	offset int64
	tmp    [sectorSize]byte
	mtx    sync.Mutex
}

// NewDevice returns a Device for the card of c, which must be initialized.
func NewDevice(c *Controller) (*Device, error) {
	if !c.card.ready {
		return nil, ErrNotReady
	}
	return &Device{c: c, size: c.card.DiskSize}, nil
}

func (v *Device) Size() int64 {
	return v.size
}

func (v *Device) ReadAt(p []byte, off int64) (n int, err error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	return v.readAt(p, off)
}

func (v *Device) readAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, ErrOutOfRange
	}
	if off >= v.size {
		return 0, io.EOF
	}
	if left := v.size - off; int64(len(p)) >= left {
		p = p[:left]
		err = io.EOF
	}

	for n < len(p) {
		lba, start := off/sectorSize, int(off&sectorMask)
		var copied int
		if whole := (len(p) - n) / sectorSize; start == 0 && whole > 0 {
			if rerr := v.c.Transfer(Read, p[n:], lba, whole); rerr != nil {
				return n, rerr
			}
			copied = whole * sectorSize
		} else {
			if rerr := v.c.Transfer(Read, v.tmp[:], lba, 1); rerr != nil {
				return n, rerr
			}
			copied = copy(p[n:], v.tmp[start:])
		}
		n += copied
		off += int64(copied)
	}
	return
}

func (v *Device) WriteAt(p []byte, off int64) (n int, err error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	return v.writeAt(p, off)
}

func (v *Device) writeAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off > v.size {
		return 0, ErrOutOfRange
	}
	if left := v.size - off; int64(len(p)) > left {
		p = p[:left]
		err = io.ErrShortWrite
	}

	for n < len(p) {
		lba, start := off/sectorSize, int(off&sectorMask)
		var copied int
		if whole := (len(p) - n) / sectorSize; start == 0 && whole > 0 {
			if werr := v.c.Transfer(Write, p[n:], lba, whole); werr != nil {
				return n, werr
			}
			copied = whole * sectorSize
		} else {
			// read first and last sectors if only partly written
			if rerr := v.c.Transfer(Read, v.tmp[:], lba, 1); rerr != nil {
				return n, rerr
			}
			copied = copy(v.tmp[start:], p[n:])
			if werr := v.c.Transfer(Write, v.tmp[:], lba, 1); werr != nil {
				return n, werr
			}
		}
		n += copied
		off += int64(copied)
	}
	return
}

func (v *Device) Read(p []byte) (n int, err error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	n, err = v.readAt(p, v.offset)
	v.offset += int64(n)
	return
}

func (v *Device) Write(p []byte) (n int, err error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	n, err = v.writeAt(p, v.offset)
	v.offset += int64(n)
	return
}

func (v *Device) Seek(offset int64, whence int) (newoffset int64, err error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	switch whence {
	case io.SeekStart:
		// newoffset = 0
	case io.SeekCurrent:
		newoffset = v.offset
	case io.SeekEnd:
		newoffset = v.size
	}
	newoffset += offset
	if newoffset < 0 || newoffset > v.size {
		return v.offset, fmt.Errorf("%w: %d", ErrSeekOutOfRange, newoffset)
	}

	v.offset = newoffset

	return
}
