//go:build linux || darwin

package mount

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/clktmr/sdhc/drivers/sdhc"
	"github.com/clktmr/sdhc/tools/probe"
	"rsc.io/rsc/fuse"
)

func mount(card *probe.Card, dir string, sigintr <-chan os.Signal) error {
	c, err := fuse.Mount(dir)
	if err != nil {
		return err
	}
	info, err := card.Controller.Info()
	if err != nil {
		return err
	}

	go c.Serve(&fusefs{
		card:    &fusecard{card.Device},
		info:    []byte(info.String() + "\n"),
		created: time.Now(),
	})
	<-sigintr

	cmd := exec.Command("/bin/umount", dir)
	_, err = cmd.CombinedOutput()
	return err
}

// fusefs implements the file system and the root dir Node.
type fusefs struct {
	card    *fusecard
	info    []byte
	created time.Time
}

func (p *fusefs) Root() (fuse.Node, fuse.Error) {
	return p, nil
}

func (p *fusefs) Attr() fuse.Attr {
	return fuse.Attr{
		Mode:  os.ModeDir | 0o755,
		Mtime: p.created,
	}
}

func (p *fusefs) Lookup(name string, intr fuse.Intr) (fuse.Node, fuse.Error) {
	switch name {
	case "card.img":
		return p.card, nil
	case "info":
		return &fuseinfo{p.info, p.created}, nil
	}
	return nil, fuse.Errno(syscall.ENOENT)
}

func (p *fusefs) ReadDir(intr fuse.Intr) ([]fuse.Dirent, fuse.Error) {
	return []fuse.Dirent{{Name: "card.img"}, {Name: "info"}}, nil
}

// fusecard implements both Node and Handle for the whole card.
type fusecard struct {
	*sdhc.Device
}

func (p *fusecard) Attr() fuse.Attr {
	return fuse.Attr{
		Mode: 0o644,
		Size: uint64(p.Size()),
	}
}

func (p *fusecard) Read(req *fuse.ReadRequest, resp *fuse.ReadResponse, intr fuse.Intr) fuse.Error {
	buf := make([]byte, req.Size)
	n, err := p.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		return errno(err)
	}
	resp.Data = buf[:n]
	return nil
}

func (p *fusecard) Write(req *fuse.WriteRequest, resp *fuse.WriteResponse, intr fuse.Intr) fuse.Error {
	n, err := p.WriteAt(req.Data, req.Offset)
	resp.Size = n
	if err != nil {
		return errno(err)
	}
	return nil
}

func (p *fusecard) Fsync(req *fuse.FsyncRequest, intr fuse.Intr) fuse.Error {
	return nil
}

type fuseinfo struct {
	data  []byte
	mtime time.Time
}

func (p *fuseinfo) Attr() fuse.Attr {
	return fuse.Attr{
		Mode:  0o444,
		Mtime: p.mtime,
		Size:  uint64(len(p.data)),
	}
}

func (p *fuseinfo) ReadAll(intr fuse.Intr) ([]byte, fuse.Error) {
	return p.data, nil
}

func errno(err error) fuse.Error {
	switch {
	case errors.Is(err, io.ErrShortWrite):
		return fuse.Errno(syscall.ENOSPC)
	case errors.Is(err, sdhc.ErrOutOfRange):
		return fuse.Errno(syscall.EINVAL)
	case errors.Is(err, sdhc.ErrNotReady), errors.Is(err, sdhc.ErrNoCard):
		return fuse.Errno(syscall.ENODEV)
	default:
		return fuse.EIO
	}
}
