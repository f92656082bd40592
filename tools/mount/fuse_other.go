//go:build !linux && !darwin

package mount

import (
	"errors"
	"os"

	"github.com/clktmr/sdhc/tools/probe"
)

func mount(card *probe.Card, dir string, sigintr <-chan os.Signal) error {
	return errors.New("fuse not supported on this platform")
}
