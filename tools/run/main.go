// Package run runs on-target test binaries, e.g. in an emulator, and exits
// with their test result.
package run

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/aymanbagabas/go-pty"
	"github.com/buildkite/shellwords"
)

const usageString = `Test binary runner.

Usage: %s [flags] <command> <binary>

The command is split like a shell would and the binary appended. Its output
is scanned for the result printed by the testing package.

`

var (
	flags = flag.NewFlagSet("run", flag.ExitOnError)

	timeout = flags.Duration("timeout", 10*time.Minute, "Kill the command after this duration")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "run")
	flags.PrintDefaults()
}

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])

	if flags.NArg() != 2 {
		flags.Usage()
		os.Exit(1)
	}

	code, err := Run(flags.Arg(0), flags.Arg(1), *timeout)
	if err != nil {
		log.Fatal("run: ", err)
	}
	os.Exit(code)
}

// Result classifies a line of test output. It returns done if the test
// binary finished and code is its exit code.
func Result(line string) (code int, done bool) {
	switch {
	case strings.HasPrefix(line, "fatal error:"), strings.HasPrefix(line, "panic:"):
		return 1, true
	case line == "FAIL":
		return 1, true
	case line == "PASS":
		return 0, true
	}
	return 0, false
}

// Run executes cmdline with binary appended as last argument in a pty and
// returns 0 if the test binary passed.
func Run(cmdline, binary string, timeout time.Duration) (int, error) {
	args, err := shellwords.Split(cmdline)
	if err != nil {
		return 0, err
	}
	if len(args) == 0 {
		return 0, errors.New("empty command")
	}
	args = append(args, binary)

	p, err := pty.New()
	if err != nil {
		return 0, err
	}
	defer p.Close()

	cmd := p.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start command: %w", err)
	}

	sigintr := make(chan os.Signal, 1)
	signal.Notify(sigintr, os.Interrupt)
	defer signal.Stop(sigintr)

	stop := func() {
		if err := processGroupKill(cmd.Process); err != nil {
			log.Println(err)
		}
	}
	deadline := time.AfterFunc(timeout, func() {
		log.Println("timeout after", timeout)
		stop()
	})
	defer deadline.Stop()
	go func() {
		if _, ok := <-sigintr; ok {
			stop()
		}
	}()

	scanner := bufio.NewScanner(p)
	exiting := false
	code := 1
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		log.Println(line)
		if exiting {
			continue
		}
		if c, done := Result(line); done {
			code = c
			exiting = true
			go func() {
				// give panic() time to print the stacktrace
				time.Sleep(500 * time.Millisecond)
				stop()
			}()
		}
	}
	cmd.Wait()
	return code, nil
}
