//go:build linux

package keystroke

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"cogstate/internal/logging"
)

const pollTimeoutMs = 250

// EvdevSource reads key events from every keyboard under /dev/input.
type EvdevSource struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// devicesFile is /proc/bus/input/devices; overridable in tests.
	devicesFile string
	crash       *logging.CrashHandler
}

func newPlatformSource(o options) Source {
	return &EvdevSource{devicesFile: "/proc/bus/input/devices", crash: o.crash}
}

// Available checks if at least one keyboard device can be read.
func (s *EvdevSource) Available() (bool, string) {
	devices, err := findKeyboardDevices(s.devicesFile)
	if err != nil {
		return false, fmt.Sprintf("cannot find keyboard devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}

	for _, dev := range devices {
		fd, err := unix.Open(dev, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err == nil {
			unix.Close(fd)
			return true, fmt.Sprintf("found keyboard device: %s", dev)
		}
	}
	return false, "cannot read keyboard devices (need to be in 'input' group or run as root)"
}

// findKeyboardDevices lists event nodes whose capability block advertises
// keys, plus the by-id keyboard links.
func findKeyboardDevices(devicesFile string) ([]string, error) {
	f, err := os.Open(devicesFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var devices []string
	add := func(path string) {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}
		if !seen[path] {
			seen[path] = true
			devices = append(devices, path)
		}
	}

	var handler string
	var hasKeys, hasKbd bool
	flush := func() {
		if handler != "" && hasKeys && hasKbd {
			add(handler)
		}
		handler, hasKeys, hasKbd = "", false, false
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "H: Handlers="):
			for _, part := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if strings.HasPrefix(part, "event") {
					handler = "/dev/input/" + part
				}
				if part == "kbd" {
					hasKbd = true
				}
			}
		case strings.HasPrefix(line, "B: KEY="):
			hasKeys = len(strings.TrimPrefix(line, "B: KEY=")) > 2
		case line == "":
			flush()
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	matches, _ := filepath.Glob("/dev/input/by-id/*-event-kbd")
	for _, m := range matches {
		add(m)
	}
	return devices, nil
}

// Start opens the keyboards and begins delivering events.
func (s *EvdevSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	devices, err := findKeyboardDevices(s.devicesFile)
	if err != nil || len(devices) == 0 {
		return ErrNotAvailable
	}

	var fds []int
	for _, dev := range devices {
		fd, err := unix.Open(dev, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			continue
		}
		fds = append(fds, fd)
	}
	if len(fds) == 0 {
		return fmt.Errorf("%w: no readable keyboard device", ErrNotAvailable)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go s.readLoop(ctx, fds, s.done)
	return nil
}

func (s *EvdevSource) readLoop(ctx context.Context, fds []int, done chan struct{}) {
	defer close(done)
	defer s.crash.RecoverGoroutine()
	defer func() {
		for _, fd := range fds {
			unix.Close(fd)
		}
	}()

	tvSize := int(unsafe.Sizeof(unix.Timeval{}))
	size := frameSize(tvSize)
	buf := make([]byte, size*64)

	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	for ctx.Err() == nil {
		n, err := unix.Poll(pfds, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		for i := range pfds {
			if pfds[i].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				// Unplugged keyboard; stop polling it.
				pfds[i].Fd = -1
				continue
			}
			if pfds[i].Revents&unix.POLLIN == 0 {
				continue
			}
			r, err := unix.Read(int(pfds[i].Fd), buf)
			if err != nil || r < size {
				continue
			}
			for off := 0; off+size <= r; off += size {
				if ev, ok := decodeFrame(buf[off:off+size], tvSize, binary.NativeEndian); ok {
					Deliver(ev)
				}
			}
		}
	}
}

// Stop stops reading and closes the devices.
func (s *EvdevSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}
