// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package irq

import (
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sync"

	"github.com/platinasystems/log"
	"golang.org/x/sys/unix"
)

// UIO is an interrupt line exported by a uio driver as /dev/uioN. A read
// returns the interrupt count; writing 1 re-enables the line.
type UIO struct {
	Name  string
	Minor int
	// Sysfs root, "/sys" if empty.
	Sysfs string

	fd  int
	efd int

	once    sync.Once
	mu      sync.Mutex
	serving bool
	done    chan struct{}
}

func OpenUIO(name string, minor int) (*UIO, error) {
	path := fmt.Sprintf("/dev/uio%d", minor)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &UIO{
		Name:  name,
		Minor: minor,
		fd:    fd,
		efd:   efd,
		done:  make(chan struct{}),
	}, nil
}

func (u *UIO) String() string { return fmt.Sprintf("%s (uio%d)", u.Name, u.Minor) }

func (u *UIO) write32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := unix.Write(u.fd, b[:])
	return err
}

func (u *UIO) Enable() error  { return u.write32(1) }
func (u *UIO) Disable() error { return u.write32(0) }

// wait blocks for the next interrupt and returns the running count.
func (u *UIO) wait() (uint32, error) {
	fds := []unix.PollFd{
		{Fd: int32(u.fd), Events: unix.POLLIN},
		{Fd: int32(u.efd), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if fds[1].Revents != 0 {
			return 0, ErrClosed
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			var b [4]byte
			if _, err = unix.Read(u.fd, b[:]); err != nil {
				return 0, err
			}
			return binary.LittleEndian.Uint32(b[:]), nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return 0, fmt.Errorf("%s: poll revents %#x", u, fds[0].Revents)
		}
	}
}

func (u *UIO) Serve(h func()) error {
	u.mu.Lock()
	u.serving = true
	u.mu.Unlock()
	defer func() {
		u.release()
		close(u.done)
	}()
	if err := u.Enable(); err != nil {
		return fmt.Errorf("%s: enable: %w", u, err)
	}
	var last uint32
	for {
		n, err := u.wait()
		if err == ErrClosed {
			return nil
		}
		if err != nil {
			return err
		}
		if last != 0 && n-last > 1 {
			log.Print("daemon", "debug", u, ": ", n-last-1, " interrupts coalesced")
		}
		last = n
		h()
		if err = u.Enable(); err != nil {
			return fmt.Errorf("%s: enable: %w", u, err)
		}
	}
}

func (u *UIO) SetWake(on bool) error {
	return writeWakeup(u.Sysfs, u.Minor, on)
}

// Close ends Serve and releases the device.
func (u *UIO) Close() error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	_, err := unix.Write(u.efd, b[:])
	u.mu.Lock()
	serving := u.serving
	u.mu.Unlock()
	if serving {
		<-u.done
	} else {
		u.release()
	}
	return err
}

func (u *UIO) release() {
	u.once.Do(func() {
		unix.Close(u.fd)
		unix.Close(u.efd)
	})
}

func writeWakeup(sysfs string, minor int, on bool) error {
	if sysfs == "" {
		sysfs = "/sys"
	}
	fn := filepath.Join(sysfs, "class", "uio", fmt.Sprint("uio", minor),
		"device", "power", "wakeup")
	v := "disabled"
	if on {
		v = "enabled"
	}
	return ioutil.WriteFile(fn, []byte(v), 0644)
}
