package util

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
)

const (
	// ListenPIDEnvKey and ListenFdsEnvKey follow the systemd socket
	// activation protocol (sd_listen_fds(3)).
	ListenPIDEnvKey = "LISTEN_PID"
	ListenFdsEnvKey = "LISTEN_FDS"

	// listenFdsStart is the first file descriptor passed by systemd.
	listenFdsStart = 3
)

// ErrNoActivation means the process was not socket activated.
var ErrNoActivation = errors.New("no socket activation environment")

// SetCloexec sets or clears the close-on-exec flag for a file descriptor.
func SetCloexec(fd uintptr, enabled bool) error {
	flags, _, errno := syscall.Syscall(syscall.SYS_FCNTL, fd, syscall.F_GETFD, 0)
	if errno != 0 {
		return fmt.Errorf("fcntl F_GETFD failed: %w", errno)
	}
	if enabled {
		flags |= syscall.FD_CLOEXEC
	} else {
		flags &^= syscall.FD_CLOEXEC
	}
	_, _, errno = syscall.Syscall(syscall.SYS_FCNTL, fd, syscall.F_SETFD, flags)
	if errno != 0 {
		return fmt.Errorf("fcntl F_SETFD failed: %w", errno)
	}
	return nil
}

// CreateListener listens on a TCP address.
func CreateListener(network, address string) (net.Listener, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, fmt.Errorf("unsupported network type: %s, only 'tcp', 'tcp4', or 'tcp6' are supported", network)
	}
	l, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %s: %w", network, address, err)
	}
	return l, nil
}

// NewListenerFromFD wraps an inherited listening socket. Close-on-exec is set
// so the socket does not leak into processes we spawn.
func NewListenerFromFD(fd uintptr) (net.Listener, error) {
	if err := SetCloexec(fd, true); err != nil {
		return nil, fmt.Errorf("failed to set FD_CLOEXEC on inherited FD %d: %w", fd, err)
	}
	file := os.NewFile(fd, fmt.Sprintf("listener-from-fd-%d", fd))
	if file == nil {
		return nil, fmt.Errorf("os.NewFile returned nil for FD %d", fd)
	}
	// net.FileListener dups the descriptor; the original is closed either way.
	defer file.Close()
	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("net.FileListener failed for FD %d: %w", fd, err)
	}
	return listener, nil
}

// ParseListenFds returns the descriptors handed over by socket activation,
// or ErrNoActivation when LISTEN_PID does not name this process.
func ParseListenFds(getenv func(string) string, pid int) ([]uintptr, error) {
	pidStr := getenv(ListenPIDEnvKey)
	if pidStr == "" {
		return nil, ErrNoActivation
	}
	listenPID, err := strconv.Atoi(strings.TrimSpace(pidStr))
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", ListenPIDEnvKey, pidStr, err)
	}
	if listenPID != pid {
		return nil, ErrNoActivation
	}
	n, err := strconv.Atoi(strings.TrimSpace(getenv(ListenFdsEnvKey)))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ListenFdsEnvKey, err)
	}
	if n <= 0 {
		return nil, ErrNoActivation
	}
	fds := make([]uintptr, n)
	for i := range fds {
		fds[i] = uintptr(listenFdsStart + i)
	}
	return fds, nil
}

// ActivatedListener returns the first socket-activated listener and clears
// the activation variables so they are not inherited. Additional descriptors
// are closed.
func ActivatedListener() (net.Listener, error) {
	fds, err := ParseListenFds(os.Getenv, os.Getpid())
	if err != nil {
		return nil, err
	}
	os.Unsetenv(ListenPIDEnvKey)
	os.Unsetenv(ListenFdsEnvKey)
	for _, extra := range fds[1:] {
		syscall.Close(int(extra))
	}
	return NewListenerFromFD(fds[0])
}

// IsAddrInUse checks if the error indicates an "address already in use" condition.
func IsAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "address already in use")
}
