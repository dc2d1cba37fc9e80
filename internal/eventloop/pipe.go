package eventloop

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// errWoken is returned by a pipe read interrupted by Stop.
var errWoken = errors.New("input loop woken")

// wakePipe lets Stop interrupt a blocked pipe read without writing into the
// command FIFO.
type wakePipe struct {
	r, w int
}

func newWakePipe() (*wakePipe, error) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return nil, fmt.Errorf("wake pipe: %w", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, fmt.Errorf("wake pipe: %w", err)
		}
	}
	return &wakePipe{r: fds[0], w: fds[1]}, nil
}

func (p *wakePipe) signal() error {
	_, err := unix.Write(p.w, []byte{1})
	if errors.Is(err, unix.EAGAIN) {
		// already pending
		return nil
	}
	return err
}

func (p *wakePipe) closeRead() {
	if p.r >= 0 {
		_ = unix.Close(p.r)
		p.r = -1
	}
}

func (p *wakePipe) closeWrite() {
	if p.w >= 0 {
		_ = unix.Close(p.w)
		p.w = -1
	}
}

// fifoPipe is the input loop's pair of descriptors on the command FIFO.
// The write end is never written; holding it keeps the FIFO open for
// writers while the loop is between sessions.
type fifoPipe struct {
	r, w int
}

func (p fifoPipe) close() {
	_ = unix.Close(p.w)
	_ = unix.Close(p.r)
}

// openFIFO opens the command FIFO for reading without waiting for a writer,
// then opens the loop's own write end on it.
func openFIFO(path string) (fifoPipe, error) {
	r, err := openRetry(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC)
	if err != nil {
		return fifoPipe{}, fmt.Errorf("%w %s: %w", ErrPipeOpen, path, err)
	}
	w, err := openRetry(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC)
	if err != nil {
		_ = unix.Close(r)
		return fifoPipe{}, fmt.Errorf("%w %s for writing: %w", ErrPipeOpen, path, err)
	}
	return fifoPipe{r: r, w: w}, nil
}

func openRetry(path string, flags int) (int, error) {
	for {
		fd, err := unix.Open(path, flags, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return fd, err
	}
}

// fifoReader is an io.Reader over a non-blocking FIFO descriptor that blocks
// in poll(2) until data arrives, the writer hangs up, or the wake pipe fires.
// Hang-up with no buffered data reads as io.EOF.
type fifoReader struct {
	fd   int
	wake int
}

func (r *fifoReader) Read(p []byte) (int, error) {
	for {
		fds := []unix.PollFd{
			{Fd: int32(r.fd), Events: unix.POLLIN},
			{Fd: int32(r.wake), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, fmt.Errorf("poll command pipe: %w", err)
		}

		if fds[1].Revents != 0 {
			return 0, errWoken
		}

		ev := fds[0].Revents
		if ev&unix.POLLIN != 0 {
			n, err := unix.Read(r.fd, p)
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
				continue
			case err != nil:
				return 0, fmt.Errorf("read command pipe: %w", err)
			case n == 0:
				return 0, io.EOF
			}
			return n, nil
		}
		if ev&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return 0, io.EOF
		}
	}
}
