package tools

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

// process owns a spawned child and the read end of its merged
// stdout/stderr pipe. Close kills the child if it is still running, closes
// the pipe and reaps the child; it is safe to call more than once.
type process struct {
	cmd    *exec.Cmd
	out    *os.File
	chunks chan []byte
	eof    chan struct{}
	exited chan struct{}
	err    error // from Wait, valid after exited is closed
	closed bool
}

func startProcess(path string, args []string, dir string) (*process, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Stdin = nil
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	// The child holds its own copy of the write end.
	w.Close()

	p := &process{
		cmd:    cmd,
		out:    r,
		chunks: make(chan []byte, 64),
		eof:    make(chan struct{}),
		exited: make(chan struct{}),
	}
	go p.read()
	go func() {
		p.err = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

func (p *process) read() {
	defer close(p.eof)
	for {
		buf := make([]byte, 32<<10)
		n, err := p.out.Read(buf)
		if n > 0 {
			p.chunks <- buf[:n]
		}
		if err != nil {
			return
		}
	}
}

// drain moves every chunk currently buffered into dst without blocking.
func (p *process) drain(dst []byte) []byte {
	for {
		select {
		case c := <-p.chunks:
			dst = append(dst, c...)
		default:
			return dst
		}
	}
}

// hasExited reports, without blocking, whether the child has been reaped.
func (p *process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// settle waits up to grace for the reader to hit EOF, collecting output on
// the way. Descendants that inherited the pipe can hold it open, so the wait
// is bounded.
func (p *process) settle(dst []byte, grace time.Duration) []byte {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	for {
		select {
		case c := <-p.chunks:
			dst = append(dst, c...)
		case <-p.eof:
			return p.drain(dst)
		case <-timer.C:
			return p.drain(dst)
		}
	}
}

func (p *process) exitCode() int {
	var exitErr *exec.ExitError
	switch {
	case p.err == nil:
		return 0
	case errors.As(p.err, &exitErr):
		return exitErr.ExitCode()
	default:
		return -1
	}
}

func (p *process) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if !p.hasExited() {
		_ = p.cmd.Process.Kill()
	}
	<-p.exited
	err := p.out.Close()
	// Unblock the reader if it is stuck on a full channel.
	go func() {
		for range p.chunks {
		}
	}()
	<-p.eof
	close(p.chunks)
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
