package pairing

import (
	"context"
	"sync"
)

// Attempt is one running pairing attempt.
type Attempt struct {
	ID string

	cancel context.CancelFunc

	codeOnce  sync.Once
	codeReady chan struct{}
	code      string
	codeErr   error

	done chan struct{}
	err  error
}

func newAttempt(id string, cancel context.CancelFunc) *Attempt {
	return &Attempt{
		ID:        id,
		cancel:    cancel,
		codeReady: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Code returns the first linking code issued for the attempt.
func (a *Attempt) Code() string {
	<-a.codeReady
	return a.code
}

// Done is closed once the attempt has finished and its scratch storage is
// gone.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Err reports why the attempt ended. It is nil after a successful hand-off
// and only meaningful once Done is closed.
func (a *Attempt) Err() error {
	<-a.done
	return a.err
}

// Cancel aborts the attempt.
func (a *Attempt) Cancel() {
	a.cancel()
}

// resolveCode records the first code or failure. It reports whether this
// call was the first.
func (a *Attempt) resolveCode(code string, err error) bool {
	first := false
	a.codeOnce.Do(func() {
		a.code = code
		a.codeErr = err
		if code == "" && err == nil {
			a.codeErr = ErrUnavailable
		}
		first = true
		close(a.codeReady)
	})
	return first
}
