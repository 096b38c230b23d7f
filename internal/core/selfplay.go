package core

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultSelfPlayDelay is the pause between automated turns.
const DefaultSelfPlayDelay = 1500 * time.Millisecond

// SelfPlayStatus reports the state of a self-play driver.
type SelfPlayStatus struct {
	Running   bool   `json:"running"`
	Turns     int    `json:"turns"`
	LastError string `json:"lastError,omitempty"`
}

// SelfPlayDriver plays the candidate side of an interview: it asks the gateway
// for a candidate answer, submits it as a normal turn and repeats after a
// delay until the interview completes, a turn fails or Stop is called.
type SelfPlayDriver struct {
	iv      *Interview
	gateway *Gateway
	events  EventSink
	delay   time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	turns   int
	err     error
}

func NewSelfPlayDriver(iv *Interview, gateway *Gateway, events EventSink, delay time.Duration) *SelfPlayDriver {
	if delay < 0 {
		delay = 0
	}
	return &SelfPlayDriver{iv: iv, gateway: gateway, events: events, delay: delay}
}

// Start launches the loop. It refuses a completed interview and is a no-op
// when the loop is already running.
func (d *SelfPlayDriver) Start() error {
	switch d.iv.State() {
	case StateCompleted:
		return ErrSessionCompleted
	case StateUninitialized:
		return ErrNotStarted
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.running = true
	d.cancel = cancel
	d.done = make(chan struct{})
	d.err = nil
	go d.loop(ctx, d.done)

	d.publish(EventSelfPlayStarted, "")
	return nil
}

// Stop asks the loop to finish. A generation already in flight completes
// first; no further candidate turn is requested. Stop is a no-op when the
// loop is not running.
func (d *SelfPlayDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.cancel()
}

// Wait blocks until the current loop, if any, has exited.
func (d *SelfPlayDriver) Wait() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (d *SelfPlayDriver) Status() SelfPlayStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := SelfPlayStatus{Running: d.running, Turns: d.turns}
	if d.err != nil {
		st.LastError = d.err.Error()
	}
	return st
}

// Err returns the error that stopped the last loop, if any.
func (d *SelfPlayDriver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *SelfPlayDriver) loop(ctx context.Context, done chan struct{}) {
	var loopErr error
	defer func() {
		d.mu.Lock()
		d.running = false
		d.err = loopErr
		d.cancel()
		d.mu.Unlock()
		close(done)

		msg := ""
		if loopErr != nil {
			msg = loopErr.Error()
		}
		d.publish(EventSelfPlayStopped, msg)
	}()

	// Generation calls are detached from ctx so stopping never aborts a
	// request mid-flight; ctx is only checked between steps.
	callCtx := context.WithoutCancel(ctx)
	id := d.iv.ID()

	for {
		if ctx.Err() != nil {
			return
		}

		answer, err := d.gateway.CandidateTurn(callCtx, d.iv.Config(), d.iv.Transcript())
		if err != nil {
			log.Printf("Self-play for session %s stopped: candidate turn failed: %v", id, err)
			loopErr = err
			return
		}
		if ctx.Err() != nil {
			return
		}

		res, err := d.iv.SubmitTurn(callCtx, answer)
		if errors.Is(err, ErrSessionCompleted) || errors.Is(err, ErrInterviewClosed) {
			return
		}
		if err != nil {
			log.Printf("Self-play for session %s stopped: turn failed: %v", id, err)
			loopErr = err
			return
		}

		d.mu.Lock()
		d.turns++
		d.mu.Unlock()

		if res.IsComplete {
			log.Printf("Self-play for session %s finished: interview complete", id)
			return
		}

		timer := time.NewTimer(d.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (d *SelfPlayDriver) publish(t EventType, errMsg string) {
	if d.events == nil {
		return
	}
	d.events.Publish(Event{Type: t, SessionID: d.iv.ID(), Error: errMsg, At: time.Now().UTC()})
}
