package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// StartRecording asks the microphone for access and starts capturing.
// A refused or failed request is logged and leaves the recorder idle.
func (c *Controller) StartRecording(ctx context.Context) error {
	if c.deps.Microphone == nil {
		return fmt.Errorf("%w: no microphone", ErrPermissionDenied)
	}

	c.mu.Lock()
	_, err := Transition(c.state.Recorder, RecorderStarted)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	capture, err := c.deps.Microphone.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			c.log.Warn("microphone access denied", zap.Error(err))
		} else {
			c.log.Error("microphone open failed", zap.Error(err))
		}
		return err
	}

	c.mu.Lock()
	next, err := Reduce(c.state, Action{Type: ActionRecorder, Event: RecorderStarted})
	if err != nil {
		// another start won the race
		c.mu.Unlock()
		_, _ = capture.Stop(ctx)
		return err
	}
	c.state = next
	c.capture = capture
	c.mu.Unlock()

	c.publish()
	return nil
}

// StopRecording ends the capture, transcribes it and puts the text into
// the input field. Nothing is sent. Calling it while not recording is a
// no-op.
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.Recording() {
		c.mu.Unlock()
		return nil
	}
	next, err := Reduce(c.state, Action{Type: ActionRecorder, Event: RecorderStopped})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	capture := c.capture
	c.capture = nil
	c.mu.Unlock()
	c.publish()

	audio, err := capture.Stop(ctx)
	if err != nil {
		c.log.Error("stop capture failed", zap.Error(err))
		_ = c.dispatch(Action{Type: ActionRecorder, Event: RecorderFailed})
		return fmt.Errorf("stop capture: %w", err)
	}

	text, err := c.deps.STT.Transcribe(ctx, audio)
	if err != nil {
		c.log.Error("transcription failed", zap.Error(err))
		_ = c.dispatch(Action{Type: ActionRecorder, Event: RecorderFailed})
		return fmt.Errorf("transcribe: %w", err)
	}

	return c.dispatch(Action{Type: ActionRecorder, Event: RecorderTranscribed, Text: text})
}
