package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockprep/interview-server/internal/llm"
	"github.com/mockprep/interview-server/internal/store"
)

func startedInterview(t *testing.T, mock *llm.MockProvider, fs *fakeStore) *Interview {
	t.Helper()
	var ts TranscriptStore
	userID := ""
	if fs != nil {
		ts = fs
		userID = "alice"
	}
	iv := NewInterview(testDeps(mock, ts), userID, InterviewConfig{RoleType: store.RoleSoftwareEngineer})
	_, err := iv.Start(context.Background())
	require.NoError(t, err)
	return iv
}

func TestSelfPlayRunsToCompletion(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.Questions = 2
	fs := newFakeStore()
	iv := startedInterview(t, mock, fs)
	sink := &recordingSink{}

	d := NewSelfPlayDriver(iv, iv.deps.Gateway, sink, 0)
	require.NoError(t, d.Start())
	d.Wait()

	st := d.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 2, st.Turns)
	assert.Empty(t, st.LastError)
	assert.NoError(t, d.Err())

	assert.Equal(t, StateCompleted, iv.State())
	assert.Equal(t, 2, mock.CallCount(llm.ModeCandidate))
	history := iv.Transcript()
	require.Len(t, history, 5)
	assert.NotContains(t, history[4].Content, CompletionMarker)
	assert.Equal(t, store.StatusCompleted, fs.stored(iv.ID()).Status)
	assert.Equal(t, []EventType{EventSelfPlayStarted, EventSelfPlayStopped}, sink.types())
}

func TestSelfPlayStopDuringDelay(t *testing.T) {
	mock := llm.NewMockProvider()
	iv := startedInterview(t, mock, nil)

	d := NewSelfPlayDriver(iv, iv.deps.Gateway, nil, time.Minute)
	require.NoError(t, d.Start())
	require.Eventually(t, func() bool { return d.Status().Turns >= 1 }, 5*time.Second, 5*time.Millisecond)

	d.Stop()
	d.Wait()

	assert.False(t, d.Status().Running)
	assert.Equal(t, 1, mock.CallCount(llm.ModeCandidate), "no candidate turn is requested after stop")
	assert.Len(t, iv.Transcript(), 3)
	assert.Equal(t, StateActive, iv.State())
	assert.NoError(t, d.Err())
}

func TestSelfPlayStartIsIdempotent(t *testing.T) {
	mock := llm.NewMockProvider()
	iv := startedInterview(t, mock, nil)

	d := NewSelfPlayDriver(iv, iv.deps.Gateway, nil, time.Minute)
	require.NoError(t, d.Start())
	require.NoError(t, d.Start())
	require.Eventually(t, func() bool { return d.Status().Turns >= 1 }, 5*time.Second, 5*time.Millisecond)
	d.Stop()
	d.Wait()

	assert.Equal(t, 1, mock.CallCount(llm.ModeCandidate))
}

func TestSelfPlayRefusesCompletedInterview(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.Replies = replies("Hello and goodbye. [INTERVIEW_COMPLETE]")
	iv := startedInterview(t, mock, nil)
	require.Equal(t, StateCompleted, iv.State())

	d := NewSelfPlayDriver(iv, iv.deps.Gateway, nil, 0)
	assert.ErrorIs(t, d.Start(), ErrSessionCompleted)
	assert.False(t, d.Status().Running)
	assert.Zero(t, mock.CallCount(llm.ModeCandidate))
}

func TestSelfPlayRefusesUnstartedInterview(t *testing.T) {
	mock := llm.NewMockProvider()
	iv := NewInterview(testDeps(mock, nil), "", InterviewConfig{})
	d := NewSelfPlayDriver(iv, iv.deps.Gateway, nil, 0)
	assert.ErrorIs(t, d.Start(), ErrNotStarted)
}

func TestSelfPlayStopWhenIdle(t *testing.T) {
	iv := startedInterview(t, llm.NewMockProvider(), nil)
	d := NewSelfPlayDriver(iv, iv.deps.Gateway, nil, 0)
	d.Stop()
	d.Wait()
	assert.False(t, d.Status().Running)
}

func TestSelfPlayStopsOnGenerationFailure(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.Replies = []*llm.Response{{Text: "Welcome!"}, nil}
	iv := startedInterview(t, mock, nil)
	sink := &recordingSink{}

	d := NewSelfPlayDriver(iv, iv.deps.Gateway, sink, 0)
	require.NoError(t, d.Start())
	d.Wait()

	assert.ErrorIs(t, d.Err(), ErrGenerationFailed)
	st := d.Status()
	assert.False(t, st.Running)
	assert.Zero(t, st.Turns)
	assert.NotEmpty(t, st.LastError)
	assert.Len(t, iv.Transcript(), 1)
	assert.Equal(t, []EventType{EventSelfPlayStarted, EventSelfPlayStopped}, sink.types())
}

func TestSelfPlayStopDuringCandidateGeneration(t *testing.T) {
	mock := llm.NewMockProvider()
	iv := startedInterview(t, mock, nil)
	before := len(iv.Transcript())

	bp := newBlockingProvider(mock, llm.ModeCandidate)
	d := NewSelfPlayDriver(iv, NewGateway(bp, nil), nil, 0)
	require.NoError(t, d.Start())

	<-bp.started
	d.Stop()
	close(bp.release)
	d.Wait()

	assert.Equal(t, 1, mock.CallCount(llm.ModeCandidate))
	assert.Equal(t, 1, mock.CallCount(llm.ModeInterviewer), "only the opening turn")
	assert.Len(t, iv.Transcript(), before)
	assert.False(t, d.Status().Running)
	assert.NoError(t, d.Err())
}

func TestSelfPlayStopDuringInterviewerTurn(t *testing.T) {
	mock := llm.NewMockProvider()
	iv := startedInterview(t, mock, nil)
	before := len(iv.Transcript())

	bp := newBlockingProvider(mock, llm.ModeInterviewer)
	iv.deps.Gateway = NewGateway(bp, nil)
	d := NewSelfPlayDriver(iv, NewGateway(mock, nil), nil, 0)
	require.NoError(t, d.Start())

	<-bp.started
	d.Stop()
	close(bp.release)
	d.Wait()

	// The pair in flight completes; nothing is requested after it.
	assert.Len(t, iv.Transcript(), before+2)
	assert.Equal(t, 1, mock.CallCount(llm.ModeCandidate))
	assert.Equal(t, 1, d.Status().Turns)
	assert.NoError(t, d.Err())
}
