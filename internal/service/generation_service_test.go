package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storyteller/internal/database"
	"storyteller/internal/interfaces"
	"storyteller/internal/interfaces/mocks"
	"storyteller/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testScope = "app-test"

// fakeSubjects - управляемый источник личности.
type fakeSubjects struct {
	mu      sync.Mutex
	subject string
}

func (f *fakeSubjects) Subject() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subject, f.subject != ""
}

func (f *fakeSubjects) ScopeID() string { return testScope }

func (f *fakeSubjects) set(subject string) {
	f.mu.Lock()
	f.subject = subject
	f.mu.Unlock()
}

type generationFixture struct {
	subjects *fakeSubjects
	client   *mocks.GenerationClient
	store    *mocks.RecordStore
	metrics  *Metrics
	ctrl     *GenerationController

	mu     sync.Mutex
	states []GenerationState
}

func newGenerationFixture(t *testing.T, subject string) *generationFixture {
	t.Helper()
	f := &generationFixture{
		subjects: &fakeSubjects{subject: subject},
		client:   new(mocks.GenerationClient),
		store:    new(mocks.RecordStore),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	f.ctrl = NewGenerationController(f.subjects, f.client, f.store, 5*time.Second, f.metrics, zap.NewNop())
	f.ctrl.OnChange(func(s GenerationState) {
		f.mu.Lock()
		f.states = append(f.states, s)
		f.mu.Unlock()
	})
	return f
}

// loadingExits считает переходы из loading в любое другое состояние.
func (f *generationFixture) loadingExits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	exits := 0
	for i := 1; i < len(f.states); i++ {
		if f.states[i-1].Status == models.GenerationLoading && f.states[i].Status != models.GenerationLoading {
			exits++
		}
	}
	return exits
}

func expectedRequest(owner, keywords string) interfaces.GenerationRequest {
	return interfaces.GenerationRequest{Keywords: keywords, Owner: owner, ScopeID: testScope}
}

func TestGenerate_Success(t *testing.T) {
	f := newGenerationFixture(t, "u1")
	f.ctrl.SetKeywords("robot, moon")
	f.client.On("Generate", mock.Anything, expectedRequest("u1", "robot, moon")).Return("A robot on the moon.", nil).Once()
	f.store.On("Create", mock.Anything, models.CollectionPath(testScope, "u1"), models.NewStoryRecord{
		Owner: "u1", Keywords: "robot, moon", Narrative: "A robot on the moon.",
	}).Return("rec-1", nil).Once()

	err := f.ctrl.Generate(context.Background(), "  robot, moon ")

	require.NoError(t, err)
	s := f.ctrl.State()
	assert.Equal(t, models.GenerationSuccess, s.Status)
	assert.Equal(t, "A robot on the moon.", s.Narrative)
	assert.Equal(t, "rec-1", s.LastRecordID)
	assert.Empty(t, s.Keywords, "keyword input is cleared after a successful save")
	assert.Equal(t, msgGenerated, s.Message)
	assert.Equal(t, 1, f.loadingExits())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.generationTotal.WithLabelValues(OutcomeSuccess)))
	f.client.AssertExpectations(t)
	f.store.AssertExpectations(t)
}

func TestGenerate_EmptyKeywordsNoRemoteCall(t *testing.T) {
	for _, kw := range []string{"", "   ", "\t\n"} {
		f := newGenerationFixture(t, "u1")

		err := f.ctrl.Generate(context.Background(), kw)

		assert.True(t, errors.Is(err, models.ErrEmptyKeywords))
		assert.Equal(t, msgEmptyKeywords, f.ctrl.State().Message)
		assert.Equal(t, models.GenerationIdle, f.ctrl.State().Status)
		f.client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestGenerate_NotAuthenticatedNoRemoteCall(t *testing.T) {
	f := newGenerationFixture(t, "")

	err := f.ctrl.Generate(context.Background(), "dragon")

	assert.True(t, errors.Is(err, models.ErrNotAuthenticated))
	assert.Contains(t, f.ctrl.State().Message, "not authenticated")
	f.client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerate_EmptyKeywordsCheckedBeforeIdentity(t *testing.T) {
	f := newGenerationFixture(t, "")

	err := f.ctrl.Generate(context.Background(), " ")

	assert.True(t, errors.Is(err, models.ErrEmptyKeywords))
}

func TestGenerate_RemoteErrorSurfacesStatusAndBody(t *testing.T) {
	f := newGenerationFixture(t, "u1")
	f.client.On("Generate", mock.Anything, mock.Anything).
		Return("", &models.RemoteError{StatusCode: 500, Status: "Internal Server Error", Body: "internal error"}).Once()

	err := f.ctrl.Generate(context.Background(), "dragon")

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrGenerationFailed))
	s := f.ctrl.State()
	assert.Equal(t, models.GenerationError, s.Status)
	assert.Contains(t, s.Message, "500")
	assert.Contains(t, s.Message, "internal error")
	assert.Equal(t, models.FailedNarrative, s.Narrative)
	assert.Empty(t, s.LastRecordID)
	assert.Equal(t, "dragon", s.Keywords, "input is preserved for resubmission")
	assert.Equal(t, 1, f.loadingExits())
	f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_TransportErrorIsWrapped(t *testing.T) {
	f := newGenerationFixture(t, "u1")
	f.client.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("connection refused")).Once()

	err := f.ctrl.Generate(context.Background(), "dragon")

	assert.True(t, errors.Is(err, models.ErrGenerationFailed))
	assert.Equal(t, "Error: connection refused", f.ctrl.State().Message)
}

func TestGenerate_PersistenceFailureKeepsNarrative(t *testing.T) {
	f := newGenerationFixture(t, "u1")
	f.client.On("Generate", mock.Anything, mock.Anything).Return("N", nil).Once()
	f.store.On("Create", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("quota exceeded")).Once()

	err := f.ctrl.Generate(context.Background(), "dragon")

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPersistenceFailed))
	s := f.ctrl.State()
	assert.Equal(t, "N", s.Narrative)
	assert.Contains(t, s.Message, "could not be saved")
	assert.Contains(t, s.Message, "quota exceeded")
	assert.Empty(t, s.LastRecordID, "no feedback target without a persisted record")
	assert.Equal(t, models.GenerationError, s.Status)
	assert.Equal(t, 1, f.loadingExits())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.generationTotal.WithLabelValues(OutcomePersistenceError)))
}

func TestGenerate_SecondCallWhileInFlightRejected(t *testing.T) {
	f := newGenerationFixture(t, "u1")
	started := make(chan struct{})
	release := make(chan struct{})
	f.client.On("Generate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return("N", nil).Once()
	f.store.On("Create", mock.Anything, mock.Anything, mock.Anything).Return("rec-1", nil).Once()

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Generate(context.Background(), "first") }()
	<-started

	assert.Equal(t, models.GenerationLoading, f.ctrl.State().Status)
	err := f.ctrl.Generate(context.Background(), "second")
	assert.True(t, errors.Is(err, models.ErrGenerationInFlight))

	close(release)
	require.NoError(t, <-done)
	f.client.AssertNumberOfCalls(t, "Generate", 1)
	assert.Equal(t, 1, f.loadingExits())
}

func TestGenerate_ClearsPreviousNarrativeOnStart(t *testing.T) {
	f := newGenerationFixture(t, "u1")
	f.client.On("Generate", mock.Anything, expectedRequest("u1", "one")).Return("First", nil).Once()
	f.store.On("Create", mock.Anything, mock.Anything, mock.Anything).Return("rec-1", nil).Once()
	require.NoError(t, f.ctrl.Generate(context.Background(), "one"))

	var loading GenerationState
	release := make(chan struct{})
	f.client.On("Generate", mock.Anything, expectedRequest("u1", "two")).Run(func(mock.Arguments) {
		loading = f.ctrl.State()
		close(release)
	}).Return("", errors.New("boom")).Once()

	_ = f.ctrl.Generate(context.Background(), "two")
	<-release

	assert.Empty(t, loading.Narrative)
	assert.Empty(t, loading.LastRecordID)
	assert.Equal(t, msgGenerating, loading.Message)
}

func TestGenerate_StaleResponseDiscarded(t *testing.T) {
	f := newGenerationFixture(t, "u1")
	f.client.On("Generate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		// Пользователь вышел и вошёл под другой личностью, пока запрос был в полёте
		f.subjects.set("u2")
	}).Return("N", nil).Once()

	err := f.ctrl.Generate(context.Background(), "dragon")

	assert.True(t, errors.Is(err, models.ErrStaleResponse))
	s := f.ctrl.State()
	assert.NotEqual(t, models.GenerationLoading, s.Status)
	assert.Empty(t, s.Narrative)
	assert.Empty(t, s.LastRecordID)
	assert.Equal(t, 1, f.loadingExits())
	f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_CallerCancellationDoesNotAbortRemoteCallOrSave(t *testing.T) {
	store := database.NewMemoryRecordStore(database.MemoryStoreOptions{}, zap.NewNop())
	client := new(mocks.GenerationClient)
	ctrl := NewGenerationController(&fakeSubjects{subject: "u1"}, client, store, 5*time.Second, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	client.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		// Ctrl-C, пока запрос в полёте
		cancel()
		callCtx := args.Get(0).(context.Context)
		assert.NoError(t, callCtx.Err())
	}).Return("N", nil).Once()

	require.NoError(t, ctrl.Generate(ctx, "dragon"))

	s := ctrl.State()
	assert.Equal(t, models.GenerationSuccess, s.Status)
	assert.Equal(t, "N", s.Narrative)
	require.NotEmpty(t, s.LastRecordID)
	records := store.Records(models.CollectionPath(testScope, "u1"))
	require.Len(t, records, 1)
	assert.Equal(t, s.LastRecordID, records[0].ID)
}

func TestGenerate_IdentityChangeDuringSaveDiscardsResult(t *testing.T) {
	f := newGenerationFixture(t, "u1")
	f.client.On("Generate", mock.Anything, mock.Anything).Return("N", nil).Once()
	f.store.On("Create", mock.Anything, models.CollectionPath(testScope, "u1"), mock.Anything).Run(func(mock.Arguments) {
		f.subjects.set("u2")
	}).Return("rec-u1", nil).Once()

	err := f.ctrl.Generate(context.Background(), "dragon")

	assert.True(t, errors.Is(err, models.ErrStaleResponse))
	s := f.ctrl.State()
	assert.Equal(t, models.GenerationIdle, s.Status)
	assert.Empty(t, s.Narrative)
	assert.Empty(t, s.LastRecordID)
	assert.Equal(t, 1, f.loadingExits())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.generationTotal.WithLabelValues(OutcomeStale)))
}

func TestGenerate_ResetAfterSignOut(t *testing.T) {
	f := newGenerationFixture(t, "u1")
	f.client.On("Generate", mock.Anything, mock.Anything).Return("N", nil).Once()
	f.store.On("Create", mock.Anything, mock.Anything, mock.Anything).Return("rec-1", nil).Once()
	require.NoError(t, f.ctrl.Generate(context.Background(), "dragon"))

	f.ctrl.Reset()

	assert.Equal(t, GenerationState{Status: models.GenerationIdle}, f.ctrl.State())
}
