package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatepass/internal/services/authority"
	"gatepass/internal/status"
	"gatepass/models"
	"gatepass/token"
)

type fakeReconciler struct {
	mu       sync.Mutex
	reply    *authority.ReconcileReply
	err      error
	photoURL string
	photoErr error
	block    bool
	calls    int
}

func (f *fakeReconciler) AttemptCheckIn(ctx context.Context, tokenText, operator string) (*authority.ReconcileReply, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeReconciler) LookupPhoto(ctx context.Context, registrationID string) (string, error) {
	if f.photoErr != nil {
		return "", f.photoErr
	}
	return f.photoURL, nil
}

func (f *fakeReconciler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func scannableToken(t *testing.T) string {
	t.Helper()
	return token.EncodeCompact(models.TicketPayload{
		Holder:         models.Holder{Name: "Asha Rao", RollNumber: "CS21B042"},
		Event:          models.EventInfo{ID: "ev7", Title: "Hack Night"},
		RegistrationID: "reg42",
	})
}

// collect drains a session, splitting state transitions from photo updates.
func collect(t *testing.T, session *ScanSession) (states []Update, photos []Update) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case update, ok := <-session.Updates():
			if !ok {
				return states, photos
			}
			if update.Kind == KindPhoto {
				photos = append(photos, update)
			} else {
				states = append(states, update)
			}
		case <-timeout:
			t.Fatal("session did not finish")
		}
	}
}

func stateSequence(states []Update) []ScanState {
	sequence := make([]ScanState, 0, len(states))
	for _, update := range states {
		sequence = append(sequence, update.State)
	}
	return sequence
}

func TestValidationService_ConfirmedFlow(t *testing.T) {
	checkedInAt := time.Date(2025, 11, 9, 18, 5, 0, 0, time.UTC)
	reconciler := &fakeReconciler{
		reply: &authority.ReconcileReply{
			Valid:       true,
			Success:     true,
			CheckedInAt: &checkedInAt,
			Holder:      &models.Holder{Name: "Asha Rao", Department: "Computer Science"},
		},
	}
	service := NewValidationService(reconciler, "gate-1")

	states, _ := collect(t, service.Scan(scannableToken(t)))

	assert.Equal(t, []ScanState{
		StateScanned,
		StateLocallyDisplayed,
		StateServerReconciling,
		StateConfirmed,
	}, stateSequence(states))

	final := states[len(states)-1]
	require.NotNil(t, final.Payload)
	// Store details replaced the token's self-reported holder.
	assert.Equal(t, "Computer Science", final.Payload.Holder.Department)
	require.NotNil(t, final.CheckedInAt)
	assert.Equal(t, checkedInAt, *final.CheckedInAt)
}

func TestValidationService_AlreadyAdmittedKeepsOriginalTimestamp(t *testing.T) {
	originalAt := time.Date(2025, 11, 9, 18, 5, 0, 0, time.UTC)
	reconciler := &fakeReconciler{
		reply: &authority.ReconcileReply{
			Valid:            true,
			AlreadyCheckedIn: true,
			CheckedInAt:      &originalAt,
		},
	}
	service := NewValidationService(reconciler, "gate-2")

	states, _ := collect(t, service.Scan(scannableToken(t)))

	final := states[len(states)-1]
	assert.Equal(t, StateAlreadyAdmitted, final.State)
	require.NotNil(t, final.CheckedInAt)
	assert.Equal(t, originalAt, *final.CheckedInAt)
}

func TestValidationService_RejectedRetainsLocalPayload(t *testing.T) {
	reconciler := &fakeReconciler{
		reply: &authority.ReconcileReply{Valid: false, ErrorMessage: "registration cancelled"},
	}
	service := NewValidationService(reconciler, "gate-1")

	states, _ := collect(t, service.Scan(scannableToken(t)))

	final := states[len(states)-1]
	assert.Equal(t, StateServerRejected, final.State)
	assert.Equal(t, "registration cancelled", final.Reason)
	// The gatekeeper still sees who presented the rejected ticket.
	require.NotNil(t, final.Payload)
	assert.Equal(t, "Asha Rao", final.Payload.Holder.Name)
}

func TestValidationService_UnreachableRetainsLocalPayload(t *testing.T) {
	reconciler := &fakeReconciler{err: status.ErrAuthorityUnavailable}
	service := NewValidationService(reconciler, "gate-1")

	states, _ := collect(t, service.Scan(scannableToken(t)))

	sequence := stateSequence(states)
	assert.Equal(t, StateLocallyDisplayed, sequence[1])
	final := states[len(states)-1]
	assert.Equal(t, StateServerUnreachable, final.State)
	require.NotNil(t, final.Payload)
	assert.Equal(t, "Asha Rao", final.Payload.Holder.Name)
}

func TestValidationService_FallbackTicketIsDisplayOnly(t *testing.T) {
	fallbackToken, err := token.EncodeLegacy(models.TicketPayload{
		Holder:         models.Holder{Name: "Asha Rao"},
		Event:          models.EventInfo{Title: "Hack Night"},
		RegistrationID: "reg42",
		IsFallback:     true,
	})
	require.NoError(t, err)

	reconciler := &fakeReconciler{}
	service := NewValidationService(reconciler, "gate-1")

	states, _ := collect(t, service.Scan(fallbackToken))

	assert.Equal(t, []ScanState{
		StateScanned,
		StateLocallyDisplayed,
		StateDisplayOnly,
	}, stateSequence(states))

	// Display-only tickets never reach the store.
	assert.Equal(t, 0, reconciler.callCount())
}

func TestValidationService_UnrecognizedInput(t *testing.T) {
	reconciler := &fakeReconciler{}
	service := NewValidationService(reconciler, "gate-1")

	states, _ := collect(t, service.Scan("complete garbage"))

	assert.Equal(t, []ScanState{StateScanned, StateUnrecognized}, stateSequence(states))
	assert.Equal(t, 0, reconciler.callCount())
}

func TestValidationService_PhotoArrivesBestEffort(t *testing.T) {
	reconciler := &fakeReconciler{
		reply:    &authority.ReconcileReply{Valid: true, Success: true},
		photoURL: "https://store.campus.edu/photos/reg42.jpg",
	}
	service := NewValidationService(reconciler, "gate-1")

	_, photos := collect(t, service.Scan(scannableToken(t)))

	require.Len(t, photos, 1)
	assert.Equal(t, "https://store.campus.edu/photos/reg42.jpg", photos[0].PhotoURL)
}

func TestValidationService_PhotoFailureDegradesSilently(t *testing.T) {
	reconciler := &fakeReconciler{
		reply:    &authority.ReconcileReply{Valid: true, Success: true},
		photoErr: context.DeadlineExceeded,
	}
	service := NewValidationService(reconciler, "gate-1")

	states, photos := collect(t, service.Scan(scannableToken(t)))

	assert.Empty(t, photos)
	assert.Equal(t, StateConfirmed, states[len(states)-1].State)
}

func TestValidationService_FreshScanSupersedesInFlight(t *testing.T) {
	reconciler := &fakeReconciler{block: true}
	service := NewValidationService(reconciler, "gate-1")

	stale := service.Scan(scannableToken(t))

	// Drain the stale session concurrently; it must terminate once the
	// fresh scan cancels it, without ever reaching a terminal state.
	staleStates := make(chan []Update, 1)
	go func() {
		var states []Update
		for update := range stale.Updates() {
			if update.Kind == KindState {
				states = append(states, update)
			}
		}
		staleStates <- states
	}()

	// Give the stale session time to reach reconciliation.
	time.Sleep(50 * time.Millisecond)

	reconciler.mu.Lock()
	reconciler.block = false
	reconciler.reply = &authority.ReconcileReply{Valid: true, Success: true}
	reconciler.mu.Unlock()

	fresh := service.Scan(scannableToken(t))
	freshUpdates, _ := collect(t, fresh)
	assert.Equal(t, StateConfirmed, freshUpdates[len(freshUpdates)-1].State)

	select {
	case states := <-staleStates:
		for _, update := range states {
			assert.NotEqual(t, StateConfirmed, update.State)
			assert.NotEqual(t, StateServerRejected, update.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("superseded session never terminated")
	}
}
