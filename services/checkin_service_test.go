package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatepass/internal/status"
	"gatepass/models"
	"gatepass/token"
)

type fakeStore struct {
	regs      map[string]*models.Registration
	recorded  []*models.CheckInRecord
	recordErr error
}

func (f *fakeStore) FindByID(ctx context.Context, registrationID string) (*models.Registration, error) {
	reg, ok := f.regs[registrationID]
	if !ok {
		return nil, status.ErrRegistrationNotFound
	}
	return reg, nil
}

func (f *fakeStore) RecordCheckIn(ctx context.Context, record *models.CheckInRecord) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, record)
	return nil
}

func setupTestCheckInService(regs map[string]*models.Registration) (*CheckInService, *fakeStore, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	store := &fakeStore{regs: regs}

	service := NewCheckInService(db, store, nil)
	return service, store, mock
}

func approvedRegistration() *models.Registration {
	return &models.Registration{
		ID:      "reg1",
		EventID: "ev1",
		Holder:  models.Holder{Name: "Asha Rao", RollNumber: "CS21B042"},
		Status:  "approved",
	}
}

func ticketToken(registrationID, eventID string) string {
	return token.EncodeCompact(models.TicketPayload{
		Holder:         models.Holder{Name: "Asha Rao"},
		Event:          models.EventInfo{ID: eventID},
		RegistrationID: registrationID,
	})
}

func TestCheckInService_AttemptCheckIn_FirstScanConfirmed(t *testing.T) {
	service, store, mock := setupTestCheckInService(map[string]*models.Registration{
		"reg1": approvedRegistration(),
	})
	defer mock.ClearExpect()

	now := time.Date(2025, 11, 9, 8, 30, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	mock.ExpectEval(checkInScript,
		[]string{"checkin:reg1", "event:checkins:ev1"},
		now.Unix(), "gate-1", "reg1",
	).SetVal([]interface{}{int64(1), now.Unix(), "gate-1"})

	result, err := service.AttemptCheckIn(context.Background(), ticketToken("reg1", "ev1"), "gate-1")
	require.NoError(t, err)

	assert.Equal(t, models.CheckInConfirmed, result.Status)
	require.NotNil(t, result.Record)
	assert.True(t, result.Record.IsCheckedIn)
	assert.Equal(t, "gate-1", result.Record.CheckedInBy)
	require.NotNil(t, result.Record.CheckedInAt)
	assert.Equal(t, now.Unix(), result.Record.CheckedInAt.Unix())

	// First admission is mirrored to the backing store.
	require.Len(t, store.recorded, 1)
	assert.Equal(t, "reg1", store.recorded[0].RegistrationID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckInService_AttemptCheckIn_RescanAlreadyAdmitted(t *testing.T) {
	service, store, mock := setupTestCheckInService(map[string]*models.Registration{
		"reg1": approvedRegistration(),
	})
	defer mock.ClearExpect()

	now := time.Date(2025, 11, 9, 9, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	// The script observed the flag already set and echoes the original
	// admission, not the re-scan's.
	originalAt := now.Add(-25 * time.Minute).Unix()
	mock.ExpectEval(checkInScript,
		[]string{"checkin:reg1", "event:checkins:ev1"},
		now.Unix(), "gate-2", "reg1",
	).SetVal([]interface{}{int64(0), strconv.FormatInt(originalAt, 10), "gate-1"})

	result, err := service.AttemptCheckIn(context.Background(), ticketToken("reg1", "ev1"), "gate-2")
	require.NoError(t, err)

	assert.Equal(t, models.CheckInAlreadyAdmitted, result.Status)
	require.NotNil(t, result.Record)
	assert.Equal(t, "gate-1", result.Record.CheckedInBy)
	require.NotNil(t, result.Record.CheckedInAt)
	assert.Equal(t, originalAt, result.Record.CheckedInAt.Unix())

	// Re-scans are not mirrored again.
	assert.Empty(t, store.recorded)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckInService_AttemptCheckIn_TwoDevicesOneWinner(t *testing.T) {
	service, _, mock := setupTestCheckInService(map[string]*models.Registration{
		"reg1": approvedRegistration(),
	})
	defer mock.ClearExpect()

	now := time.Date(2025, 11, 9, 8, 30, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	raw := ticketToken("reg1", "ev1")

	mock.ExpectEval(checkInScript,
		[]string{"checkin:reg1", "event:checkins:ev1"},
		now.Unix(), "gate-1", "reg1",
	).SetVal([]interface{}{int64(1), now.Unix(), "gate-1"})
	mock.ExpectEval(checkInScript,
		[]string{"checkin:reg1", "event:checkins:ev1"},
		now.Unix(), "gate-2", "reg1",
	).SetVal([]interface{}{int64(0), strconv.FormatInt(now.Unix(), 10), "gate-1"})

	first, err := service.AttemptCheckIn(context.Background(), raw, "gate-1")
	require.NoError(t, err)
	second, err := service.AttemptCheckIn(context.Background(), raw, "gate-2")
	require.NoError(t, err)

	statuses := []models.CheckInStatus{first.Status, second.Status}
	assert.Contains(t, statuses, models.CheckInConfirmed)
	assert.Contains(t, statuses, models.CheckInAlreadyAdmitted)

	// The loser sees the winner's admission, not its own attempt.
	assert.Equal(t, "gate-1", second.Record.CheckedInBy)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckInService_AttemptCheckIn_Rejections(t *testing.T) {
	expired := models.TicketPayload{
		Holder:         models.Holder{Name: "Asha Rao"},
		Event:          models.EventInfo{ID: "ev1"},
		RegistrationID: "reg1",
		IssuedAt:       time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:      time.Date(2025, 10, 8, 0, 0, 0, 0, time.UTC),
		IsFallback:     true,
	}
	expiredToken, err := token.EncodeLegacy(expired)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"unrecognized token", "garbage input", "unrecognized token"},
		{"no registration id", "N:Asha Rao|T:Hack Night", "token carries no registration id"},
		{"registration not found", ticketToken("missing", "ev1"), status.ErrRegistrationNotFound.Error()},
		{"wrong event", ticketToken("reg1", "other-event"), status.ErrWrongEvent.Error()},
		{"expired fallback ticket", expiredToken, status.ErrTicketExpired.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, store, mock := setupTestCheckInService(map[string]*models.Registration{
				"reg1": approvedRegistration(),
			})
			defer mock.ClearExpect()

			service.now = func() time.Time {
				return time.Date(2025, 11, 9, 8, 30, 0, 0, time.UTC)
			}

			result, err := service.AttemptCheckIn(context.Background(), tt.token, "gate-1")

			// Business rejections are results, not errors.
			require.NoError(t, err)
			assert.Equal(t, models.CheckInRejected, result.Status)
			assert.Equal(t, tt.reason, result.Reason)
			assert.Empty(t, store.recorded)

			// No rejection reaches the Redis transition.
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCheckInService_AttemptCheckIn_RedisErrorPropagates(t *testing.T) {
	service, _, mock := setupTestCheckInService(map[string]*models.Registration{
		"reg1": approvedRegistration(),
	})
	defer mock.ClearExpect()

	now := time.Date(2025, 11, 9, 8, 30, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	mock.ExpectEval(checkInScript,
		[]string{"checkin:reg1", "event:checkins:ev1"},
		now.Unix(), "gate-1", "reg1",
	).SetErr(errors.New("connection refused"))

	result, err := service.AttemptCheckIn(context.Background(), ticketToken("reg1", "ev1"), "gate-1")
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestCheckInService_AttemptCheckIn_MirrorFailureDoesNotBlock(t *testing.T) {
	service, store, mock := setupTestCheckInService(map[string]*models.Registration{
		"reg1": approvedRegistration(),
	})
	defer mock.ClearExpect()

	store.recordErr = errors.New("store unavailable")

	now := time.Date(2025, 11, 9, 8, 30, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	mock.ExpectEval(checkInScript,
		[]string{"checkin:reg1", "event:checkins:ev1"},
		now.Unix(), "gate-1", "reg1",
	).SetVal([]interface{}{int64(1), now.Unix(), "gate-1"})

	result, err := service.AttemptCheckIn(context.Background(), ticketToken("reg1", "ev1"), "gate-1")

	// The Redis transition already happened; the mirror is best-effort.
	require.NoError(t, err)
	assert.Equal(t, models.CheckInConfirmed, result.Status)
}

func TestCheckInService_Status(t *testing.T) {
	service, _, mock := setupTestCheckInService(nil)
	defer mock.ClearExpect()

	at := time.Date(2025, 11, 9, 8, 30, 0, 0, time.UTC)
	mock.ExpectHGetAll("checkin:reg1").SetVal(map[string]string{
		"checked_in":    "1",
		"checked_in_at": strconv.FormatInt(at.Unix(), 10),
		"checked_in_by": "gate-1",
	})
	mock.ExpectHGetAll("checkin:reg2").SetVal(map[string]string{})

	admitted, err := service.Status(context.Background(), "reg1")
	require.NoError(t, err)
	assert.True(t, admitted.IsCheckedIn)
	assert.Equal(t, "gate-1", admitted.CheckedInBy)
	require.NotNil(t, admitted.CheckedInAt)
	assert.Equal(t, at.Unix(), admitted.CheckedInAt.Unix())

	fresh, err := service.Status(context.Background(), "reg2")
	require.NoError(t, err)
	assert.False(t, fresh.IsCheckedIn)
	assert.Nil(t, fresh.CheckedInAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckInService_AdmissionCount(t *testing.T) {
	service, _, mock := setupTestCheckInService(nil)
	defer mock.ClearExpect()

	mock.ExpectSCard("event:checkins:ev1").SetVal(42)

	count, err := service.AdmissionCount(context.Background(), "ev1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}
