package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"gatepass/internal/status"
	"gatepass/models"
	"gatepass/monitoring"
	"gatepass/token"
)

// RegistrationStore is the slice of the backing store the check-in
// transition needs.
type RegistrationStore interface {
	FindByID(ctx context.Context, registrationID string) (*models.Registration, error)
	RecordCheckIn(ctx context.Context, record *models.CheckInRecord) error
}

// checkInScript is the single serialization point for admissions. Two
// scanning devices racing on the same registration both run this script;
// exactly one observes the unset flag and wins, the other gets the original
// admission back. The read and the write must stay in one script, a
// read-then-write from Go would reintroduce the race.
var checkInScript = `
local current = redis.call("HGET", KEYS[1], "checked_in")
if current == "1" then
	return {0, redis.call("HGET", KEYS[1], "checked_in_at"), redis.call("HGET", KEYS[1], "checked_in_by")}
end
redis.call("HSET", KEYS[1], "checked_in", "1", "checked_in_at", ARGV[1], "checked_in_by", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
return {1, ARGV[1], ARGV[2]}
`

// CheckInService owns the store side of the admission protocol. Clients
// only propose a transition; the result returned from here is authoritative.
type CheckInService struct {
	Redis  *redis.Client
	store  RegistrationStore
	pubnub *pubnub.PubNub
	now    func() time.Time
}

func NewCheckInService(redisClient *redis.Client, store RegistrationStore, pn *pubnub.PubNub) *CheckInService {
	return &CheckInService{
		Redis:  redisClient,
		store:  store,
		pubnub: pn,
		now:    time.Now,
	}
}

func checkInKey(registrationID string) string {
	return fmt.Sprintf("checkin:%s", registrationID)
}

func eventCheckInsKey(eventID string) string {
	return fmt.Sprintf("event:checkins:%s", eventID)
}

// AttemptCheckIn interprets a raw wire token and proposes the
// not-checked-in -> checked-in transition. Idempotent: the first call for a
// registration yields Confirmed, every later call AlreadyAdmitted with the
// original admission timestamp. Business rejections are returned as a
// Rejected result, not as an error.
func (s *CheckInService) AttemptCheckIn(ctx context.Context, rawToken, operator string) (*models.CheckInResult, error) {
	parsed, err := token.Parse(rawToken)
	if err != nil {
		monitoring.TrackCheckIn("unrecognized")
		return &models.CheckInResult{
			Status: models.CheckInRejected,
			Reason: "unrecognized token",
		}, nil
	}

	payload := parsed.Payload
	if payload.RegistrationID == "" {
		monitoring.TrackCheckIn("rejected")
		return &models.CheckInResult{
			Status: models.CheckInRejected,
			Reason: "token carries no registration id",
		}, nil
	}

	reg, err := s.store.FindByID(ctx, payload.RegistrationID)
	if err != nil {
		monitoring.TrackCheckIn("rejected")
		return &models.CheckInResult{
			Status: models.CheckInRejected,
			Reason: status.ErrRegistrationNotFound.Error(),
		}, nil
	}

	if payload.Event.ID != "" && payload.Event.ID != reg.EventID {
		monitoring.TrackCheckIn("rejected")
		return &models.CheckInResult{
			Status: models.CheckInRejected,
			Reason: status.ErrWrongEvent.Error(),
		}, nil
	}

	if payload.Expired(s.now()) {
		monitoring.TrackCheckIn("rejected")
		return &models.CheckInResult{
			Status: models.CheckInRejected,
			Reason: status.ErrTicketExpired.Error(),
		}, nil
	}

	now := s.now().UTC()
	reply, err := s.Redis.Eval(ctx, checkInScript,
		[]string{checkInKey(reg.ID), eventCheckInsKey(reg.EventID)},
		now.Unix(), operator, reg.ID,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("AttemptCheckIn: redis.Eval: %w", err)
	}

	values, ok := reply.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("AttemptCheckIn: unexpected script reply: %v", reply)
	}

	admitted, _ := values[0].(int64)
	checkedInAt := parseScriptTime(values[1])
	checkedInBy, _ := values[2].(string)

	record := &models.CheckInRecord{
		RegistrationID: reg.ID,
		IsCheckedIn:    true,
		CheckedInAt:    checkedInAt,
		CheckedInBy:    checkedInBy,
	}

	if admitted != 1 {
		monitoring.TrackCheckIn("already_admitted")
		return &models.CheckInResult{
			Status: models.CheckInAlreadyAdmitted,
			Record: record,
		}, nil
	}

	// First admission: mirror to the store and notify the gate dashboards.
	// Both are best-effort, the Redis transition already happened.
	if err := s.store.RecordCheckIn(ctx, record); err != nil {
		slog.Error("check-in mirror failed", "registrationID", reg.ID, "error", err)
	}
	s.publishAdmission(reg, record)

	monitoring.TrackCheckIn("confirmed")
	return &models.CheckInResult{
		Status: models.CheckInConfirmed,
		Record: record,
	}, nil
}

// Status reads the current check-in record without proposing a transition.
func (s *CheckInService) Status(ctx context.Context, registrationID string) (*models.CheckInRecord, error) {
	values, err := s.Redis.HGetAll(ctx, checkInKey(registrationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("Status: redis.HGetAll: %w", err)
	}

	record := &models.CheckInRecord{RegistrationID: registrationID}
	if values["checked_in"] == "1" {
		record.IsCheckedIn = true
		record.CheckedInAt = parseScriptTime(values["checked_in_at"])
		record.CheckedInBy = values["checked_in_by"]
	}
	return record, nil
}

// AdmissionCount returns how many registrations were admitted to an event.
func (s *CheckInService) AdmissionCount(ctx context.Context, eventID string) (int64, error) {
	count, err := s.Redis.SCard(ctx, eventCheckInsKey(eventID)).Result()
	if err != nil {
		return 0, fmt.Errorf("AdmissionCount: redis.SCard: %w", err)
	}
	return count, nil
}

func (s *CheckInService) publishAdmission(reg *models.Registration, record *models.CheckInRecord) {
	if s.pubnub == nil {
		return
	}

	channel := fmt.Sprintf("gate-%s", reg.EventID)
	s.pubnub.Publish().
		Channel(channel).
		Message(map[string]any{
			"type":            "admission",
			"registration_id": reg.ID,
			"event_id":        reg.EventID,
			"participant":     reg.Holder.DisplayName(),
			"checked_in_by":   record.CheckedInBy,
		}).
		Execute()
}

// parseScriptTime accepts the unix-seconds value in either the form the
// script echoes back (int passthrough) or the form Redis returns from HGET
// (bulk string).
func parseScriptTime(v any) *time.Time {
	var secs int64
	switch value := v.(type) {
	case int64:
		secs = value
	case string:
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil
		}
		secs = parsed
	default:
		return nil
	}
	if secs == 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}
