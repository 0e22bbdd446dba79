package services

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"

	"gatepass/internal/status"
	"gatepass/models"
)

// RegistrationService reads registrations and events out of the backing
// store and mirrors admitted check-ins back into it.
type RegistrationService struct {
	db dbx.Builder
}

func NewRegistrationService(db dbx.Builder) *RegistrationService {
	return &RegistrationService{db: db}
}

func (s *RegistrationService) FindByID(ctx context.Context, registrationID string) (*models.Registration, error) {
	var row dbx.NullStringMap
	err := s.db.NewQuery(
		"SELECT id, event_id, name, email, roll_number, department, year, class, photo_url, fee, status, created FROM registrations WHERE id = {:id}",
	).Bind(dbx.Params{"id": registrationID}).WithContext(ctx).One(&row)
	if err != nil {
		return nil, status.ErrRegistrationNotFound
	}

	reg := &models.Registration{
		ID:      row["id"].String,
		EventID: row["event_id"].String,
		Holder: models.Holder{
			Name:       row["name"].String,
			Email:      row["email"].String,
			RollNumber: row["roll_number"].String,
			Department: row["department"].String,
			Year:       row["year"].String,
			Class:      row["class"].String,
		},
		PhotoURL: row["photo_url"].String,
		Status:   row["status"].String,
	}
	if fee, err := decimal.NewFromString(row["fee"].String); err == nil {
		reg.Fee = fee
	}
	if created, err := time.Parse("2006-01-02 15:04:05.000Z", row["created"].String); err == nil {
		reg.CreatedAt = created
	}

	return reg, nil
}

func (s *RegistrationService) FindEvent(ctx context.Context, eventID string) (*models.EventInfo, error) {
	var row dbx.NullStringMap
	err := s.db.NewQuery(
		"SELECT id, title, location, starts_at, ends_at FROM events WHERE id = {:id}",
	).Bind(dbx.Params{"id": eventID}).WithContext(ctx).One(&row)
	if err != nil {
		return nil, fmt.Errorf("FindEvent: %w", err)
	}

	event := &models.EventInfo{
		ID:       row["id"].String,
		Title:    row["title"].String,
		Location: row["location"].String,
	}
	if starts, err := time.Parse("2006-01-02 15:04:05.000Z", row["starts_at"].String); err == nil {
		event.StartTime = &starts
	}
	if ends, err := time.Parse("2006-01-02 15:04:05.000Z", row["ends_at"].String); err == nil {
		event.EndTime = &ends
	}

	return event, nil
}

// PhotoURL returns the authoritative profile photo for a registration, or
// "" when none is stored.
func (s *RegistrationService) PhotoURL(ctx context.Context, registrationID string) (string, error) {
	reg, err := s.FindByID(ctx, registrationID)
	if err != nil {
		return "", err
	}
	return reg.PhotoURL, nil
}

// RecordCheckIn mirrors an admitted check-in into the checkins collection.
// The Redis transition is the serialization point; this mirror is for
// reporting and survives restarts.
func (s *RegistrationService) RecordCheckIn(ctx context.Context, record *models.CheckInRecord) error {
	checkedInAt := ""
	if record.CheckedInAt != nil {
		checkedInAt = record.CheckedInAt.UTC().Format("2006-01-02 15:04:05.000Z")
	}

	_, err := s.db.NewQuery(
		"INSERT INTO checkins (registration_id, checked_in_at, checked_in_by) VALUES ({:rid}, {:at}, {:by})",
	).Bind(dbx.Params{
		"rid": record.RegistrationID,
		"at":  checkedInAt,
		"by":  record.CheckedInBy,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("RecordCheckIn: %w", err)
	}
	return nil
}
