package status

import "errors"

var (
	ErrUnrecognizedToken    = errors.New("token: unrecognized token")
	ErrNoCodeFound          = errors.New("scan: no code found in image")
	ErrRegistrationNotFound = errors.New("checkin: registration not found")
	ErrWrongEvent           = errors.New("checkin: token does not match event")
	ErrTicketExpired        = errors.New("checkin: ticket expired")
	ErrAuthorityUnavailable = errors.New("authority: issuing authority unavailable")
)
