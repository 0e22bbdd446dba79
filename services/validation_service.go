package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatepass/internal/services/authority"
	"gatepass/models"
	"gatepass/monitoring"
	"gatepass/token"
)

// Reconciler is the slice of the authority client the validation side uses.
type Reconciler interface {
	AttemptCheckIn(ctx context.Context, tokenText, operator string) (*authority.ReconcileReply, error)
	LookupPhoto(ctx context.Context, registrationID string) (string, error)
}

// ScanState is the per-scan state machine of the gatekeeper's device.
type ScanState string

const (
	StateScanned           ScanState = "scanned"
	StateUnrecognized      ScanState = "unrecognized"
	StateLocallyDisplayed  ScanState = "locally_displayed"
	StateDisplayOnly       ScanState = "display_only"
	StateServerReconciling ScanState = "server_reconciling"
	StateConfirmed         ScanState = "confirmed"
	StateAlreadyAdmitted   ScanState = "already_admitted"
	StateServerRejected    ScanState = "server_rejected"
	StateServerUnreachable ScanState = "server_unreachable"
)

type UpdateKind string

const (
	KindState UpdateKind = "state"
	KindPhoto UpdateKind = "photo"
)

// Update is one transition (or photo resolution) delivered to the render
// loop. Payload stays populated through rejection and unreachability: the
// gatekeeper keeps seeing who attempted entry.
type Update struct {
	Kind        UpdateKind
	State       ScanState
	Payload     *models.TicketPayload
	CheckedInAt *time.Time
	Reason      string
	PhotoURL    string
}

// ValidationService owns at most one live scan session per device. A fresh
// scan supersedes the previous session: its context is cancelled and any
// late reconciliation response is dropped instead of overwriting the newer
// scan's display.
type ValidationService struct {
	reconciler Reconciler
	operator   string

	mu      sync.Mutex
	current *ScanSession
}

func NewValidationService(reconciler Reconciler, operator string) *ValidationService {
	return &ValidationService{
		reconciler: reconciler,
		operator:   operator,
	}
}

// Scan starts a new session for one raw scanned string and returns it
// immediately; transitions arrive on the session channel.
func (v *ValidationService) Scan(raw string) *ScanSession {
	ctx, cancel := context.WithCancel(context.Background())
	session := &ScanSession{
		ID:         uuid.New().String(),
		reconciler: v.reconciler,
		operator:   v.operator,
		ctx:        ctx,
		cancel:     cancel,
		updates:    make(chan Update, 8),
	}

	v.mu.Lock()
	if v.current != nil {
		v.current.cancel()
	}
	v.current = session
	v.mu.Unlock()

	go session.run(raw)
	return session
}

type ScanSession struct {
	ID string

	reconciler Reconciler
	operator   string
	ctx        context.Context
	cancel     context.CancelFunc
	updates    chan Update
	photoWG    sync.WaitGroup
}

// Updates delivers transitions in order. The channel closes once the
// session reaches a terminal state and the photo lookup (if any) resolved
// or was abandoned.
func (s *ScanSession) Updates() <-chan Update {
	return s.updates
}

// Cancel abandons the session; pending updates are dropped.
func (s *ScanSession) Cancel() {
	s.cancel()
}

func (s *ScanSession) emit(u Update) {
	select {
	case s.updates <- u:
	case <-s.ctx.Done():
	}
}

func (s *ScanSession) emitState(state ScanState, payload *models.TicketPayload) {
	s.emit(Update{Kind: KindState, State: state, Payload: payload})
}

func (s *ScanSession) run(raw string) {
	defer func() {
		s.photoWG.Wait()
		close(s.updates)
	}()

	s.emitState(StateScanned, nil)

	parsed, err := token.Parse(raw)
	if err != nil {
		// The operator still sees that a code was scanned, just with no
		// extractable data.
		monitoring.TrackParse("none", "unrecognized")
		s.emitState(StateUnrecognized, nil)
		return
	}
	monitoring.TrackParse(string(parsed.Dialect), "ok")

	payload := parsed.Payload

	// Local render always precedes any server-dependent transition, so the
	// gatekeeper can start manual ID verification while reconciliation is
	// in flight.
	s.emitState(StateLocallyDisplayed, payload)

	if payload.RegistrationID != "" {
		s.photoWG.Add(1)
		go s.lookupPhoto(payload.RegistrationID)
	}

	if !parsed.ServerDecodable() {
		s.emitState(StateDisplayOnly, payload)
		return
	}

	s.emitState(StateServerReconciling, payload)

	started := time.Now()
	reply, err := s.reconciler.AttemptCheckIn(s.ctx, parsed.Raw, s.operator)
	if err != nil {
		// A superseded session's response never surfaces.
		if s.ctx.Err() != nil {
			return
		}
		monitoring.TrackReconcile("unreachable", time.Since(started))
		s.emit(Update{
			Kind:    KindState,
			State:   StateServerUnreachable,
			Payload: payload,
			Reason:  err.Error(),
		})
		return
	}

	switch {
	case reply.Success:
		monitoring.TrackReconcile("confirmed", time.Since(started))
		s.emit(Update{
			Kind:        KindState,
			State:       StateConfirmed,
			Payload:     mergeAuthoritative(payload, reply),
			CheckedInAt: reply.CheckedInAt,
		})
	case reply.AlreadyCheckedIn:
		// Expected outcome of re-scanning a used ticket, rendered as
		// success-adjacent, not as a rejection.
		monitoring.TrackReconcile("already_admitted", time.Since(started))
		s.emit(Update{
			Kind:        KindState,
			State:       StateAlreadyAdmitted,
			Payload:     mergeAuthoritative(payload, reply),
			CheckedInAt: reply.CheckedInAt,
		})
	default:
		monitoring.TrackReconcile("rejected", time.Since(started))
		reason := reply.ErrorMessage
		if reason == "" {
			reason = "registration rejected by the store"
		}
		s.emit(Update{
			Kind:    KindState,
			State:   StateServerRejected,
			Payload: payload,
			Reason:  reason,
		})
	}
}

// lookupPhoto is fire-and-forget: it never gates a transition and any
// failure degrades silently to "no photo".
func (s *ScanSession) lookupPhoto(registrationID string) {
	defer s.photoWG.Done()

	photoURL, err := s.reconciler.LookupPhoto(s.ctx, registrationID)
	if err != nil || photoURL == "" {
		return
	}
	s.emit(Update{Kind: KindPhoto, PhotoURL: photoURL})
}

// mergeAuthoritative overlays the store's canonical holder/event details on
// the locally parsed payload. Store values win; the token is self-reported.
func mergeAuthoritative(payload *models.TicketPayload, reply *authority.ReconcileReply) *models.TicketPayload {
	merged := *payload
	if reply.Holder != nil && !reply.Holder.IsEmpty() {
		merged.Holder = *reply.Holder
	}
	if reply.Event != nil && !reply.Event.IsEmpty() {
		merged.Event = *reply.Event
	}
	return &merged
}
