package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/justbri/shelfmark/database"
	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/shared/logger"
)

const (
	maxTitleLength        = 500
	maxTransitionAttempts = 3

	// Submissions from users sharing a stripe serialize against each other.
	createLockStripes = 64
)

// RequestStore is the persistence the lifecycle engine needs.
type RequestStore interface {
	Create(ctx context.Context, userID int64, in models.NewRequest) (*models.Request, error)
	Get(ctx context.Context, id int64) (*models.Request, error)
	ListByOwner(ctx context.Context, ownerID int64, f models.ListFilter) ([]models.Request, error)
	ListAll(ctx context.Context, f models.ListFilter) ([]models.Request, error)
	ListActiveByOwner(ctx context.Context, ownerID int64) ([]models.Request, error)
	Count(ctx context.Context, ownerID *int64, status *models.Status) (int, error)
	CountsByStatus(ctx context.Context, ownerID *int64) (models.Counts, error)
	CountUnviewed(ctx context.Context, ownerID int64) (int, error)
	UpdateStatus(ctx context.Context, id int64, expected models.Status, upd models.StatusUpdate) (*models.Request, error)
	Delete(ctx context.Context, id int64) (bool, error)
	SetAdminHidden(ctx context.Context, id int64) (bool, error)
}

// ViewTracker records when a user last looked at their requests.
type ViewTracker interface {
	MarkRequestsViewed(ctx context.Context, userID int64) error
}

// LibraryMatcher answers "is this audiobook already owned".
type LibraryMatcher interface {
	IsConfigured() bool
	FindMatch(ctx context.Context, title, author string) *LibraryEntry
}

type RequestServiceOptions struct {
	Users      ViewTracker
	Library    LibraryMatcher
	Events     EventPublisher
	Hooks      *HookRunner
	Dispatcher Dispatcher
}

// RequestService owns the request lifecycle: the submission guard, the
// status transitions and the post-commit side effects.
type RequestService struct {
	store      RequestStore
	users      ViewTracker
	library    LibraryMatcher
	events     EventPublisher
	hooks      *HookRunner
	dispatcher Dispatcher
	slots      *dispatchSlots
	log        *slog.Logger

	createLocks [createLockStripes]sync.Mutex
}

func NewRequestService(store RequestStore, opts RequestServiceOptions) *RequestService {
	hooks := opts.Hooks
	if hooks == nil {
		hooks = NewHookRunner(1)
	}
	return &RequestService{
		store:      store,
		users:      opts.Users,
		library:    opts.Library,
		events:     opts.Events,
		hooks:      hooks,
		dispatcher: opts.Dispatcher,
		slots:      newDispatchSlots(),
		log:        logger.For("requests"),
	}
}

// RequestPage is one page of a listing plus the unpaged total.
type RequestPage struct {
	Requests []models.Request `json:"requests"`
	Total    int              `json:"total"`
}

type CountsSummary struct {
	ByStatus models.Counts `json:"by_status"`
	Total    int           `json:"total"`
	Unviewed *int          `json:"unviewed,omitempty"`
}

// DeleteAction says what a delete call did.
type DeleteAction string

const (
	DeleteActionDeleted DeleteAction = "deleted"
	DeleteActionHidden  DeleteAction = "hidden"
)

func (s *RequestService) userLock(userID int64) *sync.Mutex {
	stripe := userID % createLockStripes
	if stripe < 0 {
		stripe = -stripe
	}
	return &s.createLocks[stripe]
}

func normalizeSubmission(in models.NewRequest) models.NewRequest {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.Year = strings.TrimSpace(in.Year)
	in.Description = StripHTML(in.Description)
	in.CoverURL = SanitizeCoverURL(in.CoverURL)
	in.Provider = strings.TrimSpace(in.Provider)
	in.ProviderID = strings.TrimSpace(in.ProviderID)
	in.SeriesName = strings.TrimSpace(in.SeriesName)
	if in.ContentType == "" {
		in.ContentType = models.ContentEbook
	}
	return in
}

func validateSubmission(in models.NewRequest) error {
	if in.Title == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("title must be at most %d characters", maxTitleLength)}
	}
	if !in.ContentType.Valid() {
		return &ValidationError{Field: "content_type", Message: fmt.Sprintf("content_type must be %q or %q", models.ContentEbook, models.ContentAudiobook)}
	}
	return nil
}

// sameBook decides whether an active request already covers a submission:
// an identical title ignoring case, or the same provider record.
func sameBook(existing models.Request, in models.NewRequest) bool {
	if existing.ContentType != in.ContentType {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(existing.Title), in.Title) {
		return true
	}
	return in.Provider != "" && in.ProviderID != "" &&
		existing.Provider == in.Provider && existing.ProviderID == in.ProviderID
}

// Create runs the submission guard and stores a new pending request.
func (s *RequestService) Create(ctx context.Context, caller models.Identity, in models.NewRequest) (*models.Request, error) {
	in = normalizeSubmission(in)
	if err := validateSubmission(in); err != nil {
		guardRejections.WithLabelValues("validation").Inc()
		return nil, err
	}

	// The library lookup may hit the network, so it runs before taking the per-user lock.
	var owned *LibraryEntry
	if in.ContentType == models.ContentAudiobook && s.library != nil && s.library.IsConfigured() {
		owned = s.library.FindMatch(ctx, in.Title, in.Author)
	}

	lock := s.userLock(caller.UserID)
	lock.Lock()
	defer lock.Unlock()

	active, err := s.store.ListActiveByOwner(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active requests: %w", err)
	}
	for _, existing := range active {
		if sameBook(existing, in) {
			guardRejections.WithLabelValues("duplicate_active").Inc()
			return nil, ErrDuplicateActive
		}
	}

	if owned != nil {
		guardRejections.WithLabelValues("already_owned").Inc()
		s.log.Info("Audiobook already in library", "title", in.Title, "match", owned.Title)
		return nil, &AlreadyOwnedError{Match: *owned}
	}

	req, err := s.store.Create(ctx, caller.UserID, in)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.log.Info("Request created", "request_id", req.ID, "user", caller.Username, "title", req.Title, "content_type", req.ContentType)

	s.publish()
	s.hooks.RequestCreated(req)
	return req, nil
}

// Get returns a request visible to the caller.
func (s *RequestService) Get(ctx context.Context, caller models.Identity, id int64) (*models.Request, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin && req.UserID != caller.UserID {
		return nil, ErrForbidden
	}
	return req, nil
}

// List returns the admin view (every non-hidden request) or the caller's own requests.
func (s *RequestService) List(ctx context.Context, caller models.Identity, f models.ListFilter) (*RequestPage, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", *f.Status)}
	}

	var (
		requests []models.Request
		owner    *int64
		err      error
	)
	if caller.IsAdmin {
		requests, err = s.store.ListAll(ctx, f)
	} else {
		owner = &caller.UserID
		requests, err = s.store.ListByOwner(ctx, caller.UserID, f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	total, err := s.store.Count(ctx, owner, f.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}
	return &RequestPage{Requests: requests, Total: total}, nil
}

func (s *RequestService) Counts(ctx context.Context, caller models.Identity) (*CountsSummary, error) {
	var owner *int64
	if !caller.IsAdmin {
		owner = &caller.UserID
	}

	counts, err := s.store.CountsByStatus(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}
	summary := &CountsSummary{ByStatus: counts, Total: counts.Total()}

	if !caller.IsAdmin {
		unviewed, err := s.store.CountUnviewed(ctx, caller.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to count unviewed requests: %w", err)
		}
		summary.Unviewed = &unviewed
	}
	return summary, nil
}

// MarkViewed resets the caller's unviewed counter.
func (s *RequestService) MarkViewed(ctx context.Context, caller models.Identity) error {
	if s.users == nil {
		return nil
	}
	return s.users.MarkRequestsViewed(ctx, caller.UserID)
}

func (s *RequestService) Approve(ctx context.Context, caller models.Identity, id int64) (*models.Request, error) {
	req, err := s.transition(ctx, caller, id, TransitionApprove, func(*models.Request) models.StatusUpdate {
		return models.StatusUpdate{Status: models.StatusApproved, ApprovedBy: &caller.UserID}
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(req)
	return req, nil
}

// Deny sets the admin note to note; an empty note clears it.
func (s *RequestService) Deny(ctx context.Context, caller models.Identity, id int64, note string) (*models.Request, error) {
	note = strings.TrimSpace(note)
	return s.transition(ctx, caller, id, TransitionDeny, func(*models.Request) models.StatusUpdate {
		return models.StatusUpdate{Status: models.StatusDenied, AdminNote: &note, ApprovedBy: &caller.UserID}
	})
}

func (s *RequestService) Retry(ctx context.Context, caller models.Identity, id int64) (*models.Request, error) {
	cleared := ""
	req, err := s.transition(ctx, caller, id, TransitionRetry, func(*models.Request) models.StatusUpdate {
		return models.StatusUpdate{
			Status:         models.StatusApproved,
			ApprovedBy:     &caller.UserID,
			FailureReason:  &cleared,
			DownloadTaskID: &cleared,
		}
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(req)
	return req, nil
}

func (s *RequestService) Complete(ctx context.Context, caller models.Identity, id int64) (*models.Request, error) {
	return s.transition(ctx, caller, id, TransitionComplete, func(*models.Request) models.StatusUpdate {
		return models.StatusUpdate{Status: models.StatusFulfilled}
	})
}

// ApplyExternalStatus records progress reported by the fetch pipeline.
func (s *RequestService) ApplyExternalStatus(ctx context.Context, id int64, status models.Status, failureReason, taskID string) (*models.Request, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	var result *models.Request
	err := s.casLoop(ctx, id, TransitionExternal, func(current *models.Request) (models.StatusUpdate, bool) {
		if !ExternalAllowed(current.Status, status) {
			return models.StatusUpdate{}, false
		}
		upd := models.StatusUpdate{Status: status}
		if status == models.StatusFailed {
			reason := strings.TrimSpace(failureReason)
			upd.FailureReason = &reason
		}
		if taskID != "" {
			upd.DownloadTaskID = &taskID
		}
		return upd, true
	}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes the caller's own request, or hides another user's request
// from the admin view.
func (s *RequestService) Delete(ctx context.Context, caller models.Identity, id int64) (DeleteAction, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}

	var action DeleteAction
	var ok bool
	switch {
	case req.UserID == caller.UserID:
		action = DeleteActionDeleted
		ok, err = s.store.Delete(ctx, id)
	case caller.IsAdmin:
		action = DeleteActionHidden
		ok, err = s.store.SetAdminHidden(ctx, id)
	default:
		return "", ErrForbidden
	}
	if err != nil {
		return "", fmt.Errorf("failed to delete request %d: %w", id, err)
	}
	if !ok {
		return "", ErrNotFound
	}

	s.log.Info("Request removed", "request_id", id, "action", action, "by", caller.Username)
	s.publish()
	return action, nil
}

func (s *RequestService) load(ctx context.Context, id int64) (*models.Request, error) {
	req, err := s.store.Get(ctx, id)
	if errors.Is(err, database.ErrRequestNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request %d: %w", id, err)
	}
	return req, nil
}

func (s *RequestService) transition(ctx context.Context, caller models.Identity, id int64, t Transition, build func(*models.Request) models.StatusUpdate) (*models.Request, error) {
	if !caller.IsAdmin {
		return nil, ErrForbidden
	}

	var result *models.Request
	err := s.casLoop(ctx, id, t, func(current *models.Request) (models.StatusUpdate, bool) {
		if !t.Allowed(current.Status) {
			return models.StatusUpdate{}, false
		}
		return build(current), true
	}, &result)
	if err != nil {
		return nil, err
	}
	s.log.Info("Request transitioned", "request_id", id, "transition", t, "status", result.Status, "by", caller.Username)
	return result, nil
}

// casLoop reads the request, asks plan for the update, and writes it only if
// the status is still the one that was read. A lost race re-reads and asks
// plan again, so the loser of two identical transitions sees an
// InvalidTransitionError against the winner's status.
func (s *RequestService) casLoop(ctx context.Context, id int64, t Transition, plan func(*models.Request) (models.StatusUpdate, bool), out **models.Request) error {
	var current *models.Request
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		var err error
		current, err = s.load(ctx, id)
		if err != nil {
			return err
		}

		upd, ok := plan(current)
		if !ok {
			s.log.Warn("Rejected status transition", "request_id", id, "transition", t, "current", current.Status)
			return &InvalidTransitionError{RequestID: id, Current: current.Status, Transition: t}
		}

		updated, err := s.store.UpdateStatus(ctx, id, current.Status, upd)
		var mismatch *database.StatusMismatchError
		switch {
		case errors.As(err, &mismatch):
			continue
		case errors.Is(err, database.ErrRequestNotFound):
			return ErrNotFound
		case err != nil:
			return fmt.Errorf("failed to update request %d: %w", id, err)
		}

		transitionsTotal.WithLabelValues(string(t), string(updated.Status)).Inc()
		s.publish()
		s.hooks.StatusChanged(updated, current.Status)
		*out = updated
		return nil
	}

	s.log.Warn("Gave up on contended status transition", "request_id", id, "transition", t)
	return &InvalidTransitionError{RequestID: id, Current: current.Status, Transition: t}
}

func (s *RequestService) publish() {
	if s.events != nil {
		s.events.Publish(models.NewEvent(models.EventRequestUpdate))
	}
}

// dispatch hands an approved ebook to the fetch pipeline in the background.
// Audiobooks stay approved for manual handling.
func (s *RequestService) dispatch(req *models.Request) {
	if s.dispatcher == nil || req.ContentType != models.ContentEbook || req.Status != models.StatusApproved {
		return
	}
	if !s.slots.acquire(req.ID) {
		s.log.Info("Request already being dispatched, skipping", "request_id", req.ID)
		return
	}

	snapshot := *req
	s.hooks.Submit("dispatch", func(ctx context.Context) error {
		defer s.slots.release(snapshot.ID)

		taskID, err := s.dispatcher.Dispatch(ctx, &snapshot)
		if err != nil {
			s.log.Warn("Failed to queue download", "request_id", snapshot.ID, "error", err)
			_, uerr := s.ApplyExternalStatus(ctx, snapshot.ID, models.StatusFailed, err.Error(), "")
			if uerr != nil && !errors.Is(uerr, ErrNotFound) {
				return uerr
			}
			return nil
		}

		s.log.Info("Download queued", "request_id", snapshot.ID, "task", taskID)
		_, err = s.ApplyExternalStatus(ctx, snapshot.ID, models.StatusDownloading, "", taskID)
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) || errors.Is(err, ErrNotFound) {
			// An admin acted first, or the owner deleted it.
			return nil
		}
		return err
	})
}

// Dispatching reports whether a request currently holds a dispatch slot.
func (s *RequestService) Dispatching(id int64) bool {
	return s.slots.busy(id)
}
