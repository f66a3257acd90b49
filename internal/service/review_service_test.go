package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/form-review-api/internal/dto"
	"github.com/noah-isme/form-review-api/internal/models"
	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
)

var reviewNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type reviewFixture struct {
	forms    *formStoreStub
	logs     *changeLogStoreStub
	outbox   *outboxStub
	notifier *notifierStub
	metrics  *MetricsService
	svc      *ReviewService
}

func newReviewFixture(forms ...*models.Form) *reviewFixture {
	f := &reviewFixture{
		forms:    newFormStoreStub(forms...),
		logs:     &changeLogStoreStub{},
		outbox:   &outboxStub{},
		notifier: &notifierStub{},
		metrics:  NewMetricsService(),
	}
	audit := NewAuditService(f.logs, zap.NewNop(), WithAuditOutbox(f.outbox, "audit:test"), WithAuditClock(fixedClock(reviewNow)))
	f.svc = NewReviewService(f.forms, audit, testPolicy(), zap.NewNop(),
		WithReviewNotifier(f.notifier),
		WithReviewMetrics(f.metrics),
		WithReviewClock(fixedClock(reviewNow)),
		WithPublicURL("https://review.example.org"),
	)
	return f
}

func pendingApplication(id, applicant string) *models.Form {
	form := models.NewApplication(applicant, models.ApplicationData{
		Sections: []models.Section{{Title: "Motivation", Questions: []models.Question{{Prompt: "Why?", Response: "I like it"}}}},
	})
	form.ID = id
	return form
}

func pendingInterview(id, applicant string) *models.Form {
	form := models.NewInterview(applicant, models.InterviewData{ApplicationID: "app-1"})
	form.ID = id
	return form
}

func outcome(status models.FormStatus) *int {
	v := int(status)
	return &v
}

func requireCode(t *testing.T, err error, target *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, target.Code, appErrors.FromError(err).Code, err.Error())
}

func TestReviewWorkflowClaimAndDecideScenario(t *testing.T) {
	fx := newReviewFixture(pendingApplication("app-1", "user-a"))
	ctx := context.Background()
	b := staffActor("user-b")
	c := staffActor("user-c")

	claimed, err := fx.svc.ClaimForm(ctx, models.FormKindApplication, "app-1", b, "")
	require.NoError(t, err)
	require.NotNil(t, claimed.ClaimedByID)
	assert.Equal(t, "user-b", *claimed.ClaimedByID)
	assert.Equal(t, models.FormStatusPending, claimed.Status)

	entries := fx.logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, models.ChangeActionModified, entries[0].Action)
	assert.Equal(t, "user-b", entries[0].UserID)
	assert.Equal(t, reviewNow, entries[0].Timestamp)
	require.Len(t, entries[0].Changes, 1)
	assert.Equal(t, "claimedById", entries[0].Changes[0].Field)
	assert.Equal(t, "null", entries[0].Changes[0].Previous)
	assert.Equal(t, `"user-b"`, entries[0].Changes[0].Change)

	_, err = fx.svc.ClaimForm(ctx, models.FormKindApplication, "app-1", c, "")
	requireCode(t, err, appErrors.ErrForbidden)
	_, err = fx.svc.DecideForm(ctx, models.FormKindApplication, "app-1", c, dto.DecideRequest{Outcome: outcome(models.FormStatusApproved)})
	requireCode(t, err, appErrors.ErrForbidden)
	assert.Len(t, fx.logs.all(), 1)

	decided, err := fx.svc.DecideForm(ctx, models.FormKindApplication, "app-1", b, dto.DecideRequest{
		Outcome: outcome(models.FormStatusApproved),
		Reason:  "fits",
	})
	require.NoError(t, err)
	assert.Equal(t, models.FormStatusApproved, decided.Status)
	assert.Equal(t, "fits", decided.StatusReason)

	require.Len(t, fx.notifier.sent, 1)
	assert.Equal(t, []string{"user-a"}, fx.notifier.to)
	assert.Equal(t, models.FormStatusApproved, fx.notifier.sent[0].Status)
	assert.Equal(t, "fits", fx.notifier.sent[0].Reason)
	assert.Equal(t, "https://review.example.org/applications/app-1", fx.notifier.sent[0].URL)

	entries = fx.logs.all()
	require.Len(t, entries, 2)
	fields := make([]string, 0, len(entries[1].Changes))
	for _, change := range entries[1].Changes {
		fields = append(fields, change.Field)
	}
	assert.Equal(t, []string{"status", "statusReason"}, fields)

	stored := fx.forms.stored(models.FormKindApplication, "app-1")
	assert.Equal(t, models.FormStatusApproved, stored.Status)
	assert.Equal(t, "user-b", stored.UpdatedByID)
	assert.Equal(t, int64(3), stored.Version)
}

func TestReviewWorkflowRegularUserRejectedBeforeAnyRead(t *testing.T) {
	fx := newReviewFixture(pendingApplication("app-1", "user-a"))
	ctx := context.Background()
	a := regularActor("user-a")

	_, err := fx.svc.ClaimForm(ctx, models.FormKindApplication, "app-1", a, "")
	requireCode(t, err, appErrors.ErrForbidden)
	_, err = fx.svc.DecideForm(ctx, models.FormKindApplication, "app-1", a, dto.DecideRequest{Outcome: outcome(models.FormStatusApproved)})
	requireCode(t, err, appErrors.ErrForbidden)
	_, err = fx.svc.CommentForm(ctx, models.FormKindApplication, "app-1", a, "hello")
	requireCode(t, err, appErrors.ErrForbidden)
	requireCode(t, fx.svc.DeleteForm(ctx, models.FormKindApplication, "app-1", staffActor("user-b")), appErrors.ErrForbidden)

	assert.Equal(t, 0, fx.forms.gets)
	assert.Equal(t, 0, fx.forms.updates)
	assert.Empty(t, fx.logs.all())
}

func TestReviewWorkflowStatusOnlyChangesThroughDecide(t *testing.T) {
	fx := newReviewFixture(pendingApplication("app-1", "user-a"))
	ctx := context.Background()
	b := staffActor("user-b")

	for _, step := range []func() (*models.Form, error){
		func() (*models.Form, error) {
			return fx.svc.ClaimForm(ctx, models.FormKindApplication, "app-1", b, "on it")
		},
		func() (*models.Form, error) {
			return fx.svc.CommentForm(ctx, models.FormKindApplication, "app-1", b, "strong answers")
		},
		func() (*models.Form, error) {
			return fx.svc.UnclaimForm(ctx, models.FormKindApplication, "app-1", b)
		},
	} {
		form, err := step()
		require.NoError(t, err)
		assert.Equal(t, models.FormStatusPending, form.Status)
	}

	stored := fx.forms.stored(models.FormKindApplication, "app-1")
	require.Len(t, stored.Notes, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{stored.Notes[0].NoteID, stored.Notes[1].NoteID, stored.Notes[2].NoteID})
	assert.Equal(t, "on it", stored.Notes[0].Text)
	assert.Equal(t, unclaimNote, stored.Notes[2].Text)
	assert.Nil(t, stored.ClaimedByID)
	assert.Empty(t, fx.notifier.sent)
}

func TestReviewWorkflowRetriesOnceAfterConcurrentWrite(t *testing.T) {
	fx := newReviewFixture(pendingApplication("app-1", "user-a"))
	ctx := context.Background()
	_, err := fx.svc.ClaimForm(ctx, models.FormKindApplication, "app-1", staffActor("user-b"), "")
	require.NoError(t, err)

	fx.forms.beforeUpdate = func(s *formStoreStub) {
		s.mutate(models.FormKindApplication, "app-1", func(f *models.Form) {
			f.AppendNote("user-c", "concurrent note", reviewNow)
		})
	}

	form, err := fx.svc.CommentForm(ctx, models.FormKindApplication, "app-1", staffActor("user-b"), "my note")
	require.NoError(t, err)
	require.Len(t, form.Notes, 2)
	assert.Equal(t, "concurrent note", form.Notes[0].Text)
	assert.Equal(t, "my note", form.Notes[1].Text)
	assert.Equal(t, "2", form.Notes[1].NoteID)

	entries := fx.logs.all()
	require.Len(t, entries, 2)
	require.Len(t, entries[1].Changes, 1)
	assert.Equal(t, "notes", entries[1].Changes[0].Field)
	require.NotNil(t, entries[1].Changes[0].Index)
	assert.Equal(t, 1, *entries[1].Changes[0].Index)
}

func TestReviewWorkflowConflictAfterSecondLostRace(t *testing.T) {
	fx := newReviewFixture(pendingApplication("app-1", "user-a"))
	var bump func(s *formStoreStub)
	bump = func(s *formStoreStub) {
		s.mutate(models.FormKindApplication, "app-1", func(f *models.Form) {})
		s.beforeUpdate = bump
	}
	fx.forms.beforeUpdate = bump

	_, err := fx.svc.ClaimForm(context.Background(), models.FormKindApplication, "app-1", staffActor("user-b"), "")
	requireCode(t, err, appErrors.ErrConflict)
	assert.Equal(t, 2, fx.forms.updates)
	assert.Empty(t, fx.logs.all())
}

func TestReviewWorkflowConcurrentClaimLoserIsForbidden(t *testing.T) {
	fx := newReviewFixture(pendingApplication("app-1", "user-a"))
	fx.forms.beforeUpdate = func(s *formStoreStub) {
		s.mutate(models.FormKindApplication, "app-1", func(f *models.Form) {
			winner := "user-c"
			f.ClaimedByID = &winner
		})
	}

	_, err := fx.svc.ClaimForm(context.Background(), models.FormKindApplication, "app-1", staffActor("user-b"), "")
	requireCode(t, err, appErrors.ErrForbidden)
	stored := fx.forms.stored(models.FormKindApplication, "app-1")
	assert.Equal(t, "user-c", *stored.ClaimedByID)
}

func TestReviewWorkflowPersistenceFailureChangesNothing(t *testing.T) {
	fx := newReviewFixture(pendingApplication("app-1", "user-a"))
	fx.forms.updateErr = errors.New("disk full")

	_, err := fx.svc.ClaimForm(context.Background(), models.FormKindApplication, "app-1", staffActor("user-b"), "")
	requireCode(t, err, appErrors.ErrPersistence)
	assert.Empty(t, fx.logs.all())
	assert.Empty(t, fx.outbox.items)
}

func TestReviewWorkflowPartialCommitStagesEntry(t *testing.T) {
	fx := newReviewFixture(pendingApplication("app-1", "user-a"))
	fx.logs.createErr = errors.New("audit store down")

	form, err := fx.svc.ClaimForm(context.Background(), models.FormKindApplication, "app-1", staffActor("user-b"), "")
	requireCode(t, err, appErrors.ErrPartialCommit)
	require.NotNil(t, form)
	assert.Equal(t, "user-b", *form.ClaimedByID)
	assert.Len(t, fx.outbox.items, 1)
	assert.Equal(t, "user-b", *fx.forms.stored(models.FormKindApplication, "app-1").ClaimedByID)
}

func TestReviewWorkflowPartialCommitStillNotifies(t *testing.T) {
	fx := newReviewFixture(pendingApplication("app-1", "user-a"))
	_, err := fx.svc.ClaimForm(context.Background(), models.FormKindApplication, "app-1", staffActor("user-b"), "")
	require.NoError(t, err)
	fx.logs.createErr = errors.New("audit store down")

	_, err = fx.svc.DecideForm(context.Background(), models.FormKindApplication, "app-1", staffActor("user-b"), dto.DecideRequest{Outcome: outcome(models.FormStatusRejected)})
	requireCode(t, err, appErrors.ErrPartialCommit)
	assert.Len(t, fx.notifier.sent, 1)
}

func TestReviewWorkflowDecideRules(t *testing.T) {
	ctx := context.Background()

	t.Run("outcome must be terminal", func(t *testing.T) {
		fx := newReviewFixture(pendingApplication("app-1", "user-a"))
		_, err := fx.svc.DecideForm(ctx, models.FormKindApplication, "app-1", adminActor("admin"), dto.DecideRequest{Outcome: outcome(models.FormStatusPending)})
		requireCode(t, err, appErrors.ErrInvalidTransition)
		_, err = fx.svc.DecideForm(ctx, models.FormKindApplication, "app-1", adminActor("admin"), dto.DecideRequest{})
		requireCode(t, err, appErrors.ErrInvalidTransition)
		assert.Equal(t, 0, fx.forms.updates)
	})

	t.Run("admin decides unclaimed form and becomes reviewer", func(t *testing.T) {
		fx := newReviewFixture(pendingApplication("app-1", "user-a"))
		form, err := fx.svc.DecideForm(ctx, models.FormKindApplication, "app-1", adminActor("admin"), dto.DecideRequest{
			Outcome: outcome(models.FormStatusRejected),
			Note:    "incomplete",
		})
		require.NoError(t, err)
		require.NotNil(t, form.ClaimedByID)
		assert.Equal(t, "admin", *form.ClaimedByID)
		assert.Equal(t, models.DefaultStatusReason, form.StatusReason)
		require.Len(t, form.Notes, 1)
		assert.Equal(t, "incomplete", form.Notes[0].Text)
		require.NoError(t, form.Validate())
	})

	t.Run("only admins re-decide", func(t *testing.T) {
		decided := pendingApplication("app-1", "user-a")
		reviewer := "user-b"
		decided.ClaimedByID = &reviewer
		decided.Status = models.FormStatusApproved
		fx := newReviewFixture(decided)

		_, err := fx.svc.DecideForm(ctx, models.FormKindApplication, "app-1", staffActor("user-b"), dto.DecideRequest{Outcome: outcome(models.FormStatusRejected)})
		requireCode(t, err, appErrors.ErrInvalidTransition)

		_, err = fx.svc.DecideForm(ctx, models.FormKindApplication, "app-1", adminActor("admin"), dto.DecideRequest{Outcome: outcome(models.FormStatusApproved), Reason: "still good"})
		require.NoError(t, err)
		assert.Empty(t, fx.notifier.sent, "same status must not notify")

		_, err = fx.svc.DecideForm(ctx, models.FormKindApplication, "app-1", adminActor("admin"), dto.DecideRequest{Outcome: outcome(models.FormStatusRejected)})
		require.NoError(t, err)
		require.Len(t, fx.notifier.sent, 1)
		assert.Equal(t, models.FormStatusRejected, fx.notifier.sent[0].Status)
	})

	t.Run("notification failure does not fail the decision", func(t *testing.T) {
		fx := newReviewFixture(pendingApplication("app-1", "user-a"))
		fx.notifier.err = errors.New("queue full")
		form, err := fx.svc.DecideForm(ctx, models.FormKindApplication, "app-1", adminActor("admin"), dto.DecideRequest{Outcome: outcome(models.FormStatusApproved)})
		require.NoError(t, err)
		assert.Equal(t, models.FormStatusApproved, form.Status)
		assert.Equal(t, 1, fx.notifier.calls)
		assert.Equal(t, uint64(1), fx.metrics.Snapshot().NotificationFailure)
	})
}

func TestReviewWorkflowTerminalFormsAreClosed(t *testing.T) {
	decided := pendingApplication("app-1", "user-a")
	reviewer := "user-b"
	decided.ClaimedByID = &reviewer
	decided.Status = models.FormStatusRejected
	fx := newReviewFixture(decided)
	ctx := context.Background()
	admin := adminActor("admin")

	_, err := fx.svc.UnclaimForm(ctx, models.FormKindApplication, "app-1", admin)
	requireCode(t, err, appErrors.ErrInvalidTransition)
	_, err = fx.svc.CommentForm(ctx, models.FormKindApplication, "app-1", admin, "late note")
	requireCode(t, err, appErrors.ErrInvalidTransition)
	_, err = fx.svc.ClaimForm(ctx, models.FormKindApplication, "app-1", admin, "")
	requireCode(t, err, appErrors.ErrForbidden)
	assert.Equal(t, 0, fx.forms.updates)
}

func TestReviewWorkflowUnclaimRules(t *testing.T) {
	ctx := context.Background()
	fx := newReviewFixture(claimedForm("user-a", "user-b"))
	form := fx.forms.stored(models.FormKindApplication, claimedForm("user-a", "user-b").ID)
	require.NotNil(t, form)

	_, err := fx.svc.UnclaimForm(ctx, models.FormKindApplication, form.ID, staffActor("user-c"))
	requireCode(t, err, appErrors.ErrForbidden)

	updated, err := fx.svc.UnclaimForm(ctx, models.FormKindApplication, form.ID, adminActor("admin"))
	require.NoError(t, err)
	assert.Nil(t, updated.ClaimedByID)

	_, err = fx.svc.UnclaimForm(ctx, models.FormKindApplication, form.ID, adminActor("admin"))
	requireCode(t, err, appErrors.ErrInvalidTransition)
}

func TestReviewWorkflowCommentValidation(t *testing.T) {
	fx := newReviewFixture(pendingApplication("app-1", "user-a"))
	_, err := fx.svc.CommentForm(context.Background(), models.FormKindApplication, "app-1", staffActor("user-b"), "   ")
	requireCode(t, err, appErrors.ErrValidation)
	assert.Equal(t, 0, fx.forms.gets)
}

func TestReviewWorkflowNotFound(t *testing.T) {
	fx := newReviewFixture()
	_, err := fx.svc.ClaimForm(context.Background(), models.FormKindApplication, "missing", staffActor("user-b"), "")
	requireCode(t, err, appErrors.ErrNotFound)
	requireCode(t, fx.svc.DeleteForm(context.Background(), models.FormKindInterview, "missing", adminActor("admin")), appErrors.ErrNotFound)
}

func TestReviewWorkflowDelete(t *testing.T) {
	fx := newReviewFixture(pendingInterview("int-1", "user-a"))
	require.NoError(t, fx.svc.DeleteForm(context.Background(), models.FormKindInterview, "int-1", adminActor("admin")))
	assert.Nil(t, fx.forms.stored(models.FormKindInterview, "int-1"))

	entries := fx.logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, models.ChangeActionDeleted, entries[0].Action)
	assert.Equal(t, models.FormKindInterview, entries[0].Form)
	assert.Empty(t, entries[0].Changes)
}

func TestReviewWorkflowAttachRecording(t *testing.T) {
	interview := pendingInterview("int-1", "user-a")
	reviewer := "user-b"
	interview.ClaimedByID = &reviewer
	fx := newReviewFixture(interview)
	ctx := context.Background()

	_, err := fx.svc.AttachRecording(ctx, "int-1", staffActor("user-c"), "recordings/int-1.mp3")
	requireCode(t, err, appErrors.ErrForbidden)

	form, err := fx.svc.AttachRecording(ctx, "int-1", staffActor("user-b"), "recordings/int-1.mp3")
	require.NoError(t, err)
	assert.Equal(t, "recordings/int-1.mp3", form.RecordingPath)

	entries := fx.logs.all()
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Changes, 1)
	assert.Equal(t, "recordingPath", entries[0].Changes[0].Field)

	_, err = fx.svc.AttachRecording(ctx, "int-1", staffActor("user-b"), "recordings/other.mp3")
	requireCode(t, err, appErrors.ErrInvalidTransition)
}
