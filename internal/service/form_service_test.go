package service

import (
	"context"
	"encoding/json"
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

type memoryCacheRepo struct {
	values   map[string][]byte
	versions map[string]int64
	skipped  int
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{values: make(map[string][]byte), versions: make(map[string]int64)}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) SetIfNewer(ctx context.Context, key string, version int64, value interface{}, ttl time.Duration) (bool, error) {
	if cached, ok := m.versions[key]; ok && cached >= version {
		m.skipped++
		return false, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	m.values[key] = raw
	m.versions[key] = version
	return true, nil
}

func newTestFormService(forms *formStoreStub, logs *changeLogStoreStub, opts ...FormServiceOption) *FormService {
	audit := NewAuditService(logs, zap.NewNop(), WithAuditOutbox(&outboxStub{}, ""))
	opts = append([]FormServiceOption{WithFormClock(fixedClock(reviewNow))}, opts...)
	return NewFormService(forms, audit, testPolicy(), nil, zap.NewNop(), opts...)
}

func TestFormServiceSubmitApplication(t *testing.T) {
	forms := newFormStoreStub()
	logs := &changeLogStoreStub{}
	svc := newTestFormService(forms, logs)

	form, err := svc.SubmitApplication(context.Background(), regularActor("user-a"), dto.SubmitApplicationRequest{
		Sections: []models.Section{{Title: "About", Questions: []models.Question{{Prompt: "Age?", Response: "21"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "user-a", form.ApplicantID)
	assert.Equal(t, models.FormStatusPending, form.Status)
	assert.Nil(t, form.ClaimedByID)
	assert.Equal(t, reviewNow, form.CreatedAt)

	entries := logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, models.ChangeActionCreated, entries[0].Action)
	assert.Equal(t, form.ID, entries[0].FormID)
}

func TestFormServiceSubmitApplicationValidation(t *testing.T) {
	svc := newTestFormService(newFormStoreStub(), &changeLogStoreStub{})
	_, err := svc.SubmitApplication(context.Background(), regularActor("user-a"), dto.SubmitApplicationRequest{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.SubmitApplication(context.Background(), models.Identity{}, dto.SubmitApplicationRequest{
		Sections: []models.Section{{Title: "About"}},
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestFormServiceSubmitInterview(t *testing.T) {
	forms := newFormStoreStub(pendingApplication("app-1", "user-a"))
	svc := newTestFormService(forms, &changeLogStoreStub{})

	_, err := svc.SubmitInterview(context.Background(), regularActor("user-x"), dto.SubmitInterviewRequest{ApplicationID: "app-1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.SubmitInterview(context.Background(), regularActor("user-a"), dto.SubmitInterviewRequest{ApplicationID: "missing"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	form, err := svc.SubmitInterview(context.Background(), staffActor("user-b"), dto.SubmitInterviewRequest{
		ApplicationID: "app-1",
		Questions:     []models.Question{{Prompt: "Experience?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.FormKindInterview, form.Kind)
	assert.Equal(t, "user-a", form.ApplicantID)
	assert.Equal(t, "app-1", form.ApplicationID)
}

func TestFormServiceSubmitPartialCommit(t *testing.T) {
	logs := &changeLogStoreStub{createErr: errors.New("audit down")}
	svc := newTestFormService(newFormStoreStub(), logs)

	form, err := svc.SubmitApplication(context.Background(), regularActor("user-a"), dto.SubmitApplicationRequest{
		Sections: []models.Section{{Title: "About"}},
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPartialCommit))
	require.NotNil(t, form)
	assert.NotEmpty(t, form.ID)
}

func TestFormServiceGetVisibility(t *testing.T) {
	forms := newFormStoreStub(pendingApplication("app-1", "user-a"))
	svc := newTestFormService(forms, &changeLogStoreStub{})
	ctx := context.Background()

	form, err := svc.Get(ctx, models.FormKindApplication, "app-1", regularActor("user-a"))
	require.NoError(t, err)
	assert.Equal(t, "app-1", form.ID)

	_, err = svc.Get(ctx, models.FormKindApplication, "app-1", regularActor("user-x"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Get(ctx, models.FormKindApplication, "app-1", staffActor("user-b"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, models.FormKindInterview, "app-1", staffActor("user-b"))
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestFormServiceGetUsesCacheAndWorkflowRefreshes(t *testing.T) {
	forms := newFormStoreStub(pendingApplication("app-1", "user-a"))
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := newTestFormService(forms, &changeLogStoreStub{}, WithFormCache(cache, time.Minute))
	ctx := context.Background()

	_, err := svc.Get(ctx, models.FormKindApplication, "app-1", staffActor("user-b"))
	require.NoError(t, err)
	_, err = svc.Get(ctx, models.FormKindApplication, "app-1", staffActor("user-b"))
	require.NoError(t, err)
	assert.Equal(t, 1, forms.gets)

	_, err = svc.Get(ctx, models.FormKindApplication, "app-1", regularActor("user-x"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	audit := NewAuditService(&changeLogStoreStub{}, nil)
	review := NewReviewService(forms, audit, testPolicy(), nil, WithReviewCache(cache))
	_, err = review.ClaimForm(ctx, models.FormKindApplication, "app-1", staffActor("user-b"), "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cacheRepo.versions[FormKey(models.FormKindApplication, "app-1")])

	form, err := svc.Get(ctx, models.FormKindApplication, "app-1", staffActor("user-b"))
	require.NoError(t, err)
	require.NotNil(t, form.ClaimedByID)
	assert.Equal(t, "user-b", *form.ClaimedByID)
	assert.Equal(t, 2, forms.gets)
}

func TestFormServiceGetDoesNotCacheSnapshotOlderThanConcurrentWrite(t *testing.T) {
	forms := newFormStoreStub(pendingApplication("app-1", "user-a"))
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := newTestFormService(forms, &changeLogStoreStub{}, WithFormCache(cache, time.Minute))
	review := NewReviewService(forms, NewAuditService(&changeLogStoreStub{}, nil), testPolicy(), nil, WithReviewCache(cache))
	ctx := context.Background()

	forms.afterGet = func(*formStoreStub) {
		_, err := review.ClaimForm(ctx, models.FormKindApplication, "app-1", staffActor("user-b"), "")
		require.NoError(t, err)
	}

	stale, err := svc.Get(ctx, models.FormKindApplication, "app-1", staffActor("user-c"))
	require.NoError(t, err)
	assert.Nil(t, stale.ClaimedByID)
	assert.Equal(t, 1, cacheRepo.skipped)

	form, err := svc.Get(ctx, models.FormKindApplication, "app-1", staffActor("user-c"))
	require.NoError(t, err)
	require.NotNil(t, form.ClaimedByID)
	assert.Equal(t, "user-b", *form.ClaimedByID)
	assert.Equal(t, int64(2), form.Version)
}

func TestFormServiceGetHonoursDeletedTombstone(t *testing.T) {
	forms := newFormStoreStub(pendingApplication("app-1", "user-a"))
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := newTestFormService(forms, &changeLogStoreStub{}, WithFormCache(cache, time.Minute))
	review := NewReviewService(forms, NewAuditService(&changeLogStoreStub{}, nil), testPolicy(), nil, WithReviewCache(cache))
	ctx := context.Background()

	forms.afterGet = func(*formStoreStub) {
		require.NoError(t, review.DeleteForm(ctx, models.FormKindApplication, "app-1", adminActor("admin")))
	}

	_, err := svc.Get(ctx, models.FormKindApplication, "app-1", staffActor("user-c"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, models.FormKindApplication, "app-1", staffActor("user-c"))
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestFormServiceListScopesRegularUsers(t *testing.T) {
	forms := newFormStoreStub(pendingApplication("app-1", "user-a"), pendingApplication("app-2", "user-z"))
	svc := newTestFormService(forms, &changeLogStoreStub{})
	ctx := context.Background()

	own, page, err := svc.List(ctx, models.FormKindApplication, dto.FormQuery{ApplicantID: "user-z"}, regularActor("user-a"))
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "user-a", own[0].ApplicantID)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)

	all, page, err := svc.List(ctx, models.FormKindApplication, dto.FormQuery{}, staffActor("user-b"))
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, page.TotalCount)
}
