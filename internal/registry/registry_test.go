package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/store"
	"github.com/character-tun/character-crm-sub000/internal/templates"
)

func newRegistry(t *testing.T) (*Registry, *templates.Store, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	tpls := templates.New(mem, mem)
	return New(mem, tpls), tpls, mem
}

func TestCreateRejectsCaseInsensitiveDuplicates(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newRegistry(t)

	def, err := reg.Create(ctx, models.StatusDefinition{Code: "In_Work", Name: "In work", Group: models.GroupInProgress})
	require.NoError(t, err)
	assert.Equal(t, "in_work", def.Code)

	_, err = reg.Create(ctx, models.StatusDefinition{Code: "IN_WORK", Name: "Dup", Group: models.GroupInProgress})
	assert.True(t, apperr.Is(err, apperr.CodeStatusConflict))

	got, err := reg.Get(ctx, "In_WORK")
	require.NoError(t, err)
	assert.Equal(t, "In work", got.Name)
}

func TestConcurrentCreatesHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newRegistry(t)

	codes := []string{"ready", "READY", "Ready", "rEaDy"}
	errs := make([]error, len(codes))
	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			_, errs[i] = reg.Create(ctx, models.StatusDefinition{Code: code, Group: models.GroupInProgress})
		}(i, code)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.CodeStatusConflict))
	}
	assert.Equal(t, 1, ok)
	list, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestActionsMustReferenceTemplateOfMatchingKind(t *testing.T) {
	ctx := context.Background()
	reg, tpls, _ := newRegistry(t)

	_, err := tpls.Create(ctx, models.Template{Code: "ready_email", Kind: models.TemplateNotify, Subject: "s", Body: "b"})
	require.NoError(t, err)

	_, err = reg.Create(ctx, models.StatusDefinition{
		Code: "ready", Group: models.GroupInProgress,
		Actions: []models.ActionSpec{{Type: models.JobPrint, TemplateRef: "ready_email"}},
	})
	assert.True(t, apperr.Is(err, apperr.CodeUnknownTemplate))

	def, err := reg.Create(ctx, models.StatusDefinition{
		Code: "ready", Group: models.GroupInProgress,
		Actions: []models.ActionSpec{{Type: models.JobNotify, TemplateRef: "READY_EMAIL", Channel: "email"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ready_email", def.Actions[0].TemplateRef)
}

func TestUpdateKeepsSystemFlagAndCode(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newRegistry(t)
	_, err := reg.Create(ctx, models.StatusDefinition{Code: "new", Name: "New", Group: models.GroupDraft, System: true})
	require.NoError(t, err)

	updated, err := reg.Update(ctx, models.StatusDefinition{Code: "NEW", Name: "Fresh", Group: models.GroupDraft, Order: 5})
	require.NoError(t, err)
	assert.True(t, updated.System)

	got, err := reg.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", got.Name)
	assert.Equal(t, 5, got.Order)

	_, err = reg.Update(ctx, models.StatusDefinition{Code: "missing", Group: models.GroupDraft})
	assert.True(t, apperr.Is(err, apperr.CodeUnknownStatus))
}

func TestDeleteGuards(t *testing.T) {
	ctx := context.Background()
	reg, _, mem := newRegistry(t)

	_, err := reg.Create(ctx, models.StatusDefinition{Code: "new", Group: models.GroupDraft, System: true})
	require.NoError(t, err)
	_, err = reg.Create(ctx, models.StatusDefinition{Code: "in_work", Group: models.GroupInProgress})
	require.NoError(t, err)
	_, err = reg.Create(ctx, models.StatusDefinition{Code: "spare", Group: models.GroupInProgress})
	require.NoError(t, err)

	assert.True(t, apperr.Is(reg.Delete(ctx, "new"), apperr.CodeStatusInUse))

	require.NoError(t, mem.CreateOrder(ctx, models.Order{ID: "o1", StatusCode: "new"}))
	require.NoError(t, mem.RecordTransition(ctx, models.TransitionLogEntry{ID: "t1", OrderID: "o1", FromStatus: "new", ToStatus: "in_work"}, "new"))
	assert.True(t, apperr.Is(reg.Delete(ctx, "in_work"), apperr.CodeStatusInUse))

	require.NoError(t, reg.Delete(ctx, "SPARE"))
	_, err = reg.Get(ctx, "spare")
	assert.True(t, apperr.Is(err, apperr.CodeUnknownStatus))
}

func TestListReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	reg, _, mem := newRegistry(t)
	_, err := reg.Create(ctx, models.StatusDefinition{Code: "new", Group: models.GroupDraft})
	require.NoError(t, err)
	_, err = reg.List(ctx)
	require.NoError(t, err)

	require.NoError(t, mem.CreateStatus(ctx, models.StatusDefinition{Code: "hidden", Group: models.GroupDraft}))
	list, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1, "repeated read served from cache")

	_, err = reg.Create(ctx, models.StatusDefinition{Code: "done", Group: models.GroupClosedSuccess})
	require.NoError(t, err)
	list, err = reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3, "write invalidates the namespace")
}
