package service

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/caseid"
	"test-asset-service/internal/config"
	"test-asset-service/internal/database"
	"test-asset-service/internal/lifecycle"
	"test-asset-service/internal/models"
	"test-asset-service/internal/repository"
	"test-asset-service/internal/steps"
)

const (
	author   uint = 1
	reviewer uint = 7
)

type event struct {
	projectID uint
	eventType string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Publish(projectID uint, eventType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{projectID, eventType})
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.eventType)
	}
	return out
}

func setupService(t *testing.T) (AssetService, *repository.Store, *recorder) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	store := repository.NewStore(db)
	rec := &recorder{}
	cfg := config.Default().Asset
	return NewAssetService(store, cfg, rec), store, rec
}

func mustModule(t *testing.T, svc AssetService, projectID uint, parentID *uint, name string) *models.Module {
	t.Helper()
	m, err := svc.CreateModule(context.Background(), &CreateModuleRequest{ProjectID: projectID, ParentID: parentID, Name: name}, author)
	require.NoError(t, err)
	return m
}

func mustCase(t *testing.T, svc AssetService, module *models.Module, title string, stepDescs ...string) *models.TestCase {
	t.Helper()
	req := &CreateTestCaseRequest{ProjectID: module.ProjectID, ModuleID: module.ID, Title: title, Tags: []string{"smoke"}}
	for _, d := range stepDescs {
		req.Steps = append(req.Steps, steps.StepInput{Description: d})
	}
	tc, err := svc.CreateTestCase(context.Background(), req, author)
	require.NoError(t, err)
	return tc
}

func stepOrder(t *testing.T, svc AssetService, caseID uint) []string {
	t.Helper()
	list, err := svc.ListSteps(context.Background(), caseID)
	require.NoError(t, err)
	var out []string
	for i, s := range list {
		assert.Equal(t, i+1, s.StepOrder)
		out = append(out, s.Description)
	}
	return out
}

func TestCreateTestCase(t *testing.T) {
	svc, _, rec := setupService(t)
	ctx := context.Background()

	m := mustModule(t, svc, 1, nil, "Login")
	tc := mustCase(t, svc, m, "valid password", "open page", "submit form")

	assert.Equal(t, caseid.Format(1, m.ID, 1), tc.CaseID)
	assert.Equal(t, models.StatusDraft, tc.Status)
	assert.Equal(t, 1, tc.Version)
	assert.Equal(t, models.PriorityP2, tc.Priority)
	assert.Equal(t, "functional", tc.Type)
	assert.Equal(t, 1, tc.SortOrder)
	require.Len(t, tc.Steps, 2)
	assert.Equal(t, 2, tc.Steps[1].StepOrder)

	second := mustCase(t, svc, m, "wrong password")
	assert.Equal(t, caseid.Format(1, m.ID, 2), second.CaseID)
	assert.Equal(t, 2, second.SortOrder)

	loaded, err := svc.GetTestCaseByCaseID(ctx, tc.CaseID)
	require.NoError(t, err)
	assert.Equal(t, []string{"smoke"}, loaded.Tags.Strings())
	assert.Len(t, loaded.Steps, 2)

	assert.Equal(t, []string{EventModuleCreated, EventCaseCreated, EventCaseCreated}, rec.types())
}

func TestCreateTestCaseValidation(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	m := mustModule(t, svc, 1, nil, "Login")
	other := mustModule(t, svc, 2, nil, "Elsewhere")

	_, err := svc.CreateTestCase(ctx, &CreateTestCaseRequest{ProjectID: 1, ModuleID: other.ID, Title: "x"}, author)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "module of another project")

	_, err = svc.CreateTestCase(ctx, &CreateTestCaseRequest{ProjectID: 1, ModuleID: 999, Title: "x"}, author)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = svc.CreateTestCase(ctx, &CreateTestCaseRequest{ProjectID: 1, ModuleID: m.ID, Title: " "}, author)
	assert.True(t, apperr.Is(err, apperr.KindInvalidOperation))

	_, err = svc.CreateTestCase(ctx, &CreateTestCaseRequest{ProjectID: 1, ModuleID: m.ID, Title: "x", Priority: "P9"}, author)
	assert.True(t, apperr.Is(err, apperr.KindInvalidOperation))

	// an invalid step rolls back the whole case
	_, err = svc.CreateTestCase(ctx, &CreateTestCaseRequest{
		ProjectID: 1, ModuleID: m.ID, Title: "x",
		Steps: []steps.StepInput{{Description: "ok"}, {Description: ""}},
	}, author)
	assert.True(t, apperr.Is(err, apperr.KindInvalidOperation))
	cases, err := svc.ListTestCases(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, cases)

	require.NoError(t, svc.DeleteModule(ctx, m.ID, author))
	_, err = svc.CreateTestCase(ctx, &CreateTestCaseRequest{ProjectID: 1, ModuleID: m.ID, Title: "x"}, author)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "disabled module")
}

func TestConcurrentCreateTestCase(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	m := mustModule(t, svc, 1, nil, "Login")

	const n = 8
	var (
		mu  sync.Mutex
		ids []string
		g   errgroup.Group
	)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			tc, err := svc.CreateTestCase(ctx, &CreateTestCaseRequest{ProjectID: 1, ModuleID: m.ID, Title: "t"}, author)
			if err != nil {
				return err
			}
			mu.Lock()
			ids = append(ids, tc.CaseID)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Strings(ids)
	for i, id := range ids {
		assert.Equal(t, caseid.Format(1, m.ID, i+1), id)
	}
}

func TestReviewWorkflow(t *testing.T) {
	svc, _, rec := setupService(t)
	ctx := context.Background()

	m := mustModule(t, svc, 1, nil, "Login")
	tc := mustCase(t, svc, m, "valid password", "open page")

	_, err := svc.CheckExecutable(ctx, tc.ID)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	tc, err = svc.Submit(ctx, tc.ID, author)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingReview, tc.Status)

	_, err = svc.UpdateTestCase(ctx, tc.ID, &UpdateTestCaseRequest{Title: "changed"}, author)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "not editable while pending review")
	_, err = svc.AppendStep(ctx, tc.ID, steps.StepInput{Description: "more"}, author)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	tc, err = svc.Approve(ctx, tc.ID, reviewer, "fine")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, tc.Status)
	assert.Equal(t, reviewer, *tc.ReviewerID)

	tc, err = svc.Transition(ctx, tc.ID, lifecycle.ActionActivate, lifecycle.Input{OperatorID: author})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, tc.Status)

	_, err = svc.Reject(ctx, tc.ID, reviewer, "too late")
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))

	executable, err := svc.CheckExecutable(ctx, tc.ID)
	require.NoError(t, err)
	assert.Len(t, executable.Steps, 1)

	history, err := svc.ReviewHistory(ctx, tc.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.StatusActive, history[2].ToStatus)

	types := rec.types()
	assert.Equal(t, EventCaseStatusChanged, types[len(types)-1])
}

func TestRejectThenEdit(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	m := mustModule(t, svc, 1, nil, "Login")
	tc := mustCase(t, svc, m, "valid password")

	_, err := svc.Submit(ctx, tc.ID, author)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, tc.ID, lifecycle.ActionClaim, lifecycle.Input{OperatorID: reviewer})
	require.NoError(t, err)

	err = svc.DeleteTestCase(ctx, tc.ID, author)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "cannot delete while under review")

	_, err = svc.Reject(ctx, tc.ID, reviewer, "add steps")
	require.NoError(t, err)

	automated := true
	updated, err := svc.UpdateTestCase(ctx, tc.ID, &UpdateTestCaseRequest{Title: "valid password v2", Automated: &automated}, author)
	require.NoError(t, err)
	assert.Equal(t, "valid password v2", updated.Title)
	assert.True(t, updated.Automated)
	assert.Equal(t, 5, updated.Version)

	tc, err = svc.Submit(ctx, tc.ID, author)
	require.NoError(t, err)
	assert.Nil(t, tc.ReviewerID)
	assert.Empty(t, tc.ReviewComment)
}

func TestUpdateTestCaseClearsOptionalText(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	m := mustModule(t, svc, 1, nil, "Login")
	tc := mustCase(t, svc, m, "valid password", "s1")

	objective, preconditions := "reach the dashboard", "user exists"
	updated, err := svc.UpdateTestCase(ctx, tc.ID, &UpdateTestCaseRequest{Objective: &objective, Preconditions: &preconditions}, author)
	require.NoError(t, err)
	assert.Equal(t, objective, updated.Objective)
	assert.Equal(t, preconditions, updated.Preconditions)

	// nil leaves the field alone
	updated, err = svc.UpdateTestCase(ctx, tc.ID, &UpdateTestCaseRequest{Title: "valid password v2"}, author)
	require.NoError(t, err)
	assert.Equal(t, objective, updated.Objective)

	empty := ""
	updated, err = svc.UpdateTestCase(ctx, tc.ID, &UpdateTestCaseRequest{Objective: &empty}, author)
	require.NoError(t, err)
	assert.Empty(t, updated.Objective)
	assert.Equal(t, preconditions, updated.Preconditions)

	loaded, err := svc.GetTestCase(ctx, tc.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Objective)
}

func TestReviewHistoryUnknownCase(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.ReviewHistory(ctx, 9999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	m := mustModule(t, svc, 1, nil, "Login")
	tc := mustCase(t, svc, m, "valid password", "s1")
	history, err := svc.ReviewHistory(ctx, tc.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, svc.DeleteTestCase(ctx, tc.ID, author))
	_, err = svc.ReviewHistory(ctx, tc.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestStepOperations(t *testing.T) {
	svc, _, rec := setupService(t)
	ctx := context.Background()

	m := mustModule(t, svc, 1, nil, "Login")
	tc := mustCase(t, svc, m, "valid password", "s1", "s2", "s3")

	_, err := svc.MoveStep(ctx, tc.Steps[1].ID, 1, author)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s1", "s3"}, stepOrder(t, svc, tc.ID))

	_, err = svc.InsertStep(ctx, tc.ID, 2, steps.StepInput{Description: "s1.5"}, author)
	require.NoError(t, err)
	_, err = svc.UpdateStep(ctx, tc.Steps[2].ID, steps.StepInput{Description: "s3!"}, author)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveStep(ctx, tc.Steps[0].ID, author))
	_, err = svc.AppendStep(ctx, tc.ID, steps.StepInput{Description: "s4"}, author)
	require.NoError(t, err)

	assert.Equal(t, []string{"s2", "s1.5", "s3!", "s4"}, stepOrder(t, svc, tc.ID))

	loaded, err := svc.GetTestCase(ctx, tc.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, loaded.Version)

	_, err = svc.InsertStep(ctx, tc.ID, 9, steps.StepInput{Description: "x"}, author)
	assert.True(t, apperr.Is(err, apperr.KindInvalidOperation))
	_, err = svc.MoveStep(ctx, tc.Steps[1].ID, 9, author)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	loaded, err = svc.GetTestCase(ctx, tc.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, loaded.Version, "failed edits do not bump the version")

	assert.Contains(t, rec.types(), EventStepsChanged)
}

func TestDeleteTestCase(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	m := mustModule(t, svc, 1, nil, "Login")
	tc := mustCase(t, svc, m, "valid password", "s1", "s2")

	err := svc.DeleteModule(ctx, m.ID, author)
	assert.True(t, apperr.Is(err, apperr.KindInvalidOperation))

	require.NoError(t, svc.DeleteTestCase(ctx, tc.ID, author))
	_, err = svc.GetTestCase(ctx, tc.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	remaining, err := store.Steps.FindByCase(tc.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	require.NoError(t, svc.DeleteModule(ctx, m.ID, author))
}

func TestMoveTestCase(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	a := mustModule(t, svc, 1, nil, "A")
	b := mustModule(t, svc, 1, nil, "B")
	other := mustModule(t, svc, 2, nil, "Other")
	tc := mustCase(t, svc, a, "case")

	moved, err := svc.MoveTestCase(ctx, tc.ID, b.ID, author)
	require.NoError(t, err)
	assert.Equal(t, b.ID, moved.ModuleID)
	assert.Equal(t, tc.CaseID, moved.CaseID)

	_, err = svc.MoveTestCase(ctx, tc.ID, other.ID, author)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	// numbering in A continues after the moved identifier
	next := mustCase(t, svc, a, "next")
	assert.Equal(t, caseid.Format(1, a.ID, 2), next.CaseID)

	countA, err := svc.CountTestCases(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), countA)

	_, err = svc.Transition(ctx, tc.ID, lifecycle.ActionArchive, lifecycle.Input{OperatorID: author})
	require.NoError(t, err)
	_, err = svc.MoveTestCase(ctx, tc.ID, a.ID, author)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState))
}

func TestModuleOperations(t *testing.T) {
	svc, _, rec := setupService(t)
	ctx := context.Background()

	a := mustModule(t, svc, 1, nil, "A")
	b := mustModule(t, svc, 1, &a.ID, "B")
	c := mustModule(t, svc, 1, &b.ID, "C")
	mustCase(t, svc, c, "deep")
	mustCase(t, svc, a, "shallow")

	count, err := svc.CountTestCases(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = svc.MoveModule(ctx, b.ID, nil, author)
	require.NoError(t, err)
	c, err = svc.GetModule(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "/B", c.Path)
	assert.Equal(t, 2, c.Depth)

	_, err = svc.RenameModule(ctx, b.ID, "Bee", author)
	require.NoError(t, err)
	descendants, err := svc.GetDescendants(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, descendants, 1)
	assert.Equal(t, "/Bee", descendants[0].Path)

	_, err = svc.ReorderModule(ctx, b.ID, 0, author)
	require.NoError(t, err)
	roots, err := svc.GetModuleTree(ctx, 1)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "Bee", roots[0].Name)

	_, err = svc.MoveModule(ctx, b.ID, &c.ID, author)
	assert.True(t, apperr.Is(err, apperr.KindInvalidOperation))

	assert.Subset(t, rec.types(), []string{EventModuleMoved, EventModuleRenamed, EventModuleReordered})
}
