package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"leaseline/internal/catalog"
	"leaseline/internal/config"
	"leaseline/internal/db"
	"leaseline/internal/domain"
	"leaseline/internal/engine"
	"leaseline/internal/migrate"
	"leaseline/internal/repo"
	"leaseline/internal/storage"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := storage.NewFileStore(db.FilesDir(dir))
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := &now
	eng := engine.New(conn, config.Default())
	eng.Store = store
	eng.Now = func() time.Time { return *clock }
	return testEnv{Engine: eng, Ctx: context.Background(), Clock: clock}
}

func createDeal(t *testing.T, env testEnv) domain.Deal {
	t.Helper()
	d, err := env.Engine.CreateDeal(env.Ctx, engine.DealCreateOptions{
		Title:      "Toyota Camry for Al Noor Trading",
		ClientName: "Al Noor Trading",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return d
}

// openTaskForGuard finds the open task created for a guard on a deal.
func openTaskForGuard(t *testing.T, env testEnv, dealID, guardKey string) domain.Task {
	t.Helper()
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{DealID: dealID, GuardKey: guardKey})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if task.Status != domain.TaskDone {
			return task
		}
	}
	t.Fatalf("no open task for guard %s on deal %s", guardKey, dealID)
	return domain.Task{}
}

func TestCreateDealStartsAtNewWithEntryTask(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	if d.StatusKey != catalog.StageNew {
		t.Fatalf("new deal status = %s", d.StatusKey)
	}
	if d.OwnerRole == nil || *d.OwnerRole != string(catalog.RoleOpManager) {
		t.Fatalf("owner role = %v", d.OwnerRole)
	}
	task := openTaskForGuard(t, env, d.ID, catalog.GuardConfirmCar)
	if task.Type != catalog.TaskConfirmCar {
		t.Fatalf("entry task type = %s", task.Type)
	}
	if task.DueAt == nil {
		t.Fatal("entry task must carry a due date")
	}
}

func TestTransitionRejectsSkippedStage(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	_, err := env.Engine.TransitionDeal(env.Ctx, engine.TransitionOptions{
		DealID:     d.ID,
		ToStatus:   catalog.StageVehicleCheck,
		ActorID:    "tester",
		ActorRoles: []catalog.Role{catalog.RoleAdmin},
	})
	var te engine.TransitionError
	if !errors.As(err, &te) || te.Reason != engine.ReasonOrderViolation {
		t.Fatalf("expected order violation, got %v", err)
	}
	got, _ := env.Engine.Repo.GetDeal(env.Ctx, d.ID)
	if got.StatusKey != catalog.StageNew {
		t.Fatalf("rejected transition must not move the deal, status = %s", got.StatusKey)
	}
}

func TestTransitionRejectsCancelledAsNext(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	_, err := env.Engine.TransitionDeal(env.Ctx, engine.TransitionOptions{
		DealID:     d.ID,
		ToStatus:   catalog.StageCancelled,
		ActorID:    "tester",
		ActorRoles: []catalog.Role{catalog.RoleAdmin},
	})
	var te engine.TransitionError
	if !errors.As(err, &te) || te.Reason != engine.ReasonOrderViolation {
		t.Fatalf("CANCELLED is never a next stage, got %v", err)
	}
}

func TestTransitionRejectsUnknownStage(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	_, err := env.Engine.TransitionDeal(env.Ctx, engine.TransitionOptions{
		DealID:     d.ID,
		ToStatus:   "LIMBO",
		ActorID:    "tester",
		ActorRoles: []catalog.Role{catalog.RoleAdmin},
	})
	var te engine.TransitionError
	if !errors.As(err, &te) || te.Reason != engine.ReasonUnknownTransition {
		t.Fatalf("expected unknown transition, got %v", err)
	}
}

func TestTransitionRejectsUnmetGuardNamingLabel(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	_, err := env.Engine.TransitionDeal(env.Ctx, engine.TransitionOptions{
		DealID:     d.ID,
		ToStatus:   catalog.StageOfferPrep,
		ActorID:    "tester",
		ActorRoles: []catalog.Role{catalog.RoleOpManager},
	})
	var te engine.TransitionError
	if !errors.As(err, &te) || te.Reason != engine.ReasonGuardViolation {
		t.Fatalf("expected guard violation, got %v", err)
	}
	if te.Guard != catalog.GuardConfirmCar || te.GuardLabel == "" {
		t.Fatalf("rejection must name the blocking guard, got %+v", te)
	}
}

func TestTransitionRejectsWrongRole(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	_, err := env.Engine.TransitionDeal(env.Ctx, engine.TransitionOptions{
		DealID:     d.ID,
		ToStatus:   catalog.StageOfferPrep,
		ActorID:    "tester",
		ActorRoles: []catalog.Role{catalog.RoleFinance},
		GuardContext: map[string]any{
			"tasks": map[string]any{"confirmCar": map[string]any{"completed": true}},
		},
	})
	var te engine.TransitionError
	if !errors.As(err, &te) || te.Reason != engine.ReasonRoleViolation {
		t.Fatalf("expected role violation, got %v", err)
	}
}

func TestTransitionWithGuardContext(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	got, err := env.Engine.TransitionDeal(env.Ctx, engine.TransitionOptions{
		DealID:     d.ID,
		ToStatus:   catalog.StageOfferPrep,
		ActorID:    "tester",
		ActorRoles: []catalog.Role{catalog.RoleOpManager},
		GuardContext: map[string]any{
			"tasks": map[string]any{"confirmCar": map[string]any{"completed": true}},
		},
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.StatusKey != catalog.StageOfferPrep {
		t.Fatalf("status = %s", got.StatusKey)
	}
	if got.StageTitle != "Offer preparation" {
		t.Fatalf("stage title not refreshed: %q", got.StageTitle)
	}
	// Entering the stage opens its guard task.
	openTaskForGuard(t, env, d.ID, catalog.GuardQuotation)
}

func TestCompleteTaskAdvancesDeal(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	task := openTaskForGuard(t, env, d.ID, catalog.GuardConfirmCar)
	res, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:     task.ID,
		Intent:     engine.IntentComplete,
		Note:       "Camry 2025, seller confirmed",
		ActorID:    "op-1",
		ActorRoles: []catalog.Role{catalog.RoleOpManager},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Transitioned || res.Deal.StatusKey != catalog.StageOfferPrep {
		t.Fatalf("completion should advance NEW -> OFFER_PREP, got %+v", res)
	}
	if res.Task.Status != domain.TaskDone || res.Task.CompletedAt == nil {
		t.Fatalf("task not completed: %+v", res.Task)
	}
	got, _ := env.Engine.Repo.GetDeal(env.Ctx, d.ID)
	state, ok := got.Payload.GuardTasks[catalog.GuardConfirmCar]
	if !ok || !state.Fulfilled {
		t.Fatalf("guard snapshot not recorded: %+v", got.Payload.GuardTasks)
	}
}

func TestCompleteTaskBlockedRoleStillCompletes(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	task := openTaskForGuard(t, env, d.ID, catalog.GuardConfirmCar)
	res, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:     task.ID,
		Intent:     engine.IntentComplete,
		ActorID:    "support-1",
		ActorRoles: []catalog.Role{catalog.RoleSupport},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Transitioned {
		t.Fatal("SUPPORT cannot exit NEW; the deal must stay put")
	}
	if res.Task.Status != domain.TaskDone {
		t.Fatal("the task itself still completes")
	}
	got, _ := env.Engine.Repo.GetDeal(env.Ctx, d.ID)
	if got.StatusKey != catalog.StageNew {
		t.Fatalf("deal moved despite role block: %s", got.StatusKey)
	}
}

func TestClaimConflict(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	task := openTaskForGuard(t, env, d.ID, catalog.GuardConfirmCar)
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "op-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	// Re-claiming by the same actor is a no-op.
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "op-1"); err != nil {
		t.Fatalf("idempotent claim: %v", err)
	}
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "op-2"); !errors.Is(err, engine.ErrClaimConflict) {
		t.Fatalf("expected claim conflict, got %v", err)
	}
	// Completing someone else's task is the same conflict.
	_, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:  task.ID,
		ActorID: "op-2",
	})
	if !errors.Is(err, engine.ErrClaimConflict) {
		t.Fatalf("expected claim conflict on completion, got %v", err)
	}
}

func TestDocumentRequired(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	advanceTo(t, env, d.ID, catalog.StageOfferPrep)
	task := openTaskForGuard(t, env, d.ID, catalog.GuardQuotation)
	_, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:     task.ID,
		ActorID:    "op-1",
		ActorRoles: []catalog.Role{catalog.RoleOpManager},
	})
	var dre engine.DocumentRequiredError
	if !errors.As(err, &dre) {
		t.Fatalf("expected document-required rejection, got %v", err)
	}
}

func TestCompleteWithUploadAdvances(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	advanceTo(t, env, d.ID, catalog.StageOfferPrep)
	task := openTaskForGuard(t, env, d.ID, catalog.GuardQuotation)
	res, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:  task.ID,
		ActorID: "op-1",
		ActorRoles: []catalog.Role{
			catalog.RoleOpManager,
		},
		Documents: []engine.DocumentUpload{{
			Type:     catalog.DocQuotation,
			FileName: "quotation.pdf",
			Content:  []byte("quotation body"),
		}},
	})
	if err != nil {
		t.Fatalf("complete with upload: %v", err)
	}
	if !res.Transitioned || res.Deal.StatusKey != catalog.StageVehicleCheck {
		t.Fatalf("expected advance to VEHICLE_CHECK, got %+v", res)
	}
	docs, err := env.Engine.Repo.ListDealDocuments(env.Ctx, d.ID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("document not recorded: %v %d", err, len(docs))
	}
	if docs[0].Metadata.GuardKey != catalog.GuardQuotation || docs[0].Metadata.GuardDealID != d.ID {
		t.Fatalf("document not tagged with guard context: %+v", docs[0].Metadata)
	}
}

func TestMissingDocumentsLeavesTaskInProgress(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	advanceTo(t, env, d.ID, catalog.StageDocsCollect)
	task := openTaskForGuard(t, env, d.ID, catalog.GuardDocsUploaded)
	_, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:     task.ID,
		ActorID:    "op-1",
		ActorRoles: []catalog.Role{catalog.RoleOpManager},
		Documents: []engine.DocumentUpload{{
			Type:     catalog.DocPassport,
			FileName: "passport.jpg",
			Content:  []byte("img"),
		}},
	})
	var mde engine.MissingDocumentsError
	if !errors.As(err, &mde) {
		t.Fatalf("expected missing-documents rejection, got %v", err)
	}
	for _, missing := range mde.Missing {
		if missing == catalog.DocPassport {
			t.Fatal("uploaded type must not be reported missing")
		}
	}
	got, _ := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if got.Status != domain.TaskInProgress {
		t.Fatalf("task status = %s, want IN_PROGRESS", got.Status)
	}
	// The partial upload is kept.
	docs, _ := env.Engine.Repo.ListDealDocuments(env.Ctx, d.ID)
	found := false
	for _, doc := range docs {
		if doc.Type == catalog.DocPassport {
			found = true
		}
	}
	if !found {
		t.Fatal("rejection must keep the uploaded document")
	}
	deal, _ := env.Engine.Repo.GetDeal(env.Ctx, d.ID)
	if deal.StatusKey != catalog.StageDocsCollect {
		t.Fatalf("deal moved on rejection: %s", deal.StatusKey)
	}
}

func TestDocsCollectCompletesWithAllTypes(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	advanceTo(t, env, d.ID, catalog.StageDocsCollect)
	task := openTaskForGuard(t, env, d.ID, catalog.GuardDocsUploaded)
	uploads := make([]engine.DocumentUpload, 0, len(catalog.DefaultRequiredDocs))
	for _, docType := range catalog.DefaultRequiredDocs {
		uploads = append(uploads, engine.DocumentUpload{
			Type:     docType,
			FileName: docType + ".pdf",
			Content:  []byte(docType),
		})
	}
	res, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:     task.ID,
		ActorID:    "op-1",
		ActorRoles: []catalog.Role{catalog.RoleOpManager},
		Documents:  uploads,
	})
	if err != nil {
		t.Fatalf("complete docs collect: %v", err)
	}
	if !res.Transitioned || res.Deal.StatusKey != catalog.StageRiskReview {
		t.Fatalf("expected advance to RISK_REVIEW, got %+v", res)
	}
	if !res.Deal.Payload.Docs.Required.AllUploaded {
		t.Fatal("checklist cache not refreshed")
	}
}

func TestSaveIntentKeepsTaskOpenForCompletion(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	task := openTaskForGuard(t, env, d.ID, catalog.GuardConfirmCar)
	res, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:  task.ID,
		Intent:  engine.IntentSave,
		Fields:  map[string]any{"make": "Toyota"},
		ActorID: "op-1",
	})
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if res.Task.Status != domain.TaskInProgress {
		t.Fatalf("draft status = %s", res.Task.Status)
	}
	got, _ := env.Engine.Repo.GetDeal(env.Ctx, d.ID)
	if got.StatusKey != catalog.StageNew {
		t.Fatal("save intent must never transition")
	}
	// Later completion merges, keeping the saved field.
	final, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:     task.ID,
		Fields:     map[string]any{"model": "Camry"},
		ActorID:    "op-1",
		ActorRoles: []catalog.Role{catalog.RoleOpManager},
	})
	if err != nil {
		t.Fatalf("complete after save: %v", err)
	}
	if final.Task.Fields["make"] != "Toyota" || final.Task.Fields["model"] != "Camry" {
		t.Fatalf("fields not merged: %v", final.Task.Fields)
	}
}

func TestCancelDeal(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	if _, err := env.Engine.CancelDeal(env.Ctx, d.ID, "client withdrew", "fin-1", []catalog.Role{catalog.RoleFinance}); err == nil {
		t.Fatal("non-supervisor cancel must be rejected")
	}
	got, err := env.Engine.CancelDeal(env.Ctx, d.ID, "client withdrew", "admin-1", []catalog.Role{catalog.RoleAdmin})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.StatusKey != catalog.StageCancelled || got.CancelReason == nil {
		t.Fatalf("cancel not recorded: %+v", got)
	}
	if _, err := env.Engine.CancelDeal(env.Ctx, d.ID, "again", "admin-1", []catalog.Role{catalog.RoleAdmin}); !errors.Is(err, engine.ErrDealTerminal) {
		t.Fatalf("cancelling a terminal deal must fail, got %v", err)
	}
}

func TestReopenTaskClearsGuard(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	task := openTaskForGuard(t, env, d.ID, catalog.GuardConfirmCar)
	_, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:     task.ID,
		ActorID:    "support-1",
		ActorRoles: []catalog.Role{catalog.RoleSupport},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := env.Engine.ReopenTask(env.Ctx, task.ID, "wrong vehicle confirmed", "op-1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if got.Status != domain.TaskInProgress || got.CompletedAt != nil {
		t.Fatalf("reopened task = %+v", got)
	}
	deal, _ := env.Engine.Repo.GetDeal(env.Ctx, d.ID)
	if state, ok := deal.Payload.GuardTasks[catalog.GuardConfirmCar]; ok && state.Fulfilled {
		t.Fatal("reopen must clear the guard snapshot")
	}
	// The guard no longer passes a transition.
	_, err = env.Engine.TransitionDeal(env.Ctx, engine.TransitionOptions{
		DealID:     d.ID,
		ToStatus:   catalog.StageOfferPrep,
		ActorID:    "op-1",
		ActorRoles: []catalog.Role{catalog.RoleOpManager},
	})
	var te engine.TransitionError
	if !errors.As(err, &te) || te.Reason != engine.ReasonGuardViolation {
		t.Fatalf("expected guard violation after reopen, got %v", err)
	}
}

func TestSLAStatusDerivedAtCompletion(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	task := openTaskForGuard(t, env, d.ID, catalog.GuardConfirmCar)
	// NEW has a 4h SLA; completing 6h later breaches it.
	*env.Clock = env.Clock.Add(6 * time.Hour)
	res, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:     task.ID,
		ActorID:    "op-1",
		ActorRoles: []catalog.Role{catalog.RoleOpManager},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Task.SLAStatus == nil || *res.Task.SLAStatus != domain.SLABreached {
		t.Fatalf("sla status = %v, want BREACHED", res.Task.SLAStatus)
	}

	// A second deal completed within the window stays on track.
	d2 := createDeal(t, env)
	task2 := openTaskForGuard(t, env, d2.ID, catalog.GuardConfirmCar)
	*env.Clock = env.Clock.Add(time.Hour)
	res2, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:     task2.ID,
		ActorID:    "op-1",
		ActorRoles: []catalog.Role{catalog.RoleOpManager},
	})
	if err != nil {
		t.Fatalf("complete second: %v", err)
	}
	if res2.Task.SLAStatus == nil || *res2.Task.SLAStatus != domain.SLAOnTrack {
		t.Fatalf("sla status = %v, want ON_TRACK", res2.Task.SLAStatus)
	}
}

func TestRemoveDocumentRefreshesCache(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	advanceTo(t, env, d.ID, catalog.StageDocsCollect)
	for _, docType := range catalog.DefaultRequiredDocs {
		_, err := env.Engine.RecordDocument(env.Ctx, engine.DocumentRecordOptions{
			DealID:   d.ID,
			GuardKey: catalog.GuardDocsUploaded,
			Upload: engine.DocumentUpload{
				Type:     docType,
				FileName: docType + ".pdf",
				Content:  []byte(docType),
			},
			ActorID: "op-1",
		})
		if err != nil {
			t.Fatalf("record %s: %v", docType, err)
		}
	}
	got, _ := env.Engine.Repo.GetDeal(env.Ctx, d.ID)
	if !got.Payload.Docs.Required.AllUploaded {
		t.Fatal("cache should be true after all uploads")
	}
	docs, _ := env.Engine.Repo.ListDealDocuments(env.Ctx, d.ID)
	if err := env.Engine.RemoveDocument(env.Ctx, docs[0].ID, "op-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ = env.Engine.Repo.GetDeal(env.Ctx, d.ID)
	if got.Payload.Docs.Required.AllUploaded {
		t.Fatal("cache must flip back after the removal")
	}
}

func TestReuploadSupersedesPriorCopy(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	for _, name := range []string{"passport-v1.jpg", "passport-v2.jpg"} {
		_, err := env.Engine.RecordDocument(env.Ctx, engine.DocumentRecordOptions{
			DealID:   d.ID,
			GuardKey: catalog.GuardDocsUploaded,
			Upload: engine.DocumentUpload{
				Type:     catalog.DocPassport,
				FileName: name,
				Content:  []byte(name),
			},
			ActorID: "op-1",
		})
		if err != nil {
			t.Fatalf("record %s: %v", name, err)
		}
	}
	docs, err := env.Engine.Repo.ListDealDocuments(env.Ctx, d.ID)
	if err != nil || len(docs) != 2 {
		t.Fatalf("documents: %v %d", err, len(docs))
	}
	live := 0
	for _, doc := range docs {
		if !doc.Metadata.Superseded {
			live++
			if doc.FileName != "passport-v2.jpg" {
				t.Fatalf("live copy should be the re-upload, got %s", doc.FileName)
			}
		}
	}
	if live != 1 {
		t.Fatalf("live copies = %d, want 1", live)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	d := createDeal(t, env)
	task := openTaskForGuard(t, env, d.ID, catalog.GuardConfirmCar)
	if _, err := env.Engine.CompleteTask(env.Ctx, engine.TaskCompleteOptions{
		TaskID:     task.ID,
		ActorID:    "op-1",
		ActorRoles: []catalog.Role{catalog.RoleOpManager},
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, d.ID, "", "", "")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	want := map[string]bool{"deal.created": false, "task.created": false, "task.completed": false, "deal.transitioned": false}
	for _, evt := range events {
		if _, ok := want[evt.Type]; ok {
			want[evt.Type] = true
		}
	}
	for evtType, seen := range want {
		if !seen {
			t.Errorf("event %s not recorded", evtType)
		}
	}
}

// advanceTo walks a deal forward through task completions until it reaches
// the wanted stage. Supervisors complete each step.
func advanceTo(t *testing.T, env testEnv, dealID, wantStage string) {
	t.Helper()
	for i := 0; i < len(catalog.Stages); i++ {
		d, err := env.Engine.Repo.GetDeal(env.Ctx, dealID)
		if err != nil {
			t.Fatalf("get deal: %v", err)
		}
		if d.StatusKey == wantStage {
			return
		}
		stage, _ := catalog.ByKey(d.StatusKey)
		for _, g := range stage.ExitGuards {
			task := openTaskForGuard(t, env, dealID, g.Key)
			opts := engine.TaskCompleteOptions{
				TaskID:     task.ID,
				ActorID:    "admin-1",
				ActorRoles: []catalog.Role{catalog.RoleAdmin},
			}
			if len(task.RequiredTypes) > 0 {
				for _, docType := range task.RequiredTypes {
					opts.Documents = append(opts.Documents, engine.DocumentUpload{
						Type:     docType,
						FileName: docType + ".pdf",
						Content:  []byte(docType),
					})
				}
			}
			if _, err := env.Engine.CompleteTask(env.Ctx, opts); err != nil {
				t.Fatalf("advance: complete %s: %v", g.Key, err)
			}
		}
	}
	d, _ := env.Engine.Repo.GetDeal(env.Ctx, dealID)
	t.Fatalf("deal stuck at %s, wanted %s", d.StatusKey, wantStage)
}
