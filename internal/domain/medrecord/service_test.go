package medrecord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/klinik/klinik/internal/domain/visit"
)

type mockRepo struct {
	records map[uuid.UUID]*Record
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[uuid.UUID]*Record)}
}

func (m *mockRepo) Create(_ context.Context, r *Record) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) ListByVisit(_ context.Context, visitID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	var result []*Record
	for _, r := range m.records {
		if r.VisitID == visitID {
			result = append(result, r)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) Update(_ context.Context, r *Record, now time.Time) error {
	stored, ok := m.records[r.ID]
	if !ok || now.Sub(stored.CreatedAt) > EditWindow {
		return ErrConflict
	}
	cp := *r
	cp.CreatedAt = stored.CreatedAt
	m.records[r.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID, now time.Time) error {
	stored, ok := m.records[id]
	if !ok || now.Sub(stored.CreatedAt) > DeleteWindow {
		return ErrConflict
	}
	delete(m.records, id)
	return nil
}

func (m *mockRepo) CountByVisitAndKind(_ context.Context, visitID uuid.UUID, kind Kind) (int, error) {
	n := 0
	for _, r := range m.records {
		if r.VisitID == visitID && r.Kind == kind {
			n++
		}
	}
	return n, nil
}

type mockVisits struct {
	visits  map[uuid.UUID]*visit.Visit
	lockErr error
	locks   []string // sources of Lock calls, in order
}

func newMockVisits() *mockVisits {
	return &mockVisits{visits: make(map[uuid.UUID]*visit.Visit)}
}

func (m *mockVisits) add(status visit.Status, locked bool) uuid.UUID {
	id := uuid.New()
	m.visits[id] = &visit.Visit{ID: id, Type: visit.TypeOutpatient, Status: status, IsLocked: locked}
	return id
}

func (m *mockVisits) Get(_ context.Context, id uuid.UUID) (*visit.Visit, error) {
	v, ok := m.visits[id]
	if !ok {
		return nil, visit.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *mockVisits) Lock(_ context.Context, id uuid.UUID, actorID, source string) error {
	if m.lockErr != nil {
		return m.lockErr
	}
	v, ok := m.visits[id]
	if !ok {
		return visit.ErrNotFound
	}
	v.IsLocked = true
	v.LockSource = &source
	m.locks = append(m.locks, source)
	return nil
}

func newTestService() (*Service, *mockRepo, *mockVisits) {
	repo := newMockRepo()
	visits := newMockVisits()
	return NewService(repo, visits), repo, visits
}

func TestCreate_StampsAuthor(t *testing.T) {
	svc, _, visits := newTestService()
	visitID := visits.add(visit.StatusInExamination, false)

	rec := &Record{
		VisitID:    visitID,
		AuthorID:   "spoofed-id",
		AuthorRole: RoleDoctor,
		Assessment: strptr("URI"),
	}
	if err := svc.Create(context.Background(), rec, "dr-9", RoleDoctor); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.AuthorID != "dr-9" {
		t.Errorf("client-supplied author must be overwritten, got %s", rec.AuthorID)
	}
	if rec.Kind != KindSOAP {
		t.Errorf("expected kind inferred as soap, got %s", rec.Kind)
	}
	if !rec.IsDraft {
		t.Error("new records start as drafts")
	}
}

func TestCreate_StatusGate(t *testing.T) {
	svc, _, visits := newTestService()

	for _, status := range []visit.Status{
		visit.StatusRegistered, visit.StatusWaiting, visit.StatusReadyForBilling,
		visit.StatusBilled, visit.StatusPaid, visit.StatusCompleted, visit.StatusCancelled,
	} {
		visitID := visits.add(status, false)
		rec := &Record{VisitID: visitID, ProgressNote: strptr("note")}
		if err := svc.Create(context.Background(), rec, "n-1", RoleNurse); err == nil {
			t.Errorf("expected rejection creating record in status %s", status)
		}
	}
}

func TestCreate_LockedVisit(t *testing.T) {
	svc, _, visits := newTestService()
	visitID := visits.add(visit.StatusExamined, true)

	rec := &Record{VisitID: visitID, ProgressNote: strptr("late addendum")}
	err := svc.Create(context.Background(), rec, "n-1", RoleNurse)
	var le *visit.LockedError
	if !errors.As(err, &le) {
		t.Fatalf("expected LockedError, got %v", err)
	}
}

func TestCreate_NursePolicy(t *testing.T) {
	svc, _, visits := newTestService()
	visitID := visits.add(visit.StatusInExamination, false)

	rec := &Record{VisitID: visitID, Plan: strptr("discharge tomorrow")}
	err := svc.Create(context.Background(), rec, "n-1", RoleNurse)
	var rm *RoleMismatchError
	if !errors.As(err, &rm) {
		t.Fatalf("expected RoleMismatchError, got %v", err)
	}
}

func TestCreate_UnknownVisitFailsClosed(t *testing.T) {
	svc, _, _ := newTestService()

	rec := &Record{VisitID: uuid.New(), ProgressNote: strptr("note")}
	if err := svc.Create(context.Background(), rec, "n-1", RoleNurse); !errors.Is(err, visit.ErrNotFound) {
		t.Errorf("expected visit.ErrNotFound, got %v", err)
	}
}

func TestUpdate_WithinWindow(t *testing.T) {
	svc, repo, visits := newTestService()
	visitID := visits.add(visit.StatusInExamination, false)

	rec := &Record{VisitID: visitID, ProgressNote: strptr("initial")}
	if err := svc.Create(context.Background(), rec, "n-1", RoleNurse); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.Update(context.Background(), rec.ID,
		&Record{ProgressNote: strptr("corrected")}, "n-1", RoleNurse)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if *got.ProgressNote != "corrected" {
		t.Errorf("progress note not updated: %s", *got.ProgressNote)
	}

	stored, _ := repo.GetByID(context.Background(), rec.ID)
	if *stored.ProgressNote != "corrected" {
		t.Error("update not persisted")
	}
}

func TestUpdate_WindowExpired(t *testing.T) {
	svc, repo, visits := newTestService()
	visitID := visits.add(visit.StatusInExamination, false)

	rec := &Record{VisitID: visitID, ProgressNote: strptr("initial")}
	if err := svc.Create(context.Background(), rec, "n-1", RoleNurse); err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.records[rec.ID].CreatedAt = time.Now().Add(-EditWindow - time.Minute)

	_, err := svc.Update(context.Background(), rec.ID,
		&Record{ProgressNote: strptr("too late")}, "n-1", RoleNurse)
	var we *WindowExpiredError
	if !errors.As(err, &we) {
		t.Fatalf("expected WindowExpiredError, got %v", err)
	}
	if we.Op != "edit" {
		t.Errorf("expected edit window error, got %s", we.Op)
	}
}

func TestUpdate_LockBeatsOpenWindow(t *testing.T) {
	svc, _, visits := newTestService()
	visitID := visits.add(visit.StatusExamined, false)

	rec := &Record{VisitID: visitID, ProgressNote: strptr("initial")}
	if err := svc.Create(context.Background(), rec, "n-1", RoleNurse); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Lock the visit after creation; the record is still well inside its
	// edit window.
	visits.visits[visitID].IsLocked = true

	_, err := svc.Update(context.Background(), rec.ID,
		&Record{ProgressNote: strptr("blocked")}, "n-1", RoleNurse)
	var le *visit.LockedError
	if !errors.As(err, &le) {
		t.Fatalf("expected LockedError, got %v", err)
	}
}

func TestDelete_Windows(t *testing.T) {
	svc, repo, visits := newTestService()
	visitID := visits.add(visit.StatusInExamination, false)

	rec := &Record{VisitID: visitID, ProgressNote: strptr("wrong patient")}
	if err := svc.Create(context.Background(), rec, "n-1", RoleNurse); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(context.Background(), rec.ID); err != nil {
		t.Fatalf("delete inside window: %v", err)
	}

	rec2 := &Record{VisitID: visitID, ProgressNote: strptr("old entry")}
	if err := svc.Create(context.Background(), rec2, "n-1", RoleNurse); err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.records[rec2.ID].CreatedAt = time.Now().Add(-DeleteWindow - time.Second)

	err := svc.Delete(context.Background(), rec2.ID)
	var we *WindowExpiredError
	if !errors.As(err, &we) {
		t.Fatalf("expected WindowExpiredError, got %v", err)
	}
	if we.Op != "delete" {
		t.Errorf("expected delete window error, got %s", we.Op)
	}
}

func TestFinalize_LocksVisit(t *testing.T) {
	svc, repo, visits := newTestService()
	visitID := visits.add(visit.StatusExamined, false)

	rec := &Record{VisitID: visitID, Assessment: strptr("resolved")}
	if err := svc.Create(context.Background(), rec, "dr-1", RoleDoctor); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.Finalize(context.Background(), rec.ID, "dr-1")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got.IsDraft {
		t.Error("finalized record must not stay a draft")
	}
	stored, _ := repo.GetByID(context.Background(), rec.ID)
	if stored.IsDraft {
		t.Error("draft flag not persisted")
	}
	if len(visits.locks) != 1 || visits.locks[0] != visit.LockSourceFinalizedRecord {
		t.Errorf("expected finalized_record lock, got %v", visits.locks)
	}
}

func TestCreateDischargeSummary(t *testing.T) {
	svc, _, visits := newTestService()
	visitID := visits.add(visit.StatusExamined, false)
	visits.visits[visitID].Type = visit.TypeInpatient

	rec := &Record{VisitID: visitID, ProgressNote: strptr("discharged in stable condition")}
	if err := svc.CreateDischargeSummary(context.Background(), rec, "dr-1", RoleDoctor); err != nil {
		t.Fatalf("discharge summary: %v", err)
	}
	if rec.Kind != KindDischargeSummary || rec.IsDraft {
		t.Errorf("unexpected record state: kind=%s draft=%v", rec.Kind, rec.IsDraft)
	}
	if len(visits.locks) != 1 || visits.locks[0] != visit.LockSourceDischargeSummary {
		t.Errorf("expected discharge_summary lock, got %v", visits.locks)
	}

	// Second summary for the same visit is rejected.
	again := &Record{VisitID: visitID, ProgressNote: strptr("duplicate")}
	if err := svc.CreateDischargeSummary(context.Background(), again, "dr-1", RoleDoctor); err == nil {
		t.Error("expected rejection of a second discharge summary")
	}
}

func TestCreateDischargeSummary_DoctorOnly(t *testing.T) {
	svc, _, visits := newTestService()
	visitID := visits.add(visit.StatusExamined, false)

	rec := &Record{VisitID: visitID, ProgressNote: strptr("note")}
	err := svc.CreateDischargeSummary(context.Background(), rec, "n-1", RoleNurse)
	var rm *RoleMismatchError
	if !errors.As(err, &rm) {
		t.Fatalf("expected RoleMismatchError, got %v", err)
	}
}

// rollbackTx snapshots the mock state before running fn and restores it when
// fn fails, mirroring what the pool-backed runner does with a real
// transaction.
func rollbackTx(repo *mockRepo, visits *mockVisits) func(context.Context, func(context.Context) error) error {
	return func(ctx context.Context, fn func(context.Context) error) error {
		records := make(map[uuid.UUID]*Record, len(repo.records))
		for id, r := range repo.records {
			cp := *r
			records[id] = &cp
		}
		vs := make(map[uuid.UUID]*visit.Visit, len(visits.visits))
		for id, v := range visits.visits {
			cp := *v
			vs[id] = &cp
		}
		locks := append([]string(nil), visits.locks...)

		if err := fn(ctx); err != nil {
			repo.records = records
			visits.visits = vs
			visits.locks = locks
			return err
		}
		return nil
	}
}

type failCreateRepo struct {
	*mockRepo
}

func (r *failCreateRepo) Create(context.Context, *Record) error {
	return errors.New("record insert failed")
}

func TestFinalize_RollsBackDraftWhenLockFails(t *testing.T) {
	svc, repo, visits := newTestService()
	svc.SetTxRunner(rollbackTx(repo, visits))
	visitID := visits.add(visit.StatusExamined, false)

	rec := &Record{VisitID: visitID, Assessment: strptr("resolved")}
	if err := svc.Create(context.Background(), rec, "dr-1", RoleDoctor); err != nil {
		t.Fatalf("create: %v", err)
	}

	visits.lockErr = errors.New("lock conflict")
	if _, err := svc.Finalize(context.Background(), rec.ID, "dr-1"); err == nil {
		t.Fatal("expected the lock failure to surface")
	}
	stored, _ := repo.GetByID(context.Background(), rec.ID)
	if !stored.IsDraft {
		t.Error("record must stay a draft when the visit lock fails")
	}
}

func TestCreateDischargeSummary_RollsBackLockWhenCreateFails(t *testing.T) {
	repo := newMockRepo()
	visits := newMockVisits()
	svc := NewService(&failCreateRepo{repo}, visits)
	svc.SetTxRunner(rollbackTx(repo, visits))
	visitID := visits.add(visit.StatusExamined, false)
	visits.visits[visitID].Type = visit.TypeInpatient

	rec := &Record{VisitID: visitID, ProgressNote: strptr("discharged in stable condition")}
	if err := svc.CreateDischargeSummary(context.Background(), rec, "dr-1", RoleDoctor); err == nil {
		t.Fatal("expected the record insert failure to surface")
	}
	v, _ := visits.Get(context.Background(), visitID)
	if v.IsLocked {
		t.Error("visit must not stay locked when the summary insert fails")
	}
	if len(visits.locks) != 0 {
		t.Errorf("expected no recorded locks, got %v", visits.locks)
	}
}
