package inmemdb

import (
	"context"
	"sort"

	"github.com/kpsipet/pengaduan/core/complaint"
)

type ComplaintRepository struct {
	db *DB
}

var _ complaint.Repository = (*ComplaintRepository)(nil) // interface compliance check

func NewComplaintRepository(db *DB) *ComplaintRepository {
	return &ComplaintRepository{db: db}
}

// CreateStudent, CreateTeacher, CreateTemplate and CreateCase seed the records owned by the CRUD layer.

func (repo *ComplaintRepository) CreateStudent(st complaint.Student) complaint.Student {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	st.ID = repo.db.nextID()
	repo.db.students[st.ID] = st
	return st
}

func (repo *ComplaintRepository) CreateTeacher(tc complaint.Teacher) complaint.Teacher {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	tc.ID = repo.db.nextID()
	repo.db.teachers[tc.ID] = tc
	return tc
}

func (repo *ComplaintRepository) CreateTemplate(tmpl complaint.Template) complaint.Template {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	tmpl.ID = repo.db.nextID()
	repo.db.templates[tmpl.ID] = tmpl
	return tmpl
}

// CreateCase keeps cs.ID when set.
func (repo *ComplaintRepository) CreateCase(cs complaint.Case) complaint.Case {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	if cs.ID == 0 {
		cs.ID = repo.db.nextID()
	} else if cs.ID > repo.db.seq {
		repo.db.seq = cs.ID
	}
	if cs.Status == "" {
		cs.Status = complaint.StatusSubmitted
	}
	repo.db.cases[cs.ID] = cs
	return cs
}

func (repo *ComplaintRepository) getCase(id int) (complaint.Case, error) {
	cs, ok := repo.db.cases[id]
	if !ok {
		return complaint.Case{}, complaint.ErrCaseNotFound
	}
	// student & teacher may have changed since the case was created
	if st, ok := repo.db.students[cs.Student.ID]; ok {
		cs.Student = st
	}
	if tc, ok := repo.db.teachers[cs.Teacher.ID]; ok {
		cs.Teacher = tc
	}
	return cs, nil
}

func (repo *ComplaintRepository) GetCase(_ context.Context, id int) (complaint.Case, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.getCase(id)
}

func (repo *ComplaintRepository) hasApproval(caseID int) bool {
	for _, apv := range repo.db.approvals {
		if apv.CaseID == caseID {
			return true
		}
	}
	return false
}

func (repo *ComplaintRepository) CaseHasApproval(_ context.Context, caseID int) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.hasApproval(caseID), nil
}

func (repo *ComplaintRepository) GetTemplate(_ context.Context, id int) (complaint.Template, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	if tmpl, ok := repo.db.templates[id]; ok {
		return tmpl, nil
	}
	return complaint.Template{}, complaint.ErrTemplateNotFound
}

func (repo *ComplaintRepository) QueryTemplates(context.Context) ([]complaint.Template, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	templates := make([]complaint.Template, 0, len(repo.db.templates))
	for _, tmpl := range repo.db.templates {
		templates = append(templates, tmpl)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates, nil
}

func (repo *ComplaintRepository) ApproveCase(_ context.Context, apv complaint.Approval) (complaint.Approval, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cs, ok := repo.db.cases[apv.CaseID]
	if !ok {
		return complaint.Approval{}, complaint.ErrCaseNotFound
	}
	if repo.hasApproval(apv.CaseID) {
		return complaint.Approval{}, complaint.ErrAlreadyProcessed
	}

	apv.ID = repo.db.nextID()
	repo.db.approvals[apv.ID] = apv
	cs.Status = complaint.StatusApproved
	repo.db.cases[cs.ID] = cs
	return apv, nil
}

func (repo *ComplaintRepository) detail(apv complaint.Approval) complaint.ApprovalDetail {
	cs, _ := repo.getCase(apv.CaseID)
	return complaint.ApprovalDetail{
		Approval: apv,
		Case:     cs,
		Template: repo.db.templates[apv.TemplateID],
	}
}

func (repo *ComplaintRepository) GetApproval(_ context.Context, id int) (complaint.ApprovalDetail, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	apv, ok := repo.db.approvals[id]
	if !ok {
		return complaint.ApprovalDetail{}, complaint.ErrApprovalNotFound
	}
	return repo.detail(apv), nil
}

func (repo *ComplaintRepository) QueryApprovals(context.Context) ([]complaint.ApprovalDetail, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	details := make([]complaint.ApprovalDetail, 0, len(repo.db.approvals))
	for _, apv := range repo.db.approvals {
		details = append(details, repo.detail(apv))
	}
	sort.Slice(details, func(i, j int) bool {
		if details[i].ProcessedAt.Equal(details[j].ProcessedAt) {
			return details[i].ID > details[j].ID
		}
		return details[i].ProcessedAt.After(details[j].ProcessedAt)
	})
	return details, nil
}

func (repo *ComplaintRepository) SavePendingDelivery(_ context.Context, pd complaint.PendingDelivery) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	if orig, ok := repo.db.deliveries[pd.ApprovalID]; ok {
		pd.CreatedAt = orig.CreatedAt
	}
	repo.db.deliveries[pd.ApprovalID] = pd
	return nil
}

func (repo *ComplaintRepository) QueryPendingDeliveries(_ context.Context, limit int) ([]complaint.PendingDelivery, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	pending := make([]complaint.PendingDelivery, 0, len(repo.db.deliveries))
	for _, pd := range repo.db.deliveries {
		pending = append(pending, pd)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].UpdatedAt.Equal(pending[j].UpdatedAt) {
			return pending[i].ApprovalID < pending[j].ApprovalID
		}
		return pending[i].UpdatedAt.Before(pending[j].UpdatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (repo *ComplaintRepository) DeletePendingDelivery(_ context.Context, approvalID int) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	delete(repo.db.deliveries, approvalID)
	return nil
}
