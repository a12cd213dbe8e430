package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clinicdesk/clinic/internal/domain/medication"
	"github.com/clinicdesk/clinic/internal/domain/patient"
)

// memPatients is a minimal patient.Repository for wiring tests.
type memPatients struct {
	mu   sync.Mutex
	pats map[string]*patient.Patient
	seq  int
}

func newMemPatients() *memPatients {
	return &memPatients{pats: make(map[string]*patient.Patient)}
}

func (m *memPatients) Create(_ context.Context, p *patient.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.pats {
		if existing.PatientID == p.PatientID {
			return patient.ErrDuplicatePatientID
		}
	}
	m.seq++
	p.ID = fmt.Sprintf("pat-%03d", m.seq)
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.pats[p.ID] = &cp
	return nil
}

func (m *memPatients) GetByID(_ context.Context, id string) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pats[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPatients) GetByPatientID(_ context.Context, patientID int) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pats {
		if p.PatientID == patientID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, patient.ErrNotFound
}

func (m *memPatients) List(_ context.Context, f patient.Filter) ([]*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*patient.Patient
	for _, p := range m.pats {
		if !matches(p, f) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatientID < out[j].PatientID })
	return out, nil
}

func matches(p *patient.Patient, f patient.Filter) bool {
	if f.DoctorRef != "" && p.DoctorRef != f.DoctorRef {
		return false
	}
	if f.CaregiverRef != "" && p.CaregiverRef != f.CaregiverRef {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, p.ID) {
		return false
	}
	if len(f.DoctorRefs) > 0 && !contains(f.DoctorRefs, p.DoctorRef) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (m *memPatients) Update(_ context.Context, p *patient.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.pats[p.ID]
	if !ok {
		return patient.ErrNotFound
	}
	for id, other := range m.pats {
		if id != p.ID && other.PatientID == p.PatientID {
			return patient.ErrDuplicatePatientID
		}
	}
	cp := *p
	cp.DoctorRef = existing.DoctorRef
	cp.DoctorID = existing.DoctorID
	cp.UpdatedAt = time.Now()
	m.pats[p.ID] = &cp
	return nil
}

func (m *memPatients) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pats[id]; !ok {
		return patient.ErrNotFound
	}
	delete(m.pats, id)
	return nil
}

func (m *memPatients) DeleteByDoctor(_ context.Context, doctorRef string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, p := range m.pats {
		if p.DoctorRef == doctorRef {
			delete(m.pats, id)
			n++
		}
	}
	return n, nil
}

func (m *memPatients) UnlinkCaregiver(_ context.Context, caregiverRef string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.pats {
		if p.CaregiverRef == caregiverRef {
			p.CaregiverRef = ""
			p.CaregiverID = nil
			n++
		}
	}
	return n, nil
}

// memRecords is a minimal medication.Repository for wiring tests.
type memRecords struct {
	mu   sync.Mutex
	recs map[string]*medication.Record
	seq  int
}

func newMemRecords() *memRecords {
	return &memRecords{recs: make(map[string]*medication.Record)}
}

func (m *memRecords) Create(_ context.Context, r *medication.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.recs {
		if existing.MedID == r.MedID {
			return medication.ErrDuplicateMedID
		}
	}
	m.seq++
	r.ID = fmt.Sprintf("rec-%03d", m.seq)
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.recs[r.ID] = &cp
	return nil
}

func (m *memRecords) GetByID(_ context.Context, id string) (*medication.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		return nil, medication.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRecords) List(_ context.Context, f medication.Filter) ([]*medication.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*medication.Record
	for _, r := range m.recs {
		if f.PrescribedBy != "" && r.PrescribedBy != f.PrescribedBy {
			continue
		}
		if f.PatientRef != "" && r.PatientRef != f.PatientRef {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MedID < out[j].MedID })
	return out, nil
}

func (m *memRecords) Update(_ context.Context, r *medication.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.recs[r.ID]
	if !ok {
		return medication.ErrNotFound
	}
	existing.Name = r.Name
	existing.Dosage = r.Dosage
	existing.Frequency = r.Frequency
	existing.UpdatedAt = time.Now()
	return nil
}

func (m *memRecords) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[id]; !ok {
		return medication.ErrNotFound
	}
	delete(m.recs, id)
	return nil
}

func (m *memRecords) DeleteByPatient(_ context.Context, patientRef string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.recs {
		if r.PatientRef == patientRef {
			delete(m.recs, id)
			n++
		}
	}
	return n, nil
}

func (m *memRecords) RenumberPatient(_ context.Context, patientRef string, patientID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.recs {
		if r.PatientRef == patientRef && r.PatientID != patientID {
			r.PatientID = patientID
			n++
		}
	}
	return n, nil
}
