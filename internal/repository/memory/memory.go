/*
Package memory provides an in-process implementation of repository.Store.

It backs the server's --store=memory mode and the service tests. Transactions
hold a single store-wide mutex and work on a cloned snapshot that replaces the
live state only when fn returns nil, so a failed run leaves no partial writes.
LockPeriod is therefore trivially exclusive: every transaction already is.
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/repository"

	"github.com/google/uuid"
)

type state struct {
	periods         map[uuid.UUID]models.ClosingPeriod
	uploads         map[uuid.UUID]models.SourceUpload
	records         map[uuid.UUID][]models.SourceEmployeeRecord // by period
	classifications map[string]models.ConceptClassification     // client|concept
	discrepancies   map[uuid.UUID][]models.Discrepancy          // by period
	incidences      map[uuid.UUID]models.Incidence
	resolutions     []models.Resolution
}

func newState() *state {
	return &state{
		periods:         map[uuid.UUID]models.ClosingPeriod{},
		uploads:         map[uuid.UUID]models.SourceUpload{},
		records:         map[uuid.UUID][]models.SourceEmployeeRecord{},
		classifications: map[string]models.ConceptClassification{},
		discrepancies:   map[uuid.UUID][]models.Discrepancy{},
		incidences:      map[uuid.UUID]models.Incidence{},
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.periods {
		c.periods[k] = v
	}
	for k, v := range st.uploads {
		c.uploads[k] = v
	}
	for k, v := range st.records {
		c.records[k] = append([]models.SourceEmployeeRecord(nil), v...)
	}
	for k, v := range st.classifications {
		c.classifications[k] = v
	}
	for k, v := range st.discrepancies {
		c.discrepancies[k] = append([]models.Discrepancy(nil), v...)
	}
	for k, v := range st.incidences {
		c.incidences[k] = v
	}
	c.resolutions = append([]models.Resolution(nil), st.resolutions...)
	return c
}

// Store is safe for concurrent use.
type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
	now  func() time.Time
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState(), now: time.Now}
}

func (s *Store) with(fn func(st *state) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.st)
}

func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	tx := &Store{mu: s.mu, st: snapshot, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = snapshot
	return nil
}

func (s *Store) CreatePeriod(_ context.Context, p *models.ClosingPeriod) error {
	return s.with(func(st *state) error {
		for _, existing := range st.periods {
			if existing.ClientID == p.ClientID && existing.PeriodKey == p.PeriodKey {
				return fmt.Errorf("%w: idx_client_period", repository.ErrDuplicate)
			}
		}
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.CreatedAt = s.now()
		p.UpdatedAt = p.CreatedAt
		st.periods[p.ID] = *p
		return nil
	})
}

func (s *Store) GetPeriod(_ context.Context, id uuid.UUID) (*models.ClosingPeriod, error) {
	var out *models.ClosingPeriod
	err := s.with(func(st *state) error {
		p, ok := st.periods[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (s *Store) LockPeriod(ctx context.Context, id uuid.UUID) (*models.ClosingPeriod, error) {
	return s.GetPeriod(ctx, id)
}

func (s *Store) SavePeriod(_ context.Context, p *models.ClosingPeriod) error {
	return s.with(func(st *state) error {
		p.UpdatedAt = s.now()
		st.periods[p.ID] = *p
		return nil
	})
}

func (s *Store) FindBaselinePeriod(_ context.Context, clientID, beforeKey string, statuses []models.ClosingStatus) (*models.ClosingPeriod, error) {
	var out *models.ClosingPeriod
	err := s.with(func(st *state) error {
		for _, p := range st.periods {
			if p.ClientID != clientID || p.PeriodKey >= beforeKey || !containsStatus(statuses, p.Status) {
				continue
			}
			if out == nil || p.PeriodKey > out.PeriodKey {
				c := p
				out = &c
			}
		}
		return nil
	})
	return out, err
}

func containsStatus(list []models.ClosingStatus, s models.ClosingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Store) CreateUpload(_ context.Context, u *models.SourceUpload) error {
	return s.with(func(st *state) error {
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		u.CreatedAt = s.now()
		st.uploads[u.ID] = *u
		return nil
	})
}

func (s *Store) SaveUpload(_ context.Context, u *models.SourceUpload) error {
	return s.with(func(st *state) error {
		st.uploads[u.ID] = *u
		return nil
	})
}

func (s *Store) GetUpload(_ context.Context, id uuid.UUID) (*models.SourceUpload, error) {
	var out *models.SourceUpload
	err := s.with(func(st *state) error {
		u, ok := st.uploads[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (s *Store) LatestUpload(_ context.Context, periodID uuid.UUID, source models.SourceTag, statuses ...models.UploadStatus) (*models.SourceUpload, error) {
	var out *models.SourceUpload
	err := s.with(func(st *state) error {
		for _, u := range st.uploads {
			if u.ClosingPeriodID != periodID || u.Source != source {
				continue
			}
			if len(statuses) > 0 && !containsUploadStatus(statuses, u.Status) {
				continue
			}
			if out == nil || u.StartedAt.After(out.StartedAt) {
				c := u
				out = &c
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	return out, err
}

func containsUploadStatus(list []models.UploadStatus, s models.UploadStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Store) ReplaceRecords(_ context.Context, periodID uuid.UUID, source models.SourceTag, records []models.SourceEmployeeRecord) error {
	return s.with(func(st *state) error {
		kept := st.records[periodID][:0:0]
		for _, r := range st.records[periodID] {
			if r.Source != source {
				kept = append(kept, r)
			}
		}
		st.records[periodID] = append(kept, records...)
		return nil
	})
}

func (s *Store) ListRecords(_ context.Context, periodID uuid.UUID, source models.SourceTag) ([]models.SourceEmployeeRecord, error) {
	var out []models.SourceEmployeeRecord
	err := s.with(func(st *state) error {
		for _, r := range st.records[periodID] {
			if r.Source == source {
				out = append(out, r)
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].NormalizedIdentifier < out[j].NormalizedIdentifier
		})
		return nil
	})
	return out, err
}

func (s *Store) UpsertClassification(_ context.Context, c *models.ConceptClassification) error {
	return s.with(func(st *state) error {
		key := c.ClientID + "|" + c.NormalizedConcept
		if existing, ok := st.classifications[key]; ok {
			c.ID = existing.ID
		} else if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.UpdatedAt = s.now()
		st.classifications[key] = *c
		return nil
	})
}

func (s *Store) ListClassifications(_ context.Context, clientID string) ([]models.ConceptClassification, error) {
	var out []models.ConceptClassification
	err := s.with(func(st *state) error {
		for _, c := range st.classifications {
			if c.ClientID == clientID {
				out = append(out, c)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].NormalizedConcept < out[j].NormalizedConcept })
		return nil
	})
	return out, err
}

func (s *Store) ReplaceDiscrepancies(_ context.Context, periodID uuid.UUID, a, b models.SourceTag, ds []models.Discrepancy) error {
	return s.with(func(st *state) error {
		kept := make([]models.Discrepancy, 0, len(st.discrepancies[periodID])+len(ds))
		for _, d := range st.discrepancies[periodID] {
			if (d.SourceA == a && d.SourceB == b) || (d.SourceA == b && d.SourceB == a) {
				continue
			}
			kept = append(kept, d)
		}
		st.discrepancies[periodID] = append(kept, ds...)
		return nil
	})
}

func (s *Store) ListDiscrepancies(_ context.Context, periodID uuid.UUID) ([]models.Discrepancy, error) {
	var out []models.Discrepancy
	err := s.with(func(st *state) error {
		out = append(out, st.discrepancies[periodID]...)
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Kind != out[j].Kind {
				return out[i].Kind < out[j].Kind
			}
			return out[i].EmployeeIdentifier < out[j].EmployeeIdentifier
		})
		return nil
	})
	return out, err
}

func (s *Store) CreateIncidence(_ context.Context, inc *models.Incidence) error {
	return s.with(func(st *state) error {
		if inc.ID == uuid.Nil {
			inc.ID = uuid.New()
		}
		inc.CreatedAt = s.now()
		inc.UpdatedAt = inc.CreatedAt
		st.incidences[inc.ID] = *inc
		return nil
	})
}

func (s *Store) SaveIncidence(_ context.Context, inc *models.Incidence) error {
	return s.with(func(st *state) error {
		inc.UpdatedAt = s.now()
		st.incidences[inc.ID] = *inc
		return nil
	})
}

func (s *Store) GetIncidence(_ context.Context, id uuid.UUID) (*models.Incidence, error) {
	var out *models.Incidence
	err := s.with(func(st *state) error {
		inc, ok := st.incidences[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &inc
		return nil
	})
	return out, err
}

func (s *Store) FindIncidenceByHash(_ context.Context, periodID uuid.UUID, hash string) (*models.Incidence, error) {
	return s.findIncidence(func(inc models.Incidence) bool {
		return inc.ClosingPeriodID == periodID && inc.StableHash == hash
	})
}

func (s *Store) FindIncidencesByConcept(_ context.Context, periodID uuid.UUID, kind models.IncidenceKind, conceptName, employee string) ([]models.Incidence, error) {
	var out []models.Incidence
	err := s.with(func(st *state) error {
		for _, inc := range st.incidences {
			if inc.ClosingPeriodID == periodID &&
				inc.Kind == kind &&
				strings.EqualFold(inc.ConceptName, conceptName) &&
				inc.EmployeeIdentifier == employee {
				out = append(out, inc)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

func (s *Store) findIncidence(match func(models.Incidence) bool) (*models.Incidence, error) {
	var out *models.Incidence
	err := s.with(func(st *state) error {
		for _, inc := range st.incidences {
			if !match(inc) {
				continue
			}
			if out == nil || inc.CreatedAt.Before(out.CreatedAt) {
				c := inc
				out = &c
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	return out, err
}

func (s *Store) ListIncidences(_ context.Context, periodID uuid.UUID, filter repository.IncidenceFilter) ([]models.Incidence, error) {
	var out []models.Incidence
	err := s.with(func(st *state) error {
		for _, inc := range st.incidences {
			if inc.ClosingPeriodID != periodID {
				continue
			}
			if filter.Kind != "" && inc.Kind != filter.Kind {
				continue
			}
			if filter.Status != "" && inc.Status != filter.Status {
				continue
			}
			if filter.Cursor != "" && inc.ID.String() <= filter.Cursor {
				continue
			}
			out = append(out, inc)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
		if filter.Limit > 0 && len(out) > filter.Limit {
			out = out[:filter.Limit]
		}
		return nil
	})
	return out, err
}

func (s *Store) CreateResolution(_ context.Context, r *models.Resolution) error {
	return s.with(func(st *state) error {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now()
		}
		st.resolutions = append(st.resolutions, *r)
		return nil
	})
}

func (s *Store) ListResolutions(_ context.Context, incidenceID uuid.UUID) ([]models.Resolution, error) {
	var out []models.Resolution
	err := s.with(func(st *state) error {
		for _, r := range st.resolutions {
			if r.IncidenceID == incidenceID {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) ListPeriodResolutions(_ context.Context, periodID uuid.UUID) ([]models.Resolution, error) {
	var out []models.Resolution
	err := s.with(func(st *state) error {
		for _, r := range st.resolutions {
			if r.ClosingPeriodID == periodID {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}
