package patient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a patient. The MRN is generated when not supplied; NIK
// (the national identity number) is stored only as a hash.
func (s *Service) Register(ctx context.Context, p *Patient, nik string) error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if p.MRN == "" {
		p.MRN = newMRN()
	}
	if nik != "" {
		h := hashNIK(nik)
		p.NIKHash = &h
	}
	p.Active = true
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return s.repo.GetByMRN(ctx, mrn)
}

func (s *Service) Update(ctx context.Context, p *Patient) error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Search(ctx context.Context, name string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, name, limit, offset)
}

func newMRN() string {
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("MRN-%s-%s", time.Now().UTC().Format("20060102"), suffix)
}

func hashNIK(nik string) string {
	sum := sha256.Sum256([]byte(nik))
	return hex.EncodeToString(sum[:])
}
