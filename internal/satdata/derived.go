package satdata

import (
	"fmt"

	"github.com/IWF-helio/PREDSTORM/internal/indices"
)

// ComputeBtot stores the field magnitude of bx, by and bz as btot.
func (s *Series) ComputeBtot() error {
	bx, err := s.Get(VarBx)
	if err != nil {
		return fmt.Errorf("compute btot: %w", err)
	}
	by, err := s.Get(VarBy)
	if err != nil {
		return fmt.Errorf("compute btot: %w", err)
	}
	bz, err := s.Get(VarBz)
	if err != nil {
		return fmt.Errorf("compute btot: %w", err)
	}
	s.data[VarBtot] = indices.Btot(bx, by, bz)
	return nil
}

// ComputePdyn stores the dynamic pressure from density and speed as pdyn.
func (s *Series) ComputePdyn() error {
	n, err := s.Get(VarDensity)
	if err != nil {
		return fmt.Errorf("compute pdyn: %w", err)
	}
	v, err := s.Get(VarSpeed)
	if err != nil {
		return fmt.Errorf("compute pdyn: %w", err)
	}
	s.data[VarPdyn] = indices.Pdyn(n, v)
	return nil
}
