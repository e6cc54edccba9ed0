package config

import (
	"os"

	"gopkg.in/yaml.v3"

	ierr "github.com/angelcm/admira-attribution/internal/errors"
	"github.com/angelcm/admira-attribution/internal/rates"
	"github.com/angelcm/admira-attribution/internal/valuation"
)

// Rates is the content of the rates file: cohort segments, fallback rates, list prices
// and value windows.
type Rates struct {
	Cohorts rates.Table       `yaml:"cohorts"`
	Prices  []valuation.Price `yaml:"prices" validate:"dive"`
	Windows valuation.Windows `yaml:"windows"`
}

func DefaultRates() Rates {
	return Rates{
		Cohorts: rates.Table{Defaults: rates.DefaultRates},
		Windows: valuation.DefaultWindows,
	}
}

// LoadRates reads the rates file. An empty path yields the built-in defaults; keys missing
// from the file keep their default values.
func LoadRates(path string) (Rates, error) {
	r := DefaultRates()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rates{}, ierr.WithError(err).WithHintf("rates file %s", path).Mark(ierr.ErrValidation)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rates{}, ierr.WithError(err).WithHintf("rates file %s is not valid YAML", path).Mark(ierr.ErrValidation)
	}
	if err := validate.Struct(r); err != nil {
		return Rates{}, ierr.WithError(err).WithHintf("rates file %s", path).Mark(ierr.ErrValidation)
	}
	return r, nil
}
