package billing

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Plans []PlanDefinition `yaml:"plans"`
}

// LoadPlanDefinitions decodes a YAML catalog document:
//
//	plans:
//	  - slug: pro
//	    name: Pro
//	    metadata:
//	      features: [api, sso]
//	      limits: {projects: 50, members: -1}
//	    prices:
//	      - {amount: 2900, currency: usd, interval: month}
//	      - {amount: 29000, currency: usd, interval: year}
//
// Every definition is validated; the first invalid one fails the load.
func LoadPlanDefinitions(r io.Reader) ([]PlanDefinition, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Join(ErrInvalidPlanDefinition, fmt.Errorf("failed to decode catalog: %w", err))
	}

	for _, def := range file.Plans {
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Plans, nil
}

// LoadPlanDefinitionsFile reads plan definitions from a YAML file on disk.
func LoadPlanDefinitionsFile(path string) ([]PlanDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()

	return LoadPlanDefinitions(f)
}
