package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/dedupe/internal/dedupe"
)

// jobFile is the YAML form of the run flags. Flags given on the command
// line override it.
//
//	action: remove
//	duplicates: partial
//	id: catalogNumber
//	fields:
//	  locality: verbatimLocality
type jobFile struct {
	Action     string               `yaml:"action"`
	Duplicates string               `yaml:"duplicates"`
	IDField    string               `yaml:"id"`
	Fields     dedupe.PartialFields `yaml:"fields"`
	Output     string               `yaml:"output"`
	Type       string               `yaml:"type"`
	Parallel   int                  `yaml:"parallel"`
}

func loadJobFile(path string) (jobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return jobFile{}, fmt.Errorf("read job file: %w", err)
	}
	return parseJobFile(data)
}

func parseJobFile(data []byte) (jobFile, error) {
	var jf jobFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&jf); err != nil && !errors.Is(err, io.EOF) {
		return jobFile{}, fmt.Errorf("parse job file: %w", err)
	}
	return jf, nil
}

// job validates the action and duplicate types.
func (jf jobFile) job() (dedupe.Job, error) {
	action, err := dedupe.ParseAction(jf.Action)
	if err != nil {
		return dedupe.Job{}, err
	}
	dups, err := dedupe.ParseDuplicateTypes(jf.Duplicates)
	if err != nil {
		return dedupe.Job{}, err
	}
	return dedupe.Job{
		Action:     action,
		Duplicates: dups,
		IDField:    jf.IDField,
		Fields:     jf.Fields,
	}, nil
}
