package query

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Synonym is a one-directional substitution applied when From occurs in a
// name.
type Synonym struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// DefaultSynonyms returns the built-in substitution table.
func DefaultSynonyms() []Synonym {
	return []Synonym{
		{From: "헬스장", To: "피트니스센터"},
		{From: "피트니스센터", To: "헬스장"},
		{From: "짐", To: "헬스장"},
		{From: "gym", To: "fitness center"},
		{From: "fitness center", To: "gym"},
		{From: "퍼스널트레이닝", To: "PT"},
		{From: "PT", To: "퍼스널트레이닝"},
		{From: "필라테스", To: "pilates"},
	}
}

type synonymFile struct {
	Synonyms []Synonym `yaml:"synonyms"`
}

// LoadSynonyms reads a YAML synonym table of the form:
//
//	synonyms:
//	  - from: 헬스장
//	    to: 피트니스센터
func LoadSynonyms(path string) ([]Synonym, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "query: read synonyms %s", path)
	}
	var f synonymFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "query: parse synonyms %s", path)
	}
	for i, s := range f.Synonyms {
		if s.From == "" || s.To == "" {
			return nil, eris.Errorf("query: synonym %d: from and to are required", i)
		}
	}
	return f.Synonyms, nil
}
