package query

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "스포애니 강남점", "스포애니 강남점"},
		{"corporate prefix", "(주)바디텍 피트니스", "바디텍 피트니스"},
		{"corporate word", "주식회사 짐박스", "짐박스"},
		{"latin suffix", "Gold Gym Co., Ltd.", "Gold Gym"},
		{"punctuation", "에이블짐!! [역삼]", "에이블짐 역삼"},
		{"fullwidth", "ＧＹＭ　２４", "GYM 24"},
		{"only punctuation", "!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestExpand(t *testing.T) {
	t.Parallel()

	e := NewExpander(Config{})

	t.Run("branch and keyword variants", func(t *testing.T) {
		t.Parallel()
		got := e.Expand("(주)스포애니 강남점")
		require.NotEmpty(t, got)
		assert.Equal(t, "스포애니 강남점", got[0])
		assert.Contains(t, got, "스포애니 강남점 헬스장")
		assert.Contains(t, got, "스포애니 헬스장")
		assert.Contains(t, got, "스포애니")
	})

	t.Run("synonym substitution", func(t *testing.T) {
		t.Parallel()
		got := e.Expand("강남 헬스장")
		assert.Equal(t, "강남 헬스장", got[0])
		assert.Contains(t, got, "강남 피트니스센터")
		assert.NotContains(t, got, "강남 헬스장 헬스장")
	})

	t.Run("case insensitive latin synonym", func(t *testing.T) {
		t.Parallel()
		got := e.Expand("Gold Gym Gangnam branch")
		assert.Contains(t, got, "Gold fitness center Gangnam branch")
		assert.Contains(t, got, "Gold Gym")
	})

	t.Run("deduplicated", func(t *testing.T) {
		t.Parallel()
		got := e.Expand("헬스장")
		seen := map[string]bool{}
		for _, q := range got {
			assert.False(t, seen[q], "duplicate %q", q)
			seen[q] = true
		}
	})

	t.Run("degenerate input", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []string{"!!!"}, e.Expand("  !!!  "))
		assert.Equal(t, []string{""}, e.Expand(""))
	})

	t.Run("capped", func(t *testing.T) {
		t.Parallel()
		small := NewExpander(Config{MaxQueries: 2})
		assert.Len(t, small.Expand("강남 헬스장 PT 강남점"), 2)
	})
}

func TestStripBranch(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "에이블짐", StripBranch("에이블짐 역삼2호점"))
	assert.Equal(t, "에이블짐", StripBranch("에이블짐 역삼지점"))
	assert.Equal(t, "강남점", StripBranch("강남점"))
	assert.Equal(t, "에이블짐", StripBranch("에이블짐"))
}

func TestLoadSynonyms(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("synonyms:\n  - from: 크로스핏\n    to: crossfit\n"), 0o644))

	syns, err := LoadSynonyms(path)
	require.NoError(t, err)
	require.Len(t, syns, 1)
	assert.Equal(t, Synonym{From: "크로스핏", To: "crossfit"}, syns[0])

	e := NewExpander(Config{Synonyms: syns})
	assert.Contains(t, e.Expand("강남 크로스핏"), "강남 crossfit")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("synonyms:\n  - from: x\n"), 0o644))
	_, err = LoadSynonyms(bad)
	assert.Error(t, err)

	_, err = LoadSynonyms(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
