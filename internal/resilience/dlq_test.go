package resilience

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/venue-fusion/internal/model"
)

func TestDLQEntry_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"below max", 0, 3, true},
		{"at max", 3, 3, false},
		{"above max", 5, 3, false},
		{"one below max", 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DLQEntry{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
			assert.Equal(t, tt.want, e.CanRetry())
		})
	}
}

func TestNewDLQEntry(t *testing.T) {
	ent := model.Entity{Name: "에이블짐 역삼점", Address: "서울 강남구"}
	e := NewDLQEntry(ent, "run-1", "kakao_local", errors.New("i/o timeout"), 3)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, ent, e.Entity)
	assert.Equal(t, TypeTimeout, e.ErrorType)
	assert.Equal(t, "i/o timeout", e.Error)
	assert.Equal(t, "run-1", e.RunID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.True(t, e.CanRetry())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, TypeUnknown, ClassifyError(nil))
	assert.Equal(t, TypeNetwork, ClassifyError(errors.New("connection reset by peer")))
}
