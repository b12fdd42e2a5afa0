package ocr

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	blob := strings.Repeat("QUJD", 30)
	cases := []struct {
		in, want string
	}{
		{"plain failure", "plain failure"},
		{"bad input data:image/png;base64,iVBORw0KGgo= here", "bad input [IMAGE_DATA] here"},
		{"payload " + blob + " end", "payload [SENSITIVE_DATA] end"},
		{"short QUJD stays", "short QUJD stays"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Sanitize(tc.in))
	}
	long := strings.Repeat("x ", 400)
	assert.LessOrEqual(t, len([]rune(Sanitize(long))), maxMessageLen+3)
}

func TestCandidates(t *testing.T) {
	names := []string{
		"Rent/Mortgage", "rent/mortgage", "Dining  Out", "Fun 🎉", "<script>", "",
		strings.Repeat("a", 60),
	}
	got := Candidates(names)
	assert.Equal(t, []string{"Rent/Mortgage", "Dining Out", "Fun", "script", strings.Repeat("a", MaxCandidateLen)}, got)

	var many []string
	for i := 0; i < 100; i++ {
		many = append(many, fmt.Sprintf("Category %d", i))
	}
	assert.Len(t, Candidates(many), MaxCandidates)
}

func TestErrorCodes(t *testing.T) {
	err := fmt.Errorf("scan: %w", NewError(CodeTimeout, errors.New("deadline")))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrImageNotFound)
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.Equal(t, CodeServerError, CodeOf(errors.New("boom")))
	assert.Equal(t, "SCAN_TIMEOUT: deadline", Describe(err))
	assert.Equal(t, "SCAN_SERVER_ERROR: boom", Describe(errors.New("boom")))
}

func TestMatchCategory(t *testing.T) {
	c := []string{"Groceries", "Dining Out"}
	assert.Equal(t, "Dining Out", MatchCategory(" dining out ", c))
	assert.Equal(t, "", MatchCategory("Travel", c))
}
