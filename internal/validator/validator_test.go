package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatorCollectsFirstErrorPerField(t *testing.T) {
	v := New()
	v.Check(false, "title", "must be provided")
	v.Check(false, "title", "second message is ignored")
	v.Check(true, "author", "never recorded")

	assert.False(t, v.Valid())
	assert.Equal(t, map[string]string{"title": "must be provided"}, v.Errors)
}

func TestISBNPattern(t *testing.T) {
	valid := []string{"9780134190440", "9791234567890"}
	invalid := []string{"", "978013419044", "97801341904401", "978013419044X", "978-0134190440"}

	for _, s := range valid {
		assert.True(t, Matches(s, ISBNRX), "expected %q to match", s)
	}
	for _, s := range invalid {
		assert.False(t, Matches(s, ISBNRX), "expected %q not to match", s)
	}
}

func TestEmailPattern(t *testing.T) {
	assert.True(t, Matches("reader@example.com", EmailRX))
	assert.False(t, Matches("not-an-email", EmailRX))
	assert.False(t, Matches("@example.com", EmailRX))
}

func TestIn(t *testing.T) {
	assert.True(t, In("ACTIVE", "ACTIVE", "RETURNED"))
	assert.False(t, In("LOST", "ACTIVE", "RETURNED"))
}
