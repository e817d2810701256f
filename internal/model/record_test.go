package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDemodulize(t *testing.T) {
	assert.Equal(t, "User", Demodulize("Legacy::User"))
	assert.Equal(t, "Item", Demodulize("Old::Shop::Item"))
	assert.Equal(t, "Plain", Demodulize("Plain"))
}

func TestRecordFields(t *testing.T) {
	r := &Record{Class: "User"}
	assert.True(t, r.IsNew())
	assert.Nil(t, r.Get("name"))

	r.Set("name", "ada")
	r.Set("age", int32(36))
	assert.Equal(t, "ada", r.Get("name"))

	age, ok := r.Int64("age")
	assert.True(t, ok)
	assert.EqualValues(t, 36, age)

	_, ok = r.Int64("missing")
	assert.False(t, ok)

	r.ID = 7
	assert.False(t, r.IsNew())
	assert.Equal(t, "User#7", r.String())
}

func TestToInt64(t *testing.T) {
	for _, v := range []any{int64(5), 5, int32(5), []byte("5"), "5", float64(5)} {
		n, err := ToInt64(v)
		assert.NoError(t, err)
		assert.EqualValues(t, 5, n)
	}

	_, err := ToInt64(1.5)
	assert.Error(t, err)
	_, err = ToInt64(nil)
	assert.Error(t, err)
	_, err = ToInt64(true)
	assert.Error(t, err)
}

func TestFieldNamesSkipsPrimaryKey(t *testing.T) {
	r := New("User")
	r.Set("zeta", 1)
	r.Set(PrimaryKey, 3)
	r.Set("alpha", 2)
	assert.Equal(t, []string{"alpha", "zeta"}, r.FieldNames())
}
