package reconciler

import (
	"testing"

	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestClassifyMarkers(t *testing.T) {
	cases := []struct {
		status string
		want   Category
	}{
		{"Řízení nebylo nalezeno", CategoryNotFound},
		{"bez úvodních nul", CategoryNotFound},
		{"Žádost se zpracovává se", CategoryInProgress},
		{"v-prubehu-rizeni", CategoryInProgress},
		{"Řízení bylo povoleno", CategoryApproved},
		{"rizeni-povoleno", CategoryApproved},
		{"Řízení bylo nepovoleno", CategoryDenied},
		{"úřad zamítlo žádost", CategoryDenied},
		{"řízení zastavilo", CategoryDenied},
		{"ERROR: timeout", CategoryError},
		{"something entirely unrecognized", CategoryUnknown},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.status), "status=%q", c.status)
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	assert.Equal(t, CategoryNotFound, Classify("nebylo nalezeno but also ERROR"))
}

func TestCategoryState(t *testing.T) {
	assert.Equal(t, model.StateNotFound, CategoryNotFound.State())
	assert.Equal(t, model.StateInProgress, CategoryInProgress.State())
	assert.Equal(t, model.StateApproved, CategoryApproved.State())
	assert.Equal(t, model.StateDenied, CategoryDenied.State())
	assert.Equal(t, model.StateUnknown, CategoryError.State())
	assert.Equal(t, model.StateUnknown, CategoryUnknown.State())
}

func TestCategoryIsTerminal(t *testing.T) {
	assert.True(t, CategoryApproved.IsTerminal())
	assert.True(t, CategoryDenied.IsTerminal())
	assert.False(t, CategoryInProgress.IsTerminal())
	assert.False(t, CategoryNotFound.IsTerminal())
}
