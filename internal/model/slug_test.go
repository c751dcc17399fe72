package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"main", "main"},
		{"feature/new-docs", "feature-new-docs"},
		{"v1.2.3", "v1.2.3"},
		{"Release Candidate", "release-candidate"},
		{"añejo", "anejo"},
		{"refs//weird///name", "refs-weird-name"},
		{"trailing/", "trailing"},
		{"_private", "_private"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Slugify(c.in), "input %q", c.in)
	}
}

func TestSlugifyStable(t *testing.T) {
	assert.Equal(t, Slugify("feature/docs"), Slugify("feature/docs"))
}

func TestVersionHelpers(t *testing.T) {
	v := &Version{Type: VersionTypeExternal, State: VersionStateOpen}
	assert.True(t, v.IsExternal())
	assert.False(t, (&Version{Type: VersionTypeBranch}).IsExternal())

	b := &Build{State: BuildStateBuilding}
	assert.False(t, b.Finished())
	b.State = BuildStateFinished
	assert.True(t, b.Finished())

	i := &Integration{Secret: "s"}
	assert.True(t, i.HasSecret())
	assert.False(t, (&Integration{}).HasSecret())
}
