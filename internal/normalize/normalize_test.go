package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersonName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Dr. Jane A. Smith", "JANE A SMITH"},
		{"Mr. John Smith Jr", "JOHN SMITH"},
		{"Rev Dr Martin King", "MARTIN KING"},
		{"  mary   jones  ", "MARY JONES"},
		{"Robert O'Brien, Esq", "ROBERT OBRIEN"},
		{"Anne-Marie  Clark III", "ANNE MARIE CLARK"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PersonName(tc.in), "input %q", tc.in)
	}
}

func TestPersonNameDeterministic(t *testing.T) {
	a := PersonName("Dr. Jane Smith Jr")
	b := PersonName("Dr. Jane Smith Jr")
	assert.Equal(t, a, b)
}

func TestOrgName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"The Smith-Jones Foundation, Inc.", "THE SMITH JONES FOUNDATION INC"},
		{"A.B.C.  Charity", "ABC CHARITY"},
		{"  community   trust ", "COMMUNITY TRUST"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, OrgName(tc.in))
	}
}

func TestEIN(t *testing.T) {
	canonical, ok := EIN("30-0219424")
	require.True(t, ok)
	assert.Equal(t, "30-0219424", canonical)

	canonical, ok = EIN("300219424")
	require.True(t, ok)
	assert.Equal(t, "30-0219424", canonical)

	_, ok = EIN("00-1234567") // invalid prefix
	assert.False(t, ok)
	_, ok = EIN("1234")
	assert.False(t, ok)
	_, ok = EIN("30-02194245") // too long
	assert.False(t, ok)

	assert.Equal(t, "300219424", EINDigits("30-0219424"))
	assert.Equal(t, "", EINDigits("garbage"))
}

func TestParseNTEE(t *testing.T) {
	c, ok := ParseNTEE("B25")
	require.True(t, ok)
	assert.Equal(t, "B", c.Major)
	assert.Equal(t, "25", c.Leaf)

	c, ok = ParseNTEE("p20.3")
	require.True(t, ok)
	assert.Equal(t, "P20", c.String())

	_, ok = ParseNTEE("9X")
	assert.False(t, ok)

	assert.True(t, c.MatchesPrefix("P"))
	assert.True(t, c.MatchesPrefix("P20"))
	assert.False(t, c.MatchesPrefix("P21"))
}

func TestNTEEAlignment(t *testing.T) {
	a, _ := ParseNTEE("B25")
	b, _ := ParseNTEE("B25")
	assert.InDelta(t, 1.0, NTEEAlignment(a, b), 1e-9)

	c, _ := ParseNTEE("B21")
	assert.InDelta(t, 0.7, NTEEAlignment(a, c), 1e-9) // shared major + leaf decade

	d, _ := ParseNTEE("B70")
	assert.InDelta(t, 0.4, NTEEAlignment(a, d), 1e-9) // major only

	e, _ := ParseNTEE("P20")
	assert.Zero(t, NTEEAlignment(a, e))
}

func TestStateFromLocation(t *testing.T) {
	st, ok := StateFromLocation("Richmond, VA 23220")
	require.True(t, ok)
	assert.Equal(t, "VA", st)

	st, ok = StateFromLocation("Washington, DC")
	require.True(t, ok)
	assert.Equal(t, "DC", st)

	_, ok = StateFromLocation("Somewhere, ZZ 00000")
	assert.False(t, ok)
	_, ok = StateFromLocation("")
	assert.False(t, ok)
}

func TestRole(t *testing.T) {
	assert.Equal(t, RoleExecutive, Role(RoleInput{Title: "Chief Executive Officer / CEO"}))
	assert.Equal(t, RoleExecutive, Role(RoleInput{Title: "Executive Director"}))
	assert.Equal(t, RoleBoard, Role(RoleInput{Title: "Member", IsDirector: true}))
	assert.Equal(t, RoleBoard, Role(RoleInput{Title: "Board Chair"}))
	assert.Equal(t, RoleStaff, Role(RoleInput{Title: "Accountant", Compensation: 52000}))
	assert.Equal(t, RoleVolunteer, Role(RoleInput{Title: "Helper"}))
}

func TestInfluence(t *testing.T) {
	cfg := DefaultInfluenceConfig()

	// Executive with max comp and hours plus both flags clamps at 1.
	v := Influence(cfg, RoleExecutive, 600000, 60, map[string]bool{
		"is_voting_member": true, "is_policy_maker": true,
	})
	assert.Equal(t, 1.0, v)

	// Unpaid volunteer with nothing else.
	v = Influence(cfg, RoleVolunteer, 0, 0, nil)
	assert.InDelta(t, 0.2, v, 1e-9)

	// Board member, half-time, one flag.
	v = Influence(cfg, RoleBoard, 0, 20, map[string]bool{"is_voting_member": true})
	assert.InDelta(t, 0.7+0.1+0.05, v, 1e-9)

	// Compensation above the ceiling keeps contributing before the
	// final clamp: a $1M staff hire maxes out on pay alone.
	v = Influence(cfg, RoleStaff, 1_000_000, 0, nil)
	assert.Equal(t, 1.0, v)
	v = Influence(cfg, RoleVolunteer, 1_000_000, 0, nil)
	assert.InDelta(t, 0.8, v, 1e-9)
}
