// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voiceorc/internal/commons"
)

func TestCurrencyNormalizer(t *testing.T) {
	n := NewCurrencyNormalizer(commons.NewNop())

	cases := []struct{ in, want string }{
		{"The price is $10.50", "The price is ten dollars and fifty cents"},
		{"Total cost: $1,234.56", "Total cost: one thousand two hundred thirty-four dollars and fifty-six cents"},
		{"That costs $100.00", "That costs one hundred dollars and zero cents"},
		{"Price is $50", "Price is $50"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, n.Normalize(c.in), c.in)
	}
}

func TestDateNormalizer(t *testing.T) {
	n := NewDateNormalizer(commons.NewNop())

	cases := []struct{ in, want string }{
		{"Meeting on 2024-01-15", "Meeting on January 15, 2024"},
		{"Date: 15/01/2024", "Date: January 15, 2024"},
		{"Due: 25-12-2024", "Due: December 25, 2024"},
		{"Created: 2024.06.30", "Created: June 30, 2024"},
		{"No date here", "No date here"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, n.Normalize(c.in), c.in)
	}
}

func TestTimeNormalizer(t *testing.T) {
	n := NewTimeNormalizer(commons.NewNop())

	cases := []struct{ in, want string }{
		{"Meeting at 12:00", "Meeting at 12:00 PM"},
		{"Call at 14:30", "Call at 2:30 PM"},
		{"Wake up at 07:00", "Wake up at 7:00 AM"},
		{"Event at 00:00", "Event at 12:00 AM"},
		{"Time is 25:00", "Time is 25:00"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, n.Normalize(c.in), c.in)
	}
}

func TestNumberToWordNormalizer(t *testing.T) {
	n := NewNumberToWordNormalizer(commons.NewNop())

	cases := []struct{ in, want string }{
		{"I have 5 apples", "I have five apples"},
		{"There are 15 students", "There are fifteen students"},
		{"He is 20 years old", "He is twenty years old"},
		{"We need 42 items", "We need forty-two items"},
		{"Score is 0", "Score is zero"},
		{"Population is 100", "Population is 100"},
		{"item1 2items 3", "item1 2items three"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, n.Normalize(c.in), c.in)
	}
}

func TestAddressNormalizer(t *testing.T) {
	n := NewAddressNormalizer(commons.NewNop())

	cases := []struct{ in, want string }{
		{"123 Main St", "123 Main street"},
		{"456 Park Ave", "456 Park avenue"},
		{"789 Oak Rd", "789 Oak road"},
		{"123 MAIN ST", "123 MAIN street"},
		{"First place", "First place"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, n.Normalize(c.in), c.in)
	}
}

func TestUrlNormalizer(t *testing.T) {
	n := NewUrlNormalizer(commons.NewNop())

	cases := []struct{ in, want string }{
		{"Visit https://example.com", "Visit https://example dot com"},
		{"www.google.com", "www dot google dot com"},
		{"Link: https://site.io/path", "Link: https://site dot io/path"},
		{"No URL here", "No URL here"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, n.Normalize(c.in), c.in)
	}
}

func TestSymbolNormalizer(t *testing.T) {
	n := NewSymbolNormalizer(commons.NewNop())

	assert.Equal(t, "Growth is 25 percent", n.Normalize("Growth is 25%"))
	assert.Contains(t, n.Normalize("Temperature is 25℃"), "degrees celsius")
	assert.Equal(t, "Plain text here", n.Normalize("Plain text here"))
	assert.Equal(t, "", n.Normalize(""))
}

func TestTechAbbreviationNormalizer(t *testing.T) {
	n := NewTechAbbreviationNormalizer(commons.NewNop())

	assert.Equal(t, "We use A I for automation", n.Normalize("We use AI for automation"))
	assert.Equal(t, "The A P I is ready", n.Normalize("The API is ready"))
	assert.Equal(t, "Using dev ops pipelines", n.Normalize("Using DevOps pipelines"))
	assert.Equal(t, "Plain text only", n.Normalize("Plain text only"))
}

func TestRoleAbbreviationNormalizer(t *testing.T) {
	n := NewRoleAbbreviationNormalizer(commons.NewNop())

	assert.Equal(t, "The C E O announced", n.Normalize("The CEO announced"))
	assert.Equal(t, "Talk to the V P", n.Normalize("Talk to the VP"))
	assert.Equal(t, "Regular text here", n.Normalize("Regular text here"))
}

func TestGeneralAbbreviationNormalizer(t *testing.T) {
	n := NewGeneralAbbreviationNormalizer(commons.NewNop())

	assert.Equal(t, "Doctor Smith is here", n.Normalize("Dr. Smith is here"))
	assert.Equal(t, "Mister and Missus Jones", n.Normalize("Mr. and Mrs. Jones"))
	assert.Equal(t, "apples, oranges, etcetera", n.Normalize("apples, oranges, etc."))
	assert.Equal(t, "Team A versus Team B", n.Normalize("Team A vs. Team B"))
	assert.Equal(t, "Normal sentence here", n.Normalize("Normal sentence here"))
}

func TestBuildPipelineSkipsUnknownNames(t *testing.T) {
	pipeline := BuildPipeline(commons.NewNop(), []string{"currency", "bogus", "number"})
	require.Len(t, pipeline, 2)
}

func TestApplyRunsPipelineInOrder(t *testing.T) {
	pipeline := BuildPipeline(commons.NewNop(), DefaultPipelineNames)
	result := Apply(pipeline, "Dr. Smith's CEO meeting costs $10.50 at 14:30 on 2024-01-15")
	assert.NotContains(t, result, "$")
	assert.Contains(t, result, "Doctor")
}
