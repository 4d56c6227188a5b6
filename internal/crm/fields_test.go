package crm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldExactBeatsSuffixAndSubstring(t *testing.T) {
	p := Payload{
		"emailaddress1":          "exact@example.com",
		"x_emailaddress1":        "suffix@example.com",
		"emailaddress1_previous": "substring@example.com",
	}
	got, ok := p.Field("emailaddress1")
	require.True(t, ok)
	assert.Equal(t, "exact@example.com", got)
}

func TestFieldScansAllPatternsBeforeLooserPass(t *testing.T) {
	// The second pattern matches exactly; the first only by suffix.
	p := Payload{
		"cr123_MobilePhone": "+32 470 00 00 01",
		"telephone1":        "+32 2 000 00 00",
	}
	got, ok := p.Field("mobilephone", "telephone1")
	require.True(t, ok)
	assert.Equal(t, "+32 2 000 00 00", got)
}

func TestFieldSuffixIsCaseInsensitive(t *testing.T) {
	p := Payload{"_prefix_Address1_City": "Gent"}
	got, ok := p.Field("address1_city")
	require.True(t, ok)
	assert.Equal(t, "Gent", got)
}

func TestFieldSubstringIsLastResort(t *testing.T) {
	p := Payload{"gd_utmcampaign_text": "gh17"}
	got, ok := p.Field("gd_utmcampaign")
	require.True(t, ok)
	assert.Equal(t, "gh17", got)
}

func TestFieldSkipsNullAndEmpty(t *testing.T) {
	p := Payload{"fullname": nil, "x_fullname": "", "yfullname": "Ann"}
	got, ok := p.Field("fullname")
	require.True(t, ok)
	assert.Equal(t, "Ann", got)

	_, ok = Payload{"fullname": nil}.Field("fullname")
	assert.False(t, ok)
}

func TestFieldPriorityIsDeterministic(t *testing.T) {
	p := Payload{
		"gd_utmcampaign":       "gh17",
		"msdynmkt_utmcampaign": "gh22",
	}
	for i := 0; i < 50; i++ {
		got, ok := p.Field("gd_utmcampaign", "msdynmkt_utmcampaign")
		require.True(t, ok)
		require.Equal(t, "gh17", got)
	}
	got, ok := p.Field("msdynmkt_utmcampaign", "gd_utmcampaign")
	require.True(t, ok)
	assert.Equal(t, "gh22", got)
}

func TestStringifyKeepsJSONNumberText(t *testing.T) {
	records, err := DecodePayloads(json.RawMessage(`{"estimatedvalue": 12500.50, "statecode": 0, "flag": true}`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	got, _ := records[0].Field("estimatedvalue")
	assert.Equal(t, "12500.50", got)
	got, _ = records[0].Field("statecode")
	assert.Equal(t, "0", got)
	got, _ = records[0].Field("flag")
	assert.Equal(t, "true", got)
}

func TestDisplayPrefersFormattedValue(t *testing.T) {
	p := Payload{
		"gmi_country":                 "9f1c-guid",
		"gmi_country" + DisplaySuffix: "Belgium",
	}
	value, matched, ok := Resolve(p, Display("gmi_country"))
	require.True(t, ok)
	assert.Equal(t, "Belgium", value)
	assert.Equal(t, "display(gmi_country)", matched)
}

func TestDisplayUsesLookupVariants(t *testing.T) {
	p := Payload{"_ownerid_value" + DisplaySuffix: "Sam Owner", "_ownerid_value": "guid-1"}
	value, _, ok := Resolve(p, Display("ownerid"))
	require.True(t, ok)
	assert.Equal(t, "Sam Owner", value)

	p = Payload{"_ownerid_value": "guid-1"}
	value, _, ok = Resolve(p, Display("ownerid"))
	require.True(t, ok)
	assert.Equal(t, "guid-1", value)
}

func TestDisplayFieldFallsBackToResolver(t *testing.T) {
	p := Payload{"x_statecode": "1"}
	value, _, ok := Resolve(p, DisplayField("statecode"))
	require.True(t, ok)
	assert.Equal(t, "1", value)

	_, _, ok = Resolve(p, Display("statecode"))
	assert.False(t, ok, "display does not run the loose passes")
}

func TestResolveReportsWinningLookup(t *testing.T) {
	p := Payload{"address1_country": "Belgium"}
	value, matched, ok := Resolve(p, Display("gmi_country"), Field("address1_country"))
	require.True(t, ok)
	assert.Equal(t, "Belgium", value)
	assert.Equal(t, "field(address1_country)", matched)
}

func TestNumberParsesOrYieldsNil(t *testing.T) {
	assert.Nil(t, Number(Payload{"estimatedvalue": "n/a"}, Field("estimatedvalue")))
	assert.Nil(t, Number(Payload{"estimatedvalue": "NaN"}, Field("estimatedvalue")))
	assert.Nil(t, Number(Payload{}, Field("estimatedvalue")))
	got := Number(Payload{"estimatedvalue": json.Number("1999.99")}, Field("estimatedvalue"))
	require.NotNil(t, got)
	assert.InDelta(t, 1999.99, *got, 0.0001)
}

func TestDecodePayloadsShapes(t *testing.T) {
	records, err := DecodePayloads(json.RawMessage(`[{"leadid":"L1"},{"leadid":"L2"}]`))
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = DecodePayloads(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = DecodePayloads(nil)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = DecodePayloads(json.RawMessage(`[1, 2]`))
	assert.Error(t, err)
}
