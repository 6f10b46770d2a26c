package channel

import (
	"testing"

	"github.com/HolbyKate/cooptme/pkg/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageURL = "https://www.linkedin.com/in/jdoe/"

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		wantKind   Kind
		wantReason plugin.FailureReason
		terminal   bool
	}{
		{name: "not json", message: "{not json", wantKind: KindError, wantReason: plugin.ReasonMalformedMessage, terminal: true},
		{name: "empty", message: "", wantKind: KindError, wantReason: plugin.ReasonMalformedMessage, terminal: true},
		{name: "json array", message: `[1,2]`, wantKind: KindError, wantReason: plugin.ReasonMalformedMessage, terminal: true},
		{name: "json null", message: `null`, wantKind: KindError, wantReason: plugin.ReasonMalformedMessage, terminal: true},
		{name: "type not a string", message: `{"type": 3}`, wantKind: KindError, wantReason: plugin.ReasonMalformedMessage, terminal: true},
		{name: "page state logged in", message: `{"type":"PAGE_STATE","loggedIn":true}`, wantKind: KindPageState},
		{name: "page state logged out", message: `{"type":"PAGE_STATE","loggedIn":false}`, wantKind: KindPageState},
		{name: "legacy auth status", message: `{"type":"AUTH_STATUS","isLoggedIn":true}`, wantKind: KindPageState},
		{name: "legacy login page", message: `{"type":"LOGIN_PAGE"}`, wantKind: KindPageState},
		{name: "extraction error", message: `{"type":"EXTRACTION_ERROR","error":"x"}`, wantKind: KindError, wantReason: plugin.ReasonElementsNotFound, terminal: true},
		{name: "legacy scraping error", message: `{"type":"SCRAPING_ERROR","error":"boom"}`, wantKind: KindError, wantReason: plugin.ReasonElementsNotFound, terminal: true},
		{name: "legacy untyped error", message: `{"error":"Required elements not found"}`, wantKind: KindError, wantReason: plugin.ReasonElementsNotFound, terminal: true},
		{name: "profile data", message: `{"type":"PROFILE_DATA","profile":{"firstName":"Jane","lastName":"Doe","title":"Engineer","profileUrl":"https://linkedin.com/in/jdoe"}}`, wantKind: KindData, terminal: true},
		{name: "profile data with full name", message: `{"type":"PROFILE_DATA","profile":{"fullName":"Jane Doe"}}`, wantKind: KindData, terminal: true},
		{name: "legacy untyped profile", message: `{"firstName":"Jane","lastName":"Doe","profileUrl":"https://linkedin.com/in/jdoe","id":"li_1"}`, wantKind: KindData, terminal: true},
		{name: "profile data without profile", message: `{"type":"PROFILE_DATA"}`, wantKind: KindError, wantReason: plugin.ReasonMissingRequiredFields, terminal: true},
		{name: "profile data with null profile", message: `{"type":"PROFILE_DATA","profile":null}`, wantKind: KindError, wantReason: plugin.ReasonMissingRequiredFields, terminal: true},
		{name: "profile data without name", message: `{"type":"PROFILE_DATA","profile":{"title":"Engineer"}}`, wantKind: KindError, wantReason: plugin.ReasonMissingRequiredFields, terminal: true},
		{name: "profile data with blank name", message: `{"type":"PROFILE_DATA","profile":{"fullName":"   "}}`, wantKind: KindError, wantReason: plugin.ReasonMissingRequiredFields, terminal: true},
		{name: "profile is a string", message: `{"type":"PROFILE_DATA","profile":"Jane Doe"}`, wantKind: KindError, wantReason: plugin.ReasonMalformedMessage, terminal: true},
		{name: "profile field of wrong type", message: `{"type":"PROFILE_DATA","profile":{"firstName":42}}`, wantKind: KindError, wantReason: plugin.ReasonMalformedMessage, terminal: true},
		{name: "unknown type", message: `{"type":"SCROLL","y":200}`, wantKind: KindIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.message, pageURL)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Equal(t, tt.terminal, got.Terminal())
		})
	}
}

func TestClassify_PageStateLoggedIn(t *testing.T) {
	assert.True(t, Classify(`{"type":"PAGE_STATE","loggedIn":true}`, pageURL).LoggedIn)
	assert.False(t, Classify(`{"type":"PAGE_STATE","loggedIn":false}`, pageURL).LoggedIn)
	assert.False(t, Classify(`{"type":"PAGE_STATE"}`, pageURL).LoggedIn)
	assert.True(t, Classify(`{"type":"AUTH_STATUS","isLoggedIn":true}`, pageURL).LoggedIn)
	assert.False(t, Classify(`{"type":"LOGIN_PAGE","loggedIn":true}`, pageURL).LoggedIn)
}

func TestClassify_Payload(t *testing.T) {
	t.Run("fields are carried over", func(t *testing.T) {
		got := Classify(`{"type":"PROFILE_DATA","profile":{"firstName":"Jane","lastName":"Doe","title":"Engineer","company":"Acme","location":"Paris","profileUrl":"https://linkedin.com/in/jdoe"}}`, pageURL)
		require.Equal(t, KindData, got.Kind)
		require.NotNil(t, got.Raw)
		assert.Equal(t, plugin.RawExtractionPayload{
			FirstName:  "Jane",
			LastName:   "Doe",
			Title:      "Engineer",
			Company:    "Acme",
			Location:   "Paris",
			ProfileURL: "https://linkedin.com/in/jdoe",
		}, *got.Raw)
	})

	t.Run("profile URL falls back to page location", func(t *testing.T) {
		got := Classify(`{"type":"PROFILE_DATA","profile":{"fullName":"Jane Doe"}}`, pageURL)
		require.Equal(t, KindData, got.Kind)
		assert.Equal(t, pageURL, got.Raw.ProfileURL)
	})

	t.Run("no URL anywhere", func(t *testing.T) {
		got := Classify(`{"type":"PROFILE_DATA","profile":{"fullName":"Jane Doe"}}`, "")
		assert.Equal(t, KindError, got.Kind)
		assert.Equal(t, plugin.ReasonMissingRequiredFields, got.Reason)
	})

	t.Run("blank page location", func(t *testing.T) {
		got := Classify(`{"type":"PROFILE_DATA","profile":{"fullName":"Jane Doe"}}`, "about:blank")
		assert.Equal(t, plugin.ReasonMissingRequiredFields, got.Reason)
	})

	t.Run("unusable payload URL", func(t *testing.T) {
		for _, profileURL := range []string{"javascript:void(0)", "ftp://x.com/in/a", "mailto:a@b.c"} {
			msg := `{"type":"PROFILE_DATA","profile":{"fullName":"Jane Doe","profileUrl":"` + profileURL + `"}}`

			got := Classify(msg, "")
			assert.Equal(t, KindError, got.Kind, profileURL)
			assert.Equal(t, plugin.ReasonMissingRequiredFields, got.Reason, profileURL)

			got = Classify(msg, "about:blank")
			assert.Equal(t, plugin.ReasonMissingRequiredFields, got.Reason, profileURL)

			got = Classify(msg, pageURL)
			require.Equal(t, KindData, got.Kind, profileURL)
			assert.Equal(t, pageURL, got.Raw.ProfileURL, profileURL)
		}
	})

	t.Run("scheme-less payload URL is kept", func(t *testing.T) {
		got := Classify(`{"type":"PROFILE_DATA","profile":{"fullName":"Jane Doe","profileUrl":"linkedin.com/in/jdoe"}}`, pageURL)
		require.Equal(t, KindData, got.Kind)
		assert.Equal(t, "linkedin.com/in/jdoe", got.Raw.ProfileURL)
	})

	t.Run("error detail is kept", func(t *testing.T) {
		got := Classify(`{"type":"EXTRACTION_ERROR","error":"Required elements not found"}`, pageURL)
		assert.Equal(t, "Required elements not found", got.Detail)
	})
}

func TestClassify_Repeatable(t *testing.T) {
	msg := `{"type":"PROFILE_DATA","profile":{"fullName":"Jane Doe"}}`
	first := Classify(msg, pageURL)
	second := Classify(msg, pageURL)
	assert.Equal(t, first, second)
}
