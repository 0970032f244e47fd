package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                 "/",
		"/metrics":                         "/metrics",
		"/v1/resources/abc":                "/v1/resources/:id",
		"/v1/resources/abc/grants":         "/v1/resources/:id/grants",
		"/v1/groups/requests":              "/v1/groups/requests",
		"/v1/groups/requests/r-1/decision": "/v1/groups/requests/:id/decision",
		"/v1/users/u-9/password":           "/v1/users/:id/password",
		"/oauth2/token":                    "/oauth2/token",
		"/v1/roles/role-3/privileges?x=1":  "/v1/roles/:id/privileges",
		"/oauth2/introspect":               "/oauth2/introspect",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
