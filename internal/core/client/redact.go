package client

import (
	"errors"
	"net/url"
)

const redactedValue = "REDACTED"

// RedactURL replaces the values of the named query parameters (the API key by default)
// so the URL can be logged.
func RedactURL(raw string, params ...string) string {
	if len(params) == 0 {
		params = []string{DefaultAPIKeyParam}
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[unparseable url]"
	}

	query := parsed.Query()
	changed := false
	for _, param := range params {
		if _, ok := query[param]; ok {
			query.Set(param, redactedValue)
			changed = true
		}
	}
	if parsed.User != nil {
		parsed.User = url.User(redactedValue)
		changed = true
	}
	if changed {
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

// redactError rewrites the URL carried by transport errors.
func redactError(err error, redacted string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = redacted
	}
	return err
}
